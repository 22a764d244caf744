// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/uoe-chat/internal/api"
	"github.com/jeranaias/uoe-chat/internal/model"
)

// ErrUnknownMessage is returned when feedback targets a message not in the conversation.
var ErrUnknownMessage = errors.New("unknown message")

// Feedback toggles a vote on an assistant message and, when the message has a
// backend run id and a vote remains, reports it. The local vote is recorded
// first and kept even if the submission fails.
func (o *Orchestrator) Feedback(ctx context.Context, messageID string, vote model.Vote) (model.Vote, error) {
	msg, ok := o.store.Message(messageID)
	if !ok || !msg.IsAssistant() {
		return model.VoteNone, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}

	result := o.store.SetFeedback(messageID, vote)
	if msg.RunID == "" || result == model.VoteNone {
		return result, nil
	}

	_, err := o.client.SubmitFeedback(ctx, api.FeedbackRequest{
		RunID: msg.RunID,
		Score: result.Score(),
	})
	if err != nil {
		o.metrics.FeedbackSubmitted.WithLabelValues(string(result), "error").Inc()
		o.logger.Warn("feedback submission failed", zap.String("run_id", msg.RunID), zap.Error(err))
		return result, fmt.Errorf("feedback submission failed: %w", err)
	}
	o.metrics.FeedbackSubmitted.WithLabelValues(string(result), "ok").Inc()
	return result, nil
}
