// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/uoe-chat/internal/api"
	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/orchestrator"
	"github.com/jeranaias/uoe-chat/internal/ui/markdown"
)

// askOptions holds the flags of "ask".
type askOptions struct {
	noStream bool
	json     bool
}

func newAskCommand(g *GlobalOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Example: `  uoechat ask "What is the prerequisite of Compiler Construction?"
  uoechat ask --namespace rules --json "Is the hostel fee refundable?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return &UsageError{Field: "question", Reason: "must not be empty", Example: `uoechat ask "your question"`}
			}
			app, err := NewApp(*g, modeLine)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			if opts.noStream {
				return askOnce(ctx, app, query, opts.json, cmd.OutOrStdout())
			}
			return askStreaming(ctx, app, query, opts.json, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "wait for the complete answer instead of streaming")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the answer as JSON")
	return cmd
}

// askStreaming sends through the orchestrator so the fallback path applies.
func askStreaming(ctx context.Context, app *App, query string, jsonMode bool, out io.Writer) error {
	if err := app.Orchestrator.CanSend(query, app.Config.Chat.MaxQueryLength); err != nil {
		return &UsageError{Field: "question", Reason: err.Error()}
	}

	var p *streamPrinter
	if !jsonMode {
		p = newStreamPrinter(out, app.Store)
	}
	outcome, err := app.Orchestrator.Send(ctx, query)

	st := app.Store.Snapshot()
	answer, _ := st.LastAssistant()
	if p != nil {
		final := answer.Content
		if outcome == orchestrator.OutcomeCancelled {
			final = ""
		}
		p.finish(final)
	}
	if err != nil {
		return err
	}

	switch outcome {
	case orchestrator.OutcomeCancelled:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return context.Canceled
	case orchestrator.OutcomeErrored:
		return fmt.Errorf("%w: no answer from %s", ErrBackendDown, app.Client.BaseURL())
	}

	if jsonMode {
		data := askDataFromMessage(query, st.Namespace, answer)
		data.Outcome = outcome.String()
		data.SessionID = st.SessionID
		return NewJSONResponse("ask", data).Write(out)
	}
	printSourceSummary(out, answer.Sources)
	return nil
}

// askOnce uses the non-streaming endpoint directly.
func askOnce(ctx context.Context, app *App, query string, jsonMode bool, out io.Writer) error {
	if n := orchestrator.QueryLength(query); n > app.Config.Chat.MaxQueryLength {
		return &UsageError{
			Field:  "question",
			Reason: fmt.Sprintf("%d of %d characters", n, app.Config.Chat.MaxQueryLength),
		}
	}
	req := api.NewChatRequest(query, app.Store.Namespace(), "", app.Store.Settings())
	resp, err := app.Client.Chat(ctx, req)
	if err != nil {
		return err
	}

	if jsonMode {
		data := askDataFromMessage(query, req.Namespace, model.NewAssistantMessage(resp.Answer, resp.Meta()))
		data.SessionID = resp.SessionID
		return NewJSONResponse("ask", data).Write(out)
	}

	md := markdown.New(app.Config.UI.Markdown && IsStdoutTTY(), app.Config.UI.Theme)
	fmt.Fprintln(out, md.Render(resp.Answer, GetTerminalWidth()))
	printSourceSummary(out, resp.Sources)
	return nil
}

func askDataFromMessage(query string, ns model.Namespace, m model.Message) AskData {
	data := AskData{
		Query:         query,
		Namespace:     ns.String(),
		Answer:        m.Content,
		EnhancedQuery: m.EnhancedQuery,
		RunID:         m.RunID,
		SmartInfo:     m.SmartInfo,
		Sources:       make([]SourceData, 0, len(m.Sources)),
	}
	if m.SmartInfo != nil {
		data.SmartState = string(m.SmartInfo.Classify())
	}
	for _, s := range m.Sources {
		data.Sources = append(data.Sources, SourceData{
			File:       s.File,
			Score:      s.Score,
			Page:       s.Page,
			Department: s.Department,
			CourseCode: s.CourseCode,
		})
	}
	return data
}

// printSourceSummary lists cited files on one line each.
func printSourceSummary(out io.Writer, sources []model.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, TitleStyle.Render(fmt.Sprintf("Sources (%d)", len(sources))))
	for i, s := range sources {
		line := fmt.Sprintf("  [%d] %s", i+1, s.File)
		if s.Page != nil {
			line += fmt.Sprintf(" p.%d", *s.Page)
		}
		fmt.Fprintf(out, "%s %s\n", line, DimStyle.Render(fmt.Sprintf("%d%%", s.ScorePercent())))
	}
}
