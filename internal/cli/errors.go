// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Unified error handling for uoechat commands.
//
// STANDARDIZED PATTERN:
//   - Commands always return errors; Execute displays them once
//   - Structured error types map to specific exit codes

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jeranaias/uoe-chat/internal/api"
	"github.com/jeranaias/uoe-chat/internal/config"
	"github.com/jeranaias/uoe-chat/internal/orchestrator"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the backend could not be reached or refused the request
	ExitNetworkError = 5
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitInterrupted indicates the user interrupted the command (128 + SIGINT)
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError represents invalid arguments.
type UsageError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// ConfigError wraps a failure to load or save configuration.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ErrBackendDown is returned by commands that found the backend unreachable.
var ErrBackendDown = errors.New("backend is not reachable")

// silentError marks an error whose details the command already printed.
// It keeps the exit code of the wrapped error.
type silentError struct {
	err error
}

func (e *silentError) Error() string { return e.err.Error() }
func (e *silentError) Unwrap() error { return e.err }

func silent(err error) error {
	return &silentError{err: err}
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError writes err in the human or JSON format.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	var se *silentError
	if errors.As(err, &se) {
		return
	}
	if jsonMode {
		resp := NewJSONErrorResponse(command, err)
		resp.ErrorType = errorType(err)
		_ = resp.Write(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

func errorType(err error) string {
	var (
		usageErr  *UsageError
		configErr *ConfigError
		reqErr    *api.RequestError
	)
	switch {
	case errors.As(err, &usageErr):
		return "usage_error"
	case errors.As(err, &configErr):
		return "config_error"
	case errors.As(err, &reqErr):
		return "request_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrBackendDown):
		return "network_error"
	default:
		return "generic_error"
	}
}

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}

	var configErr *ConfigError
	var validateErrs config.ValidateErrors
	if errors.As(err, &configErr) || errors.As(err, &validateErrs) {
		return ExitConfigError
	}

	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ExitTimeoutError
	}

	var reqErr *api.RequestError
	if errors.As(err, &reqErr) || errors.As(err, &netErr) ||
		errors.Is(err, ErrBackendDown) || errors.Is(err, orchestrator.ErrOffline) {
		return ExitNetworkError
	}

	return ExitGeneralError
}
