// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Line-mode interactive chat with input history.
//
// The REPL drives the same orchestrator as the full-screen UI. Answers are
// streamed to stdout as they arrive; slash commands cover the UI shortcuts.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/uoe-chat/internal/config"
	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/orchestrator"
	"github.com/jeranaias/uoe-chat/internal/store"
	"github.com/jeranaias/uoe-chat/internal/ui/styles"
	"github.com/jeranaias/uoe-chat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type lineReader struct {
	line        *liner.State
	historyFile string
}

// newLineReader creates a reader and loads the saved history.
func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

// read prompts for one line and records non-empty input in history.
func (r *lineReader) read(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// close saves history with owner-only permissions and restores the terminal.
func (r *lineReader) close() {
	defer r.line.Close()
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = r.line.WriteHistory(f)
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// ChatSession executes REPL input against an orchestrator.
type ChatSession struct {
	orch   *orchestrator.Orchestrator
	store  *store.Store
	out    io.Writer
	logger *zap.Logger
	maxLen int
	copyFn func(string) error
}

// NewChatSession creates a session writing to out.
func NewChatSession(orch *orchestrator.Orchestrator, out io.Writer, maxLen int, logger *zap.Logger) *ChatSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatSession{
		orch:   orch,
		store:  orch.Store(),
		out:    out,
		logger: logger.Named("repl"),
		maxLen: maxLen,
		copyFn: clipboard.WriteAll,
	}
}

// Handle processes one line of input.
// Returns (shouldContinue, error) where shouldContinue=false means exit.
func (s *ChatSession) Handle(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return true, nil
	case strings.HasPrefix(input, "/"):
		return s.command(ctx, input)
	case strings.EqualFold(input, "exit"), strings.EqualFold(input, "quit"):
		return false, nil
	}
	return true, s.ask(ctx, input)
}

// ask gates and sends a question, streaming the answer to out.
func (s *ChatSession) ask(ctx context.Context, query string) error {
	if err := s.orch.CanSend(query, s.maxLen); err != nil {
		return err
	}
	return s.send(ctx, func(ctx context.Context) (orchestrator.Outcome, error) {
		return s.orch.Send(ctx, query)
	})
}

func (s *ChatSession) send(ctx context.Context, fn func(context.Context) (orchestrator.Outcome, error)) error {
	before := len(s.store.Snapshot().Messages)

	p := newStreamPrinter(s.out, s.store)
	outcome, err := fn(ctx)

	final := ""
	var answer model.Message
	st := s.store.Snapshot()
	if err == nil && outcome != orchestrator.OutcomeCancelled && len(st.Messages) > before {
		if last := st.Messages[len(st.Messages)-1]; last.IsAssistant() {
			answer = last
			final = last.Content
		}
	}
	p.finish(final)

	if err != nil {
		return err
	}
	switch outcome {
	case orchestrator.OutcomeCancelled:
		fmt.Fprintln(s.out, WarningStyle.Render("[Stopped]"))
	case orchestrator.OutcomeErrored:
		fmt.Fprintln(s.out, DimStyle.Render("Type /retry to send the question again."))
	default:
		s.printAnswerFooter(answer)
	}
	if st.IsMaxTurns() {
		fmt.Fprintln(s.out, WarningStyle.Render(
			fmt.Sprintf("Conversation limit reached (%d turns). Type /new to start a new chat.", st.MaxTurns)))
	}
	return nil
}

// printAnswerFooter shows the Smart-RAG badge and a source count.
func (s *ChatSession) printAnswerFooter(m model.Message) {
	var parts []string
	if m.SmartInfo != nil {
		if label := m.SmartInfo.Classify().Label(); label != "" {
			parts = append(parts, "["+label+"]")
		}
	}
	if n := len(m.Sources); n > 0 {
		parts = append(parts, fmt.Sprintf("%d sources (/sources)", n))
	}
	if len(parts) > 0 {
		fmt.Fprintln(s.out, DimStyle.Render(strings.Join(parts, "  ")))
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *ChatSession) command(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	name := strings.ToLower(parts[0])
	args := parts[1:]

	switch name {
	case "/help", "/h", "/?", "/":
		s.printHelp()

	case "/quit", "/q", "/exit":
		return false, nil

	case "/new", "/clear":
		s.orch.NewChat()
		fmt.Fprintln(s.out, SuccessStyle.Render("[New conversation]"))

	case "/ns", "/namespace":
		return true, s.namespace(args)

	case "/smart":
		v := !s.store.Settings().EnableSmart
		return true, s.applySetting(model.SettingsPatch{EnableSmart: &v}, "Smart-RAG", onOff(v))

	case "/enhance":
		v := !s.store.Settings().EnhanceQuery
		return true, s.applySetting(model.SettingsPatch{EnhanceQuery: &v}, "Query enhancement", onOff(v))

	case "/topk":
		if len(args) != 1 {
			return true, &UsageError{Field: "top-k", Reason: "expected one number", Example: "/topk 5"}
		}
		k, err := strconv.Atoi(args[0])
		if err != nil {
			return true, &UsageError{Field: "top-k", Value: args[0], Reason: "not a number", Example: "/topk 5"}
		}
		return true, s.applySetting(model.SettingsPatch{TopKRetrieve: &k}, "Top-k", strconv.Itoa(k))

	case "/retry", "/r":
		if s.store.LastUserQuery() == "" {
			return true, orchestrator.ErrNothingToRetry
		}
		return true, s.send(ctx, s.orch.Retry)

	case "/up", "/down":
		vote := model.VoteUp
		if name == "/down" {
			vote = model.VoteDown
		}
		return true, s.vote(ctx, vote)

	case "/copy":
		last, ok := s.store.Snapshot().LastAssistant()
		if !ok {
			return true, errors.New("no answer to copy yet")
		}
		if err := s.copyFn(last.Content); err != nil {
			return true, fmt.Errorf("copy failed: %w", err)
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("[Copied]"))

	case "/sources":
		s.printSources()

	case "/status", "/s":
		s.printStatus()

	case "/suggest":
		return true, s.suggest(ctx, args)

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", name)
	}
	return true, nil
}

func (s *ChatSession) namespace(args []string) error {
	if len(args) == 0 {
		current := s.store.Namespace()
		for _, ns := range model.Namespaces {
			mark := "  "
			if ns == current {
				mark = "* "
			}
			fmt.Fprintf(s.out, "%s%s  %s\n", mark, CommandStyle.Render(fmt.Sprintf("%-8s", ns)), ns.Label())
		}
		return nil
	}
	ns := model.Namespace(strings.ToLower(args[0]))
	if err := s.orch.SwitchNamespace(ns); err != nil {
		return &UsageError{Field: "namespace", Value: args[0], Reason: "unknown namespace", Example: "/ns rules"}
	}
	fmt.Fprintf(s.out, "%s Switched to %s. The conversation was cleared.\n",
		SuccessStyle.Render("[OK]"), ns.Label())
	return nil
}

func (s *ChatSession) applySetting(patch model.SettingsPatch, name, value string) error {
	if err := s.store.UpdateSettings(patch); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s %s\n", SuccessStyle.Render("[OK]"), name, value)
	return nil
}

func (s *ChatSession) vote(ctx context.Context, vote model.Vote) error {
	last, ok := s.store.Snapshot().LastAssistant()
	if !ok {
		return errors.New("no answer to rate yet")
	}
	got, err := s.orch.Feedback(ctx, last.ID, vote)
	if err != nil {
		// The vote stays recorded locally.
		s.logger.Warn("feedback not delivered", zap.Error(err))
		return fmt.Errorf("feedback not delivered: %w", err)
	}
	if got == model.VoteNone {
		fmt.Fprintln(s.out, DimStyle.Render("[Vote removed]"))
		return nil
	}
	fmt.Fprintln(s.out, SuccessStyle.Render("[Thanks for the feedback]"))
	return nil
}

func (s *ChatSession) suggest(ctx context.Context, args []string) error {
	suggestions := s.store.Namespace().Suggestions()
	if len(args) == 0 {
		for i, q := range suggestions {
			fmt.Fprintf(s.out, "  %s %s\n", CommandStyle.Render(fmt.Sprintf("%d.", i+1)), q)
		}
		fmt.Fprintln(s.out, DimStyle.Render("Type /suggest <n> to ask one."))
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(suggestions) {
		return &UsageError{
			Field:   "suggestion",
			Value:   args[0],
			Reason:  fmt.Sprintf("expected 1-%d", len(suggestions)),
			Example: "/suggest 1",
		}
	}
	q := suggestions[n-1]
	fmt.Fprintln(s.out, DimStyle.Render("> "+q))
	return s.ask(ctx, q)
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (s *ChatSession) printWelcome() {
	st := s.store.Snapshot()
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("UoE Academic Q&A"))
	fmt.Fprintln(s.out, DimStyle.Render(strings.Repeat("─", 30)))
	fmt.Fprintln(s.out, field("Knowledge base:", st.Namespace.Label()))
	fmt.Fprintln(s.out, field("Backend:", st.Online.String()))
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Type your question and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help", "Show this help"},
		{"/new", "Start a new conversation"},
		{"/ns [id]", "Show or switch the knowledge base"},
		{"/smart", "Toggle Smart-RAG"},
		{"/enhance", "Toggle query enhancement"},
		{"/topk <n>", "Set the number of retrieved chunks"},
		{"/retry", "Send the last question again"},
		{"/up, /down", "Rate the last answer"},
		{"/copy", "Copy the last answer"},
		{"/sources", "Show the sources of the last answer"},
		{"/suggest [n]", "List or ask a suggested question"},
		{"/status", "Show session status"},
		{"/quit", "Exit chat"},
	}

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Available Commands"))
	for _, c := range commands {
		fmt.Fprintf(s.out, "  %s  %s\n", CommandStyle.Render(fmt.Sprintf("%-14s", c.cmd)), c.desc)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Tip: Ctrl+C stops the current answer, Ctrl+D exits"))
}

func (s *ChatSession) printStatus() {
	st := s.store.Snapshot()
	session := st.SessionID
	if session == "" {
		session = "(none)"
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Session Status"))
	fmt.Fprintln(s.out, field("Knowledge base:", fmt.Sprintf("%s (%s)", st.Namespace.Label(), st.Namespace)))
	fmt.Fprintln(s.out, field("Backend:", st.Online.String()))
	fmt.Fprintln(s.out, field("Session:", session))
	fmt.Fprintln(s.out, field("Turns:", fmt.Sprintf("%d/%d", st.TurnCount, st.MaxTurns)))
	fmt.Fprintln(s.out, field("Smart-RAG:", onOff(st.Settings.EnableSmart)))
	fmt.Fprintln(s.out, field("Enhance query:", onOff(st.Settings.EnhanceQuery)))
	fmt.Fprintln(s.out, field("Top-k:", strconv.Itoa(st.Settings.TopKRetrieve)))
}

func (s *ChatSession) printSources() {
	last, ok := s.store.Snapshot().LastAssistant()
	if !ok || len(last.Sources) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("No sources for the last answer."))
		return
	}
	width := GetTerminalWidth()
	for i, src := range last.Sources {
		line := fmt.Sprintf("[%d] %s", i+1, src.File)
		if src.Page != nil {
			line += fmt.Sprintf(" p.%d", *src.Page)
		}
		if src.CourseCode != "" {
			line += " " + src.CourseCode
		}
		if src.Department != "" {
			line += " " + src.Department
		}
		fmt.Fprintf(s.out, "%s %s\n", CommandStyle.Render(line), DimStyle.Render(fmt.Sprintf("%d%%", src.ScorePercent())))
		if src.Text != "" {
			fmt.Fprintln(s.out, "    "+DimStyle.Render(util.Excerpt(src.Text, width-4)))
		}
	}
	if last.SmartInfo != nil {
		state := last.SmartInfo.Classify()
		fmt.Fprintln(s.out, DimStyle.Render(styles.StatusIndicators.Info+" "+state.Description()))
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// =============================================================================
// REPL LOOP
// =============================================================================

// runREPL reads lines until EOF, Ctrl+C at the prompt or /quit.
// Ctrl+C while an answer streams stops that answer only.
func runREPL(ctx context.Context, app *App, out, errOut io.Writer) error {
	s := NewChatSession(app.Orchestrator, out, app.Config.Chat.MaxQueryLength, app.Logger)

	// Give the monitor a moment to report before the banner.
	app.Monitor.CheckNow(ctx)
	s.printWelcome()

	reader := newLineReader()
	defer reader.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	var wg sync.WaitGroup
	stopWatch := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-sigCh:
				if app.Orchestrator.Busy() {
					app.Orchestrator.Stop()
				}
			case <-stopWatch:
				return
			}
		}
	}()
	defer func() {
		close(stopWatch)
		wg.Wait()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := reader.read("uoe> ")
		if err != nil {
			// Ctrl+C at the prompt, EOF (Ctrl+D) or a closed terminal.
			fmt.Fprintln(out)
			return nil
		}
		cont, err := s.Handle(ctx, input)
		if err != nil {
			fmt.Fprintf(errOut, "%s %s\n", ErrorStyle.Render("[Error]"), describeChatError(err))
		}
		if !cont {
			return nil
		}
	}
}

// describeChatError turns a gate rejection into a user-facing hint.
func describeChatError(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		return "an answer is still in progress"
	case errors.Is(err, orchestrator.ErrMaxTurns):
		return "conversation limit reached; type /new to start a new chat"
	case errors.Is(err, orchestrator.ErrOffline):
		return "the server is offline; try again once it reconnects"
	default:
		return err.Error()
	}
}
