// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command tree and entry point for uoechat.

package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, info BuildInfo) int {
	return execute(ctx, info, os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, info BuildInfo, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(info.withDefaults())
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return ExitSuccess
	}

	jsonMode := false
	if cmd != nil {
		if f := cmd.Flags().Lookup("json"); f != nil {
			jsonMode = f.Value.String() == "true"
		}
	}
	name := "uoechat"
	if cmd != nil {
		name = strings.TrimPrefix(cmd.CommandPath(), "uoechat ")
	}
	if jsonMode {
		DisplayError(stdout, name, err, true)
	} else {
		DisplayError(stderr, name, err, false)
	}
	return GetExitCode(err)
}

func newRootCommand(info BuildInfo) *cobra.Command {
	g := &GlobalOptions{version: info.Version}

	root := &cobra.Command{
		Use:   "uoechat",
		Short: "Terminal client for the UoE academic Q&A assistant",
		Long: `uoechat asks the university's retrieval-augmented assistant about
degree programs and rules, with cited sources.

Run without a command to open the full-screen chat.`,
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if g.NoColor {
				DisableColors()
			}
			applyColorProfile()
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context(), *g)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Field: "flag", Reason: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&g.ConfigPath, "config", "c", "", "config file (default ~/.uoechat/config.toml)")
	pf.StringVar(&g.APIURL, "api-url", "", "backend base URL")
	pf.StringVarP(&g.Namespace, "namespace", "n", "", "knowledge base: bs-adp, ms-phd or rules")
	pf.StringVar(&g.LogLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVarP(&g.Verbose, "verbose", "v", false, "log debug output")
	pf.BoolVar(&g.NoColor, "no-color", false, "disable colored output")

	root.AddCommand(
		&cobra.Command{
			Use:   "tui",
			Short: "Open the full-screen chat",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTUI(cmd.Context(), *g)
			},
		},
		newChatCommand(g),
		newAskCommand(g),
		newHealthCommand(g),
		newNamespacesCommand(g),
		newConfigCommand(g),
		newVersionCommand(info),
	)
	return root
}

func newChatCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat line by line with history and slash commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := RequiresTTY("interactive chat"); err != nil {
				return err
			}
			app, err := NewApp(*g, modeLine)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(cmd.Context(), func(ctx context.Context) error {
				return runREPL(ctx, app, cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}
}

// interruptContext cancels on Ctrl+C for commands that do not read the
// terminal themselves.
func interruptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}
