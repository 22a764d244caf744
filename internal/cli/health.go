// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// health.go - Backend reachability and namespace listing commands.

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/ui/styles"
)

func newHealthCommand(g *GlobalOptions) *cobra.Command {
	var jsonMode bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check whether the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := NewApp(*g, modeLine)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := interruptContext(cmd.Context())
			defer stop()

			start := time.Now()
			ok := app.Monitor.CheckNow(ctx)
			latency := time.Since(start)

			out := cmd.OutOrStdout()
			if jsonMode {
				data := HealthData{URL: app.Client.HealthURL(), Online: ok, LatencyMS: latency.Milliseconds()}
				if err := NewJSONResponse("health", data).Write(out); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, field("Health URL:", app.Client.HealthURL()))
				if ok {
					fmt.Fprintln(out, field("Status:", styles.RenderSuccess("online")))
				} else {
					fmt.Fprintln(out, field("Status:", styles.RenderError("offline")))
				}
				fmt.Fprintln(out, field("Latency:", latency.Round(time.Millisecond).String()))
			}
			if !ok {
				return silent(ErrBackendDown)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print the result as JSON")
	return cmd
}

func newNamespacesCommand(g *GlobalOptions) *cobra.Command {
	var jsonMode bool
	cmd := &cobra.Command{
		Use:   "namespaces",
		Short: "List the knowledge bases the backend serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := NewApp(*g, modeLine)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := interruptContext(cmd.Context())
			defer stop()

			names, err := app.Client.Namespaces(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonMode {
				return NewJSONResponse("namespaces", NamespacesData{Namespaces: names}).Write(out)
			}
			for _, name := range names {
				ns := model.Namespace(name)
				label := DimStyle.Render("(not supported by this client)")
				if ns.Valid() {
					label = ns.Label()
				}
				fmt.Fprintf(out, "  %s %s\n", CommandStyle.Render(fmt.Sprintf("%-10s", name)), label)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print the result as JSON")
	return cmd
}
