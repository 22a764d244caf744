// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo is set by main from linker flags.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
}

// withDefaults fills unset fields with "unknown".
func (b BuildInfo) withDefaults() BuildInfo {
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.GitCommit == "" {
		b.GitCommit = "unknown"
	}
	if b.BuildDate == "" {
		b.BuildDate = "unknown"
	}
	return b
}

// versionData is the --json payload of "version".
type versionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCommand(info BuildInfo) *cobra.Command {
	var jsonMode bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data := versionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			out := cmd.OutOrStdout()
			if jsonMode {
				return NewJSONResponse("version", data).Write(out)
			}
			fmt.Fprintf(out, "uoechat %s\n", data.Version)
			fmt.Fprintln(out, field("Commit:", data.GitCommit))
			fmt.Fprintln(out, field("Built:", data.BuildDate))
			fmt.Fprintln(out, field("Go:", data.GoVersion))
			fmt.Fprintln(out, field("Platform:", data.Platform))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print as JSON")
	return cmd
}
