// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Config inspection and editing commands.

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/uoe-chat/internal/config"
)

func newConfigCommand(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration file",
	}
	cmd.AddCommand(
		newConfigShowCommand(g),
		newConfigPathCommand(g),
		newConfigInitCommand(g),
		newConfigGetCommand(g),
		newConfigSetCommand(g),
	)
	return cmd
}

// configFilePath returns the file config commands read and write.
func configFilePath(g *GlobalOptions) (string, error) {
	if g.ConfigPath != "" {
		return g.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

// loadConfigFile reads the file without environment overrides so that
// saving it back does not persist them. A missing file yields defaults.
func loadConfigFile(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return config.LoadJSON(path)
	}
	return config.LoadTOML(path)
}

func saveConfigFile(cfg *config.Config, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return cfg.SaveJSON(path)
	}
	return cfg.SaveTOML(path)
}

func newConfigShowCommand(g *GlobalOptions) *cobra.Command {
	var jsonMode bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file, environment and flags)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*g)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonMode {
				return NewJSONResponse("config show", cfg).Write(out)
			}
			return toml.NewEncoder(out).Encode(cfg)
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print as JSON")
	return cmd
}

func newConfigPathCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configFilePath(g)
			if err != nil {
				return &ConfigError{Err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigInitCommand(g *GlobalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configFilePath(g)
			if err != nil {
				return &ConfigError{Err: err}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &UsageError{
					Field:   "config",
					Value:   path,
					Reason:  "file already exists",
					Example: "uoechat config init --force",
				}
			}
			if err := saveConfigFile(config.Default(), path); err != nil {
				return &ConfigError{Path: path, Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", SuccessStyle.Render("[OK]"), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigGetCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one effective configuration value",
		Long:  "Print one effective configuration value.\n\nKeys:\n  " + strings.Join(config.Keys(), "\n  "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*g)
			if err != nil {
				return err
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return keyError(args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newConfigSetCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change one value in the configuration file",
		Example: "  uoechat config set chat.namespace rules\n  uoechat config set chat.top_k_retrieve 8",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configFilePath(g)
			if err != nil {
				return &ConfigError{Err: err}
			}
			cfg, err := loadConfigFile(path)
			if err != nil {
				return &ConfigError{Path: path, Err: err}
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return keyError(args[0], err)
			}
			if err := cfg.Validate(); err != nil {
				return &ConfigError{Path: path, Err: err}
			}
			if err := saveConfigFile(cfg, path); err != nil {
				return &ConfigError{Path: path, Err: err}
			}
			printSetResult(cmd.OutOrStdout(), args[0], args[1])
			return nil
		},
	}
}

func printSetResult(out io.Writer, key, value string) {
	fmt.Fprintf(out, "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
}

func keyError(key string, err error) error {
	if errors.Is(err, config.ErrUnknownKey) {
		return &UsageError{Field: "key", Value: key, Reason: "unknown key", Example: "uoechat config get chat.namespace"}
	}
	return &UsageError{Field: key, Reason: err.Error()}
}
