// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for uoechat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// .env files, environment variable overrides, struct-tag validation and a
// file watcher for live reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - APIConfig: Backend URL, timeouts and request throttle
//   - ChatConfig: Initial namespace, turn limit and retrieval settings
//   - ValidateErrors: Every invalid field, keyed by its TOML name
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (UOE_*), including those set by .env
//   - ~/.uoechat/config.toml
//   - ~/.uoechat/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	_ = config.LoadDotEnv()
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Build an API client:
//
//	client := api.NewClient(cfg.ClientConfig())
package config
