// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// tui.go - Full-screen chat entry point.

package cli

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/uoe-chat/internal/config"
	"github.com/jeranaias/uoe-chat/internal/ui/chat"
	"github.com/jeranaias/uoe-chat/internal/ui/markdown"
	"github.com/jeranaias/uoe-chat/internal/ui/styles"
)

// runTUI opens the full-screen chat and blocks until the user quits.
func runTUI(ctx context.Context, g GlobalOptions) error {
	if err := RequiresTTY("the full-screen chat"); err != nil {
		return err
	}

	app, err := NewApp(g, modeFullscreen)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Run(ctx, func(ctx context.Context) error {
		cfg := app.Config
		m := chat.New(chat.Options{
			Orchestrator:   app.Orchestrator,
			Theme:          styles.NewTheme(cfg.UI.Theme),
			Markdown:       markdown.New(cfg.UI.Markdown, cfg.UI.Theme),
			MaxQueryLength: cfg.Chat.MaxQueryLength,
			Context:        ctx,
			Logger:         app.Logger,
		})
		defer m.Close()

		p := tea.NewProgram(m,
			tea.WithAltScreen(),       // Use alternate screen buffer
			tea.WithMouseCellMotion(), // Enable mouse support
		)

		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go func() {
			<-watchCtx.Done()
			// SIGTERM or a failed sibling; Ctrl+C arrives as a key.
			if ctx.Err() != nil {
				p.Quit()
			}
		}()
		if app.ConfigPath != "" {
			go watchSettings(watchCtx, app, p)
		}

		_, err := p.Run()
		return err
	})
}

// watchSettings pushes retrieval settings from an edited config file into
// the running chat. Other fields take effect on the next start.
func watchSettings(ctx context.Context, app *App, p *tea.Program) {
	log := app.Logger.Named("config")
	err := config.Watch(ctx, app.ConfigPath, config.DefaultWatchDebounce, func(cfg *config.Config, err error) {
		if err != nil {
			log.Warn("config reload failed", zap.String("path", app.ConfigPath), zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("path", app.ConfigPath))
		p.Send(chat.SettingsMsg{Settings: cfg.Settings()})
	})
	if err != nil {
		log.Warn("config watch stopped", zap.Error(err))
	}
}
