package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/savid/iptv-console/internal/api"
	"github.com/savid/iptv-console/internal/config"
	"github.com/savid/iptv-console/internal/data"
	"github.com/savid/iptv-console/internal/engine"
	"github.com/savid/iptv-console/internal/playback"
	"github.com/savid/iptv-console/internal/server"
	"github.com/savid/iptv-console/internal/state"
	"github.com/savid/iptv-console/internal/tui"
	"github.com/spf13/afero"
)

type application struct {
	engine *engine.Engine
	views  *state.Store
}

// wire builds one console session from cfg.
func wire(cfg *config.Config) (*application, error) {
	fetcher, err := data.NewFetcher(log, data.FetcherConfig{
		ConsoleURL:        cfg.ConsoleURL,
		Password:          cfg.Password,
		RequestTimeout:    cfg.RequestTimeout,
		ManifestTimeout:   cfg.ManifestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		return nil, err
	}

	views, err := state.Open(afero.NewOsFs(), cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	defaults, err := cfg.DefaultView()
	if err != nil {
		_ = views.Close()

		return nil, err
	}

	players := cfg.Players

	eng, err := engine.New(engine.Options{
		Log:        log,
		Source:     fetcher,
		Manifests:  fetcher,
		Recordings: api.NewClient(log, fetcher),
		Views:      views,
		Session:    fetcher,
		Defaults:   defaults,
		NewPlayer: func() (playback.Player, error) {
			player, err := playback.NewProcessPlayer(log, players)
			if err != nil {
				return nil, err
			}

			return player, nil
		},
	})
	if err != nil {
		_ = views.Close()

		return nil, err
	}

	log.WithField("session", eng.ID()).Debug("Session created")

	return &application{engine: eng, views: views}, nil
}

func (a *application) server(cfg *config.Config) *server.Server {
	return server.NewServer(log, cfg.ListenAddr(), a.engine, cfg.RefreshInterval)
}

func (a *application) runTUI(ctx context.Context, cfg *config.Config) error {
	if _, err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to load guide: %w", err)
	}

	refresher := data.NewRefresher(log, a.engine, cfg.RefreshInterval)
	if err := refresher.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := refresher.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop refresher")
		}
	}()

	program := tea.NewProgram(tui.NewApp(ctx, a.engine), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI: %w", err)
	}

	return nil
}

func (a *application) close() {
	if err := a.engine.Close(); err != nil {
		log.WithError(err).Warn("Failed to stop playback")
	}

	if err := a.views.Close(); err != nil {
		log.WithError(err).Warn("Failed to close state")
	}
}
