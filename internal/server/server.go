package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/savid/iptv-console/internal/data"
	"github.com/savid/iptv-console/internal/engine"
	"github.com/savid/iptv-console/internal/guide"
	"github.com/sirupsen/logrus"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 0 // No timeout: guide refreshes run inside the request and have no ceiling
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 10 * time.Second
	statusInterval  = time.Minute
)

// Session is the engine the server owns.
type Session interface {
	Engine
	data.GuideRefresher
	Start(ctx context.Context) (engine.Outcome, error)
	Close() error
}

// Server runs a session behind the control API.
type Server struct {
	log       logrus.FieldLogger
	addr      string
	session   Session
	refresher *data.Refresher
	server    *http.Server

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer creates a new server instance. The guide is refreshed every
// refreshInterval; zero disables periodic refreshes.
func NewServer(log logrus.FieldLogger, addr string, session Session, refreshInterval time.Duration) *Server {
	return &Server{
		log:       log.WithField("component", "server"),
		addr:      addr,
		session:   session,
		refresher: data.NewRefresher(log, session, refreshInterval),
	}
}

// Start loads the guide and starts serving.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("server already running")
	}

	serverCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.log.Info("Loading guide")

	if _, err := s.session.Start(serverCtx); err != nil {
		cancel()
		s.cancel = nil

		return fmt.Errorf("failed to load guide: %w", err)
	}

	if err := s.refresher.Start(serverCtx); err != nil {
		cancel()
		s.cancel = nil

		return fmt.Errorf("failed to start refresher: %w", err)
	}

	go s.startStatusLogger(serverCtx)

	routes := NewRoutes(s.log, s.session)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      routes.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	go s.run(serverCtx, s.done)

	s.log.WithField("addr", s.addr).Info("Server started")

	return nil
}

// Stop stops the server, the refresher and playback.
func (s *Server) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	if done != nil {
		<-done
	}

	if err := s.refresher.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop refresher")
	}

	if err := s.session.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to stop playback")
	}

	s.log.Info("Server stopped")

	return nil
}

func (s *Server) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down server")
	case err := <-errCh:
		if err != nil {
			s.log.WithError(err).Error("Server error")
		}

		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("Server shutdown error")
	}
}

func (s *Server) startStatusLogger(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	s.logStatus()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStatus()
		}
	}
}

func (s *Server) logStatus() {
	view := s.session.View()
	if !view.HasGuide {
		s.log.Warn("No guide loaded")

		return
	}

	channels := 0

	for _, n := range view.Nodes {
		if n.Kind == guide.KindChannel {
			channels++
		}
	}

	s.log.WithFields(logrus.Fields{
		"channels": channels,
		"lastSync": view.LastSync,
		"playback": view.Playback.StateName,
		"query":    view.Query,
	}).Info("Session status")
}
