package playback

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNoPlayer is returned when none of the configured player commands is installed.
var ErrNoPlayer = errors.New("no media player found")

// DefaultPlayers are tried in order when no player command is configured.
var DefaultPlayers = []string{"mpv", "vlc", "ffplay"}

// Player renders a resolved stream.
type Player interface {
	Play(ctx context.Context, r Resolution) error
	Pause() error
	Resume(ctx context.Context) error
	Stop() error
}

// exitNotifier is implemented by players whose playback can end on its own,
// e.g. when the user closes the player window.
type exitNotifier interface {
	OnExit(fn func())
	Running() bool
}

// ProcessPlayer plays streams in an external media player process. Pausing
// stops the process and resuming starts it again on the same target, which
// for live streams rejoins at the live edge.
type ProcessPlayer struct {
	log     logrus.FieldLogger
	command string
	args    []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	current Resolution
	onExit  func()
}

// NewProcessPlayer picks the first installed command from candidates.
func NewProcessPlayer(log logrus.FieldLogger, candidates []string, args ...string) (*ProcessPlayer, error) {
	if len(candidates) == 0 {
		candidates = DefaultPlayers
	}

	command := findCommand(candidates...)
	if command == "" {
		return nil, fmt.Errorf("%w (tried %v)", ErrNoPlayer, candidates)
	}

	return &ProcessPlayer{
		log:     log.WithField("component", "player").WithField("command", command),
		command: command,
		args:    args,
	}, nil
}

// Play starts the player on r, replacing whatever was playing.
func (p *ProcessPlayer) Play(_ context.Context, r Resolution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.current = r

	return p.startLocked()
}

// Pause stops the process but keeps the target.
func (p *ProcessPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	return nil
}

// Resume starts the process again on the last target.
func (p *ProcessPlayer) Resume(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current.URI == "" {
		return errors.New("nothing to resume")
	}

	if p.cmd != nil {
		return nil
	}

	return p.startLocked()
}

// Stop stops the process and forgets the target.
func (p *ProcessPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.current = Resolution{}

	return nil
}

// OnExit registers fn to run when the player process exits without being
// stopped, paused or replaced.
func (p *ProcessPlayer) OnExit(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onExit = fn
}

// Running reports whether a player process is alive.
func (p *ProcessPlayer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cmd != nil
}

func (p *ProcessPlayer) startLocked() error {
	args := make([]string, 0, len(p.args)+1)
	args = append(args, p.args...)
	args = append(args, p.current.URI)

	cmd := exec.Command(p.command, args...) //nolint:gosec // player command comes from local configuration

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.command, err)
	}

	p.cmd = cmd

	go func() {
		err := cmd.Wait()

		p.mu.Lock()
		exited := p.cmd == cmd
		if exited {
			p.cmd = nil
		}
		onExit := p.onExit
		p.mu.Unlock()

		if !exited {
			return
		}

		p.log.WithError(err).Info("Player exited")

		if onExit != nil {
			onExit()
		}
	}()

	p.log.WithFields(logrus.Fields{
		"uri":      p.current.URI,
		"protocol": p.current.Protocol,
	}).Info("Player started")

	return nil
}

func (p *ProcessPlayer) stopLocked() {
	if p.cmd == nil || p.cmd.Process == nil {
		p.cmd = nil

		return
	}

	if err := p.cmd.Process.Kill(); err != nil {
		p.log.WithError(err).Debug("Player process already exited")
	}

	p.cmd = nil
}

func findCommand(commands ...string) string {
	for _, cmd := range commands {
		if _, err := exec.LookPath(cmd); err == nil {
			return cmd
		}
	}

	return ""
}
