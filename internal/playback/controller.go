package playback

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/savid/iptv-console/internal/guide"
	"github.com/sirupsen/logrus"
)

// State is the playback state.
type State int

const (
	Idle State = iota
	Loading
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Control icons.
const (
	IconPlay  = "play"
	IconPause = "pause"
)

// ErrNotPlaying is returned by Pause when nothing is playing.
var ErrNotPlaying = errors.New("nothing is playing")

// Playable is an item the user can start from a play control.
type Playable struct {
	ControlID  string
	SourceType guide.SourceType
	Sources    map[string]guide.VideoSource
	Details    string
}

// Status is a snapshot of the controller.
type Status struct {
	State      State            `json:"-"`
	StateName  string           `json:"state"`
	ControlID  string           `json:"control_id,omitempty"`
	SourceType guide.SourceType `json:"source_type,omitempty"`
	Details    string           `json:"details,omitempty"`
	Caption    string           `json:"caption,omitempty"`
	Resolution Resolution       `json:"resolution"`
	LastError  string           `json:"last_error,omitempty"`
}

// Resolver resolves a playable item for a protocol.
type Resolver interface {
	Resolve(ctx context.Context, sourceType guide.SourceType, sources map[string]guide.VideoSource, preferred string) (Resolution, error)
}

// PlayerFactory constructs a player when playback starts.
type PlayerFactory func() (Player, error)

// Controller keeps at most one active playback and the "last played" item used
// to replay live streams after a protocol change.
type Controller struct {
	log       logrus.FieldLogger
	resolver  Resolver
	newPlayer PlayerFactory

	mu         sync.Mutex
	gen        uint64
	state      State
	active     *Playable
	player     Player
	resolution Resolution
	caption    string
	lastPlayed *Playable
	lastErr    error
}

// NewController creates a new playback controller.
func NewController(log logrus.FieldLogger, resolver Resolver, newPlayer PlayerFactory) *Controller {
	return &Controller{
		log:       log.WithField("component", "playback"),
		resolver:  resolver,
		newPlayer: newPlayer,
	}
}

// Play resolves item for protocol and starts it, replacing any active playback.
// On failure the controller returns to Idle and records the error.
func (c *Controller) Play(ctx context.Context, item Playable, protocol string) error {
	item.Sources = maps.Clone(item.Sources)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = Loading
	c.active = &item
	c.lastErr = nil
	c.mu.Unlock()

	log := c.log.WithFields(logrus.Fields{
		"control":  item.ControlID,
		"type":     item.SourceType,
		"protocol": protocol,
	})

	res, err := c.resolver.Resolve(ctx, item.SourceType, item.Sources, protocol)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		log.Debug("Discarding superseded playback request")

		return nil
	}

	if err != nil {
		c.failLocked(err)
		log.WithError(err).Warn("Playback failed")

		return fmt.Errorf("playing %s: %w", item.ControlID, err)
	}

	if c.player == nil {
		player, err := c.newPlayer()
		if err != nil {
			c.failLocked(err)

			return fmt.Errorf("creating player: %w", err)
		}

		if n, ok := player.(exitNotifier); ok {
			n.OnExit(c.playerExited)
		}

		c.player = player
	}

	if err := c.player.Play(ctx, res); err != nil {
		c.failLocked(err)
		log.WithError(err).Warn("Player refused stream")

		return fmt.Errorf("playing %s: %w", item.ControlID, err)
	}

	c.state = Playing
	c.resolution = res
	c.caption = item.Details + " (" + res.Label + ")"

	played := item
	c.lastPlayed = &played

	log.WithField("uri", res.URI).Info("Playback started")

	return nil
}

// Toggle handles a click on a play control: it pauses or resumes the active
// item, or starts a different one.
func (c *Controller) Toggle(ctx context.Context, item Playable, protocol string) error {
	c.mu.Lock()
	sameItem := c.active != nil && c.active.ControlID == item.ControlID
	state := c.state
	c.mu.Unlock()

	switch {
	case sameItem && state == Playing:
		return c.Pause()
	case sameItem && state == Paused:
		return c.Resume(ctx)
	default:
		return c.Play(ctx, item, protocol)
	}
}

// Pause pauses the active playback.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Playing || c.player == nil {
		return ErrNotPlaying
	}

	if err := c.player.Pause(); err != nil {
		return fmt.Errorf("pausing player: %w", err)
	}

	c.state = Paused

	return nil
}

// Resume resumes a paused playback.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Paused || c.player == nil {
		return ErrNotPlaying
	}

	if err := c.player.Resume(ctx); err != nil {
		c.failLocked(err)

		return fmt.Errorf("resuming player: %w", err)
	}

	c.state = Playing

	return nil
}

// ProtocolChanged replays the last played item with the new protocol when a
// live stream is playing. It reports whether a replay happened.
func (c *Controller) ProtocolChanged(ctx context.Context, protocol string) (bool, error) {
	c.mu.Lock()

	if c.state != Playing || c.lastPlayed == nil || c.lastPlayed.SourceType != guide.SourceLive {
		c.mu.Unlock()

		return false, nil
	}

	item := *c.lastPlayed

	if err := c.player.Pause(); err != nil {
		c.log.WithError(err).Debug("Failed to pause before replay")
	}

	c.state = Paused
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"control":  item.ControlID,
		"protocol": protocol,
	}).Info("Replaying live stream with new protocol")

	return true, c.Play(ctx, item, protocol)
}

// playerExited drops a playing stream back to Idle once its player is gone.
func (c *Controller) playerExited() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Playing {
		return
	}

	if n, ok := c.player.(exitNotifier); ok && n.Running() {
		return
	}

	c.log.WithField("control", c.active.ControlID).Info("Player closed, playback stopped")

	c.gen++
	c.state = Idle
	c.active = nil
	c.lastPlayed = nil
	c.resolution = Resolution{}
	c.caption = ""
}

// Close tears down the player and clears the last played item.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++

	var err error
	if c.player != nil {
		err = c.player.Stop()
	}

	c.player = nil
	c.state = Idle
	c.active = nil
	c.lastPlayed = nil
	c.resolution = Resolution{}
	c.caption = ""

	return err
}

// ControlIcon returns the icon a play control should show.
func (c *Controller) ControlIcon(controlID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.ControlID == controlID && (c.state == Playing || c.state == Loading) {
		return IconPause
	}

	return IconPlay
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		State:      c.state,
		StateName:  c.state.String(),
		Resolution: c.resolution,
		Caption:    c.caption,
	}

	if c.active != nil {
		s.ControlID = c.active.ControlID
		s.SourceType = c.active.SourceType
		s.Details = c.active.Details
	}

	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}

	return s
}

// LastPlayed returns the item recorded when playback last started.
func (c *Controller) LastPlayed() (Playable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastPlayed == nil {
		return Playable{}, false
	}

	return *c.lastPlayed, true
}

func (c *Controller) failLocked(err error) {
	c.state = Idle
	c.active = nil
	c.lastErr = err
	c.resolution = Resolution{}
	c.caption = ""

	if c.player != nil {
		if stopErr := c.player.Stop(); stopErr != nil {
			c.log.WithError(stopErr).Debug("Failed to stop player")
		}

		c.player = nil
	}
}
