// Package engine owns one console session: the guide model, view settings,
// guide refreshes, playback and recordings.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/savid/iptv-console/internal/api"
	"github.com/savid/iptv-console/internal/data"
	"github.com/savid/iptv-console/internal/guide"
	"github.com/savid/iptv-console/internal/playback"
	"github.com/savid/iptv-console/internal/state"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoGuide is returned when an operation needs a guide and none is loaded.
	ErrNoGuide = errors.New("no guide loaded")
	// ErrUnknownControl is returned for ids that match nothing playable.
	ErrUnknownControl = errors.New("unknown play control")
	// ErrUnknownProgram is returned for program ids not present in the guide.
	ErrUnknownProgram = errors.New("unknown program")
	// ErrInvalidSettings is returned when new view settings fail validation.
	ErrInvalidSettings = errors.New("invalid settings")
)

// ViewStore persists view settings.
type ViewStore interface {
	LoadOrDefault(fallback state.ViewState) (state.ViewState, error)
	Save(v state.ViewState, expiresAt time.Time) error
}

// Session mirrors view settings into the console session.
type Session interface {
	SetViewCookies(v state.ViewState, expires time.Time)
	SettingsExpiry() (time.Time, bool)
}

// Recordings schedules and lists recordings.
type Recordings interface {
	Schedule(ctx context.Context, request []byte) error
	ListMany(ctx context.Context, statuses ...api.RecordingStatus) (map[api.RecordingStatus][]api.Recording, error)
}

// Options are the collaborators of an Engine.
type Options struct {
	Log        logrus.FieldLogger
	Source     data.GuideSource
	Manifests  playback.ManifestFetcher
	Recordings Recordings
	Views      ViewStore
	Session    Session
	NewPlayer  playback.PlayerFactory
	Defaults   state.ViewState
}

// Engine is the view-state and playback engine of one console session.
type Engine struct {
	log        logrus.FieldLogger
	id         string
	store      *data.Store
	coord      *data.Coordinator
	player     *playback.Controller
	recordings Recordings
	views      ViewStore
	session    Session
	defaults   state.ViewState

	mu         sync.Mutex
	view       state.ViewState
	filter     guide.Filter
	recLists   map[api.RecordingStatus][]api.Recording
	reloading  bool
	lastResult string
}

// New creates an engine. Start must be called before use.
func New(opts Options) (*Engine, error) {
	if opts.Log == nil || opts.Source == nil || opts.Manifests == nil || opts.NewPlayer == nil {
		return nil, errors.New("engine requires a logger, guide source, manifest fetcher and player factory")
	}

	if err := opts.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default view settings: %w", err)
	}

	id := uuid.NewString()
	log := opts.Log.WithFields(logrus.Fields{"component": "engine", "session": id})
	store := data.NewStore()

	return &Engine{
		log:        log,
		id:         id,
		store:      store,
		coord:      data.NewCoordinator(opts.Log, opts.Source, store),
		player:     playback.NewController(opts.Log, playback.NewNegotiator(opts.Log, opts.Manifests), opts.NewPlayer),
		recordings: opts.Recordings,
		views:      opts.Views,
		session:    opts.Session,
		defaults:   opts.Defaults,
		view:       opts.Defaults,
		recLists:   make(map[api.RecordingStatus][]api.Recording),
	}, nil
}

// ID returns the session id.
func (e *Engine) ID() string {
	return e.id
}

// Start loads the persisted settings and fetches the first guide.
func (e *Engine) Start(ctx context.Context) (Outcome, error) {
	e.mu.Lock()
	e.view = e.loadView()
	e.mu.Unlock()

	e.log.Info("Starting session")

	outcome := e.refresh(ctx, "")
	if outcome.Kind == OutcomeAlert && outcome.Alert.Level == AlertError {
		return outcome, errors.New(outcome.Alert.Reason)
	}

	return outcome, nil
}

// Close stops playback.
func (e *Engine) Close() error {
	return e.player.Close()
}

// Settings returns the current view settings.
func (e *Engine) Settings() state.ViewState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.view
}

// Sort re-orders the guide and persists the new order.
func (e *Engine) Sort(ctx context.Context, criteria guide.SortCriteria, order guide.SortOrder) (Outcome, error) {
	next := e.Settings()
	next.SortCriteria = criteria
	next.SortOrder = order

	return e.ApplySettings(ctx, next)
}

// Search applies a program search to the guide.
func (e *Engine) Search(query string) (guide.Visibility, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.store.Model()
	if !ok {
		return guide.Visibility{}, ErrNoGuide
	}

	vis := e.filter.Apply(query, m)

	e.log.WithFields(logrus.Fields{
		"query":   vis.Query,
		"matches": vis.Matches,
	}).Debug("Search applied")

	return vis, nil
}

// ToggleChannel expands a channel, collapsing the others, or collapses it.
func (e *Engine) ToggleChannel(channelID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.store.Model()
	if !ok {
		return ErrNoGuide
	}

	if !m.ToggleChannel(channelID) {
		return fmt.Errorf("%w: channel %s", ErrUnknownControl, channelID)
	}

	return nil
}

// ToggleDate expands or collapses one date group.
func (e *Engine) ToggleDate(dateID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.store.Model()
	if !ok {
		return ErrNoGuide
	}

	if !m.ToggleDate(dateID) {
		return fmt.Errorf("%w: date %s", ErrUnknownControl, dateID)
	}

	return nil
}

// SettingsDirty reports whether applying candidate would change anything.
// The guide window and group are compared against the last guide actually merged.
func (e *Engine) SettingsDirty(candidate state.ViewState) bool {
	e.mu.Lock()
	current := e.view
	e.mu.Unlock()

	applied, ok := e.store.LastApplied()
	if !ok {
		applied = data.Params{WindowDays: current.GuideWindowDays, Provider: current.Provider, Group: current.Group}
	}

	return candidate.GuideWindowDays != applied.WindowDays ||
		candidate.Provider != applied.Provider ||
		candidate.Group != applied.Group ||
		candidate.SortCriteria != current.SortCriteria ||
		candidate.SortOrder != current.SortOrder ||
		candidate.Protocol != current.Protocol
}

// ApplySettings applies new view settings: a window or group change refreshes
// the guide, a sort change re-orders it and a protocol change replays a
// playing live stream.
func (e *Engine) ApplySettings(ctx context.Context, next state.ViewState) (Outcome, error) {
	if err := next.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	e.mu.Lock()
	current := e.view
	e.mu.Unlock()

	changes := current.Diff(next)
	if !changes.Any() {
		return Outcome{Kind: OutcomeNone}, nil
	}

	outcome := Outcome{Kind: OutcomeNone}

	if changes.Window || changes.Group {
		caption := fmt.Sprintf("Refreshing guide from %s to %s", days(current.GuideWindowDays), days(next.GuideWindowDays))
		if changes.Group {
			caption = fmt.Sprintf("Updating guide from %s to %s", groupName(current), groupName(next))
		}

		outcome = e.refreshTo(ctx, caption, next)
		if outcome.Kind != OutcomeNone {
			return outcome, nil
		}
	}

	if changes.Sort {
		if err := e.resort(next.SortCriteria, next.SortOrder); err != nil && !errors.Is(err, ErrNoGuide) {
			return Outcome{}, err
		}
	}

	if changes.Protocol {
		e.mu.Lock()
		e.view.Protocol = next.Protocol
		e.persistLocked()
		e.mu.Unlock()

		if _, err := e.player.ProtocolChanged(ctx, next.Protocol); err != nil {
			return playbackFailure(err), nil
		}
	}

	return outcome, nil
}

// SelectGroup switches the guide to another provider group.
func (e *Engine) SelectGroup(ctx context.Context, provider, group string) (Outcome, error) {
	next := e.Settings()
	next.Provider = provider
	next.Group = group

	return e.ApplySettings(ctx, next)
}

// RefreshGuide refreshes the guide with the current settings.
func (e *Engine) RefreshGuide(ctx context.Context) error {
	outcome := e.refresh(ctx, "")

	switch outcome.Kind {
	case OutcomeAlert:
		return errors.New(outcome.Alert.Reason)
	case OutcomeReload:
		return data.ErrSessionInvalid
	default:
		return nil
	}
}

// Refresh refreshes the guide and returns the UI outcome.
func (e *Engine) Refresh(ctx context.Context) Outcome {
	return e.refresh(ctx, "")
}

// TogglePlayback handles a click on a play control: a channel id plays the
// live channel, a recording id plays the recording.
func (e *Engine) TogglePlayback(ctx context.Context, controlID string) (Outcome, error) {
	item, err := e.playable(controlID)
	if err != nil {
		return Outcome{}, err
	}

	protocol := e.Settings().Protocol

	if err := e.player.Toggle(ctx, item, protocol); err != nil {
		if errors.Is(err, playback.ErrNotPlaying) {
			return Outcome{Kind: OutcomeNone}, nil
		}

		return playbackFailure(err), nil
	}

	return Outcome{Kind: OutcomeNone}, nil
}

// Pause pauses playback.
func (e *Engine) Pause() error {
	return e.player.Pause()
}

// ClosePlayback tears down the player.
func (e *Engine) ClosePlayback() error {
	return e.player.Close()
}

// Playback returns the playback status.
func (e *Engine) Playback() playback.Status {
	return e.player.Status()
}

// RecordProgram schedules the recording of a guide program.
func (e *Engine) RecordProgram(ctx context.Context, programID string) (Outcome, error) {
	if e.recordings == nil {
		return Outcome{}, errors.New("recordings are not available")
	}

	e.mu.Lock()
	m, ok := e.store.Model()

	var p *guide.Program
	if ok {
		p, ok = m.Program(programID)
	}
	e.mu.Unlock()

	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownProgram, programID)
	}

	title := programTitle(p)
	log := e.log.WithFields(logrus.Fields{"program": programID, "title": title})

	err := e.recordings.Schedule(ctx, p.RecordRequest)
	if err == nil {
		log.Info("Recording scheduled")

		if _, listErr := e.RefreshRecordings(ctx, api.StatusLive, api.StatusScheduled); listErr != nil {
			log.WithError(listErr).Warn("Failed to refresh recordings")
		}

		return alert(AlertSuccess, "Success", fmt.Sprintf("Recording of %s successfully scheduled!", title), ""), nil
	}

	apiErr, ok := api.AsError(err)
	if !ok {
		return Outcome{}, err
	}

	if apiErr.Status == http.StatusConflict {
		return alert(AlertInfo, "Info", fmt.Sprintf("Recording of %q is already scheduled", title), ""), nil
	}

	log.WithError(err).Warn("Failed to schedule recording")

	return alert(AlertError, "Error", fmt.Sprintf("Failed to schedule recording of %q", title), apiErr.Reason()), nil
}

// RefreshRecordings reloads the given recording lists, or all of them.
func (e *Engine) RefreshRecordings(ctx context.Context, statuses ...api.RecordingStatus) (map[api.RecordingStatus][]api.Recording, error) {
	if e.recordings == nil {
		return nil, errors.New("recordings are not available")
	}

	if len(statuses) == 0 {
		statuses = []api.RecordingStatus{api.StatusLive, api.StatusPersisted, api.StatusScheduled}
	}

	lists, err := e.recordings.ListMany(ctx, statuses...)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for status, list := range lists {
		e.recLists[status] = list
	}

	out := make(map[api.RecordingStatus][]api.Recording, len(e.recLists))
	for status, list := range e.recLists {
		out[status] = list
	}

	return out, nil
}

func (e *Engine) refresh(ctx context.Context, caption string) Outcome {
	e.mu.Lock()
	v := e.view
	e.mu.Unlock()

	return e.refreshTo(ctx, caption, v)
}

// refreshTo requests the guide for the window and group of target. They become
// part of the view settings only once the console answers with a fragment.
func (e *Engine) refreshTo(ctx context.Context, caption string, target state.ViewState) Outcome {
	params := data.Params{WindowDays: target.GuideWindowDays, Provider: target.Provider, Group: target.Group}

	e.mu.Lock()
	pending := e.view
	pending.GuideWindowDays = target.GuideWindowDays
	pending.Provider = target.Provider
	pending.Group = target.Group
	e.syncSessionLocked(pending)
	e.mu.Unlock()

	if caption != "" {
		e.log.Info(caption)
	}

	result := e.coord.Refresh(ctx, params, e.install)

	e.mu.Lock()
	e.lastResult = result.Kind.String()

	switch result.Kind {
	case data.OutcomeFragment:
		if e.view.GuideWindowDays != params.WindowDays || e.view.Provider != params.Provider || e.view.Group != params.Group {
			e.view.GuideWindowDays = params.WindowDays
			e.view.Provider = params.Provider
			e.view.Group = params.Group
			e.persistLocked()
		}
		e.mu.Unlock()

		return Outcome{Kind: OutcomeNone, Caption: caption}
	case data.OutcomeSuperseded:
		e.mu.Unlock()

		return Outcome{Kind: OutcomeNone, Caption: caption, Superseded: true}
	case data.OutcomeFullPage:
		e.view = e.loadView()
		e.mu.Unlock()

		return Outcome{Kind: OutcomeFullPage, Caption: caption, Head: result.Head, Body: result.Body}
	case data.OutcomeReload:
		e.mu.Unlock()

		return e.reload(ctx, result)
	default:
		e.syncSessionLocked(e.view)
		e.mu.Unlock()

		reason := "Encountered unexpected error"
		if result.Err != nil {
			reason = result.Err.Error()
		}

		return alert(AlertError, "Error", "Failed to refresh guide", reason)
	}
}

// reload discards the session state and bootstraps once from storage and a
// fresh guide request.
func (e *Engine) reload(ctx context.Context, result data.Outcome) Outcome {
	e.mu.Lock()
	if e.reloading {
		e.mu.Unlock()

		return Outcome{Kind: OutcomeReload, Err: result.Err}
	}

	e.reloading = true
	e.filter = guide.Filter{}
	e.view = e.loadView()
	e.mu.Unlock()

	e.store.Clear()
	e.log.WithError(result.Err).Warn("Session invalid, reloading")

	e.refresh(ctx, "")

	e.mu.Lock()
	e.reloading = false
	e.mu.Unlock()

	return Outcome{Kind: OutcomeReload, Err: result.Err}
}

// install swaps in a freshly parsed model with the current sort and search re-applied.
func (e *Engine) install(m *guide.Model) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m == nil {
		e.filter = guide.Filter{}

		return nil
	}

	ordered, err := guide.Sort(e.view.SortCriteria, e.view.SortOrder, m.Channels)
	if err != nil {
		return fmt.Errorf("sorting refreshed guide: %w", err)
	}

	sorted := m.WithOrder(ordered)
	e.filter.Rebase(sorted)
	e.store.SetModel(sorted)

	return nil
}

func (e *Engine) resort(criteria guide.SortCriteria, order guide.SortOrder) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.view.SortCriteria = criteria
	e.view.SortOrder = order
	e.persistLocked()

	m, ok := e.store.Model()
	if !ok {
		return ErrNoGuide
	}

	ordered, err := guide.Sort(criteria, order, m.Channels)
	if err != nil {
		e.log.WithError(err).Error("Guide contains a malformed channel label")

		return err
	}

	e.store.SetModel(m.WithOrder(ordered))

	return nil
}

func (e *Engine) playable(controlID string) (playback.Playable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := strings.CutPrefix(controlID, RecordingControlPrefix); ok {
		for _, list := range e.recLists {
			for _, rec := range list {
				if rec.ID == id && rec.Playable() {
					return playback.Playable{
						ControlID:  controlID,
						SourceType: guide.SourceVOD,
						Sources:    rec.Sources(),
						Details:    recordingDetails(rec),
					}, nil
				}
			}
		}

		return playback.Playable{}, fmt.Errorf("%w: %s", ErrUnknownControl, controlID)
	}

	m, ok := e.store.Model()
	if !ok {
		return playback.Playable{}, ErrNoGuide
	}

	ch, ok := m.Channel(guide.ChannelIDOf(controlID))
	if !ok || len(ch.Sources) == 0 {
		return playback.Playable{}, fmt.Errorf("%w: %s", ErrUnknownControl, controlID)
	}

	return playback.Playable{
		ControlID:  ch.ID,
		SourceType: guide.SourceLive,
		Sources:    ch.Sources,
		Details:    ch.Label,
	}, nil
}

func (e *Engine) loadView() state.ViewState {
	if e.views == nil {
		return e.defaults
	}

	v, err := e.views.LoadOrDefault(e.defaults)
	if err != nil {
		e.log.WithError(err).Warn("Failed to load view settings, using defaults")

		return e.defaults
	}

	return v
}

func (e *Engine) syncSessionLocked(v state.ViewState) {
	if e.session == nil {
		return
	}

	expires, _ := e.session.SettingsExpiry()
	e.session.SetViewCookies(v, expires)
}

func (e *Engine) persistLocked() {
	e.syncSessionLocked(e.view)

	if e.views == nil {
		return
	}

	var expires time.Time
	if e.session != nil {
		expires, _ = e.session.SettingsExpiry()
	}

	if err := e.views.Save(e.view, expires); err != nil {
		e.log.WithError(err).Warn("Failed to persist view settings")
	}
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}

	return fmt.Sprintf("%d days", n)
}

func groupName(v state.ViewState) string {
	if v.Provider == "" {
		return v.Group
	}

	return v.Provider + " - " + v.Group
}

func programTitle(p *guide.Program) string {
	if _, title, ok := strings.Cut(p.Label, "|"); ok {
		return strings.TrimSpace(title)
	}

	return p.Title
}

func recordingDetails(rec api.Recording) string {
	const layout = "2006-01-02 15:04:05"

	return fmt.Sprintf("%s [%s - %s]", rec.ProgramTitle, rec.Start.Local().Format(layout), rec.End.Local().Format(layout))
}

func playbackFailure(err error) Outcome {
	out := alert(AlertError, "Error", "Playback failed", err.Error())
	out.Kind = OutcomePlaybackError

	return out
}
