package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/savid/iptv-console/internal/api"
	"github.com/savid/iptv-console/internal/guide"
	"github.com/savid/iptv-console/internal/playback"
	"github.com/savid/iptv-console/internal/state"
)

// RecordingControlPrefix marks play controls that belong to recordings.
const RecordingControlPrefix = "recording:"

// OutcomeKind tells the UI what to do after an operation.
type OutcomeKind int

const (
	// OutcomeNone needs no action beyond redrawing.
	OutcomeNone OutcomeKind = iota
	// OutcomeAlert shows an alert.
	OutcomeAlert
	// OutcomeReload means the session was bootstrapped again.
	OutcomeReload
	// OutcomePlaybackError shows a playback error.
	OutcomePlaybackError
	// OutcomeFullPage replaces the whole document.
	OutcomeFullPage
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeAlert:
		return "alert"
	case OutcomeReload:
		return "reload"
	case OutcomePlaybackError:
		return "playback-error"
	case OutcomeFullPage:
		return "full-page"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertSuccess AlertLevel = "success"
	AlertInfo    AlertLevel = "info"
	AlertError   AlertLevel = "error"
)

// Alert is a user facing message.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Header  string     `json:"header"`
	Message string     `json:"message"`
	Reason  string     `json:"reason,omitempty"`
}

// Outcome is the result of an operation as the UI sees it.
type Outcome struct {
	Kind       OutcomeKind `json:"-"`
	KindName   string      `json:"kind"`
	Alert      *Alert      `json:"alert,omitempty"`
	Caption    string      `json:"caption,omitempty"`
	Head       string      `json:"head,omitempty"`
	Body       string      `json:"body,omitempty"`
	Superseded bool        `json:"superseded,omitempty"`
	Err        error       `json:"-"`
}

// Named fills KindName for serialisation.
func (o Outcome) Named() Outcome {
	o.KindName = o.Kind.String()

	return o
}

func alert(level AlertLevel, header, message, reason string) Outcome {
	return Outcome{
		Kind:  OutcomeAlert,
		Alert: &Alert{Level: level, Header: header, Message: message, Reason: reason},
	}
}

// Event is a user action.
type Event interface {
	event()
}

type (
	// SortEvent re-orders the guide.
	SortEvent struct {
		Criteria guide.SortCriteria
		Order    guide.SortOrder
	}
	// SearchEvent filters programs.
	SearchEvent struct{ Query string }
	// ToggleChannelEvent expands or collapses a channel.
	ToggleChannelEvent struct{ ChannelID string }
	// ToggleDateEvent expands or collapses a date group.
	ToggleDateEvent struct{ DateID string }
	// ApplySettingsEvent applies new view settings.
	ApplySettingsEvent struct{ Settings state.ViewState }
	// SelectGroupEvent switches provider group.
	SelectGroupEvent struct{ Provider, Group string }
	// RefreshEvent refreshes the guide.
	RefreshEvent struct{}
	// TogglePlaybackEvent is a click on a play control.
	TogglePlaybackEvent struct{ ControlID string }
	// PauseEvent pauses playback.
	PauseEvent struct{}
	// ClosePlaybackEvent closes the player.
	ClosePlaybackEvent struct{}
	// RecordProgramEvent schedules a recording.
	RecordProgramEvent struct{ ProgramID string }
	// RefreshRecordingsEvent reloads the recording lists.
	RefreshRecordingsEvent struct{}
)

func (SortEvent) event()              {}
func (SearchEvent) event()            {}
func (ToggleChannelEvent) event()     {}
func (ToggleDateEvent) event()        {}
func (ApplySettingsEvent) event()     {}
func (SelectGroupEvent) event()       {}
func (RefreshEvent) event()           {}
func (TogglePlaybackEvent) event()    {}
func (PauseEvent) event()             {}
func (ClosePlaybackEvent) event()     {}
func (RecordProgramEvent) event()     {}
func (RefreshRecordingsEvent) event() {}

// Dispatch runs the operation for ev.
func (e *Engine) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	none := Outcome{Kind: OutcomeNone}

	switch ev := ev.(type) {
	case SortEvent:
		return e.Sort(ctx, ev.Criteria, ev.Order)
	case SearchEvent:
		_, err := e.Search(ev.Query)

		return none, err
	case ToggleChannelEvent:
		return none, e.ToggleChannel(ev.ChannelID)
	case ToggleDateEvent:
		return none, e.ToggleDate(ev.DateID)
	case ApplySettingsEvent:
		return e.ApplySettings(ctx, ev.Settings)
	case SelectGroupEvent:
		return e.SelectGroup(ctx, ev.Provider, ev.Group)
	case RefreshEvent:
		return e.Refresh(ctx), nil
	case TogglePlaybackEvent:
		return e.TogglePlayback(ctx, ev.ControlID)
	case PauseEvent:
		if err := e.Pause(); err != nil && !errors.Is(err, playback.ErrNotPlaying) {
			return none, err
		}

		return none, nil
	case ClosePlaybackEvent:
		return none, e.ClosePlayback()
	case RecordProgramEvent:
		return e.RecordProgram(ctx, ev.ProgramID)
	case RefreshRecordingsEvent:
		_, err := e.RefreshRecordings(ctx)

		return none, err
	default:
		return none, fmt.Errorf("unsupported event %T", ev)
	}
}

// View is a snapshot of everything a UI renders.
type View struct {
	Nodes      []guide.Node                            `json:"nodes"`
	Query      string                                  `json:"query,omitempty"`
	Matches    int                                     `json:"matches"`
	NoResults  bool                                    `json:"no_results"`
	Settings   state.ViewState                         `json:"settings"`
	Playback   playback.Status                         `json:"playback"`
	Icons      map[string]string                       `json:"icons"`
	Recordings map[api.RecordingStatus][]api.Recording `json:"recordings,omitempty"`
	HasGuide   bool                                    `json:"has_guide"`
	LastSync   string                                  `json:"last_sync,omitempty"`
	LastResult string                                  `json:"last_result,omitempty"`
}

// View projects the current state.
func (e *Engine) View() View {
	e.mu.Lock()

	v := View{
		Settings:   e.view,
		Icons:      make(map[string]string),
		Recordings: make(map[api.RecordingStatus][]api.Recording, len(e.recLists)),
		LastResult: e.lastResult,
	}

	for status, list := range e.recLists {
		v.Recordings[status] = list
	}

	var controls []string

	if m, ok := e.store.Model(); ok {
		vis := e.filter.Visibility(m)

		v.HasGuide = true
		v.Nodes = guide.Project(m.Channels, vis)
		v.Query = vis.Query
		v.Matches = vis.Matches
		v.NoResults = vis.NoResults

		for _, ch := range m.Channels {
			controls = append(controls, ch.ID)
		}
	}

	if sync := e.store.LastSync(); !sync.IsZero() {
		v.LastSync = sync.UTC().Format(time.RFC3339)
	}

	for _, list := range e.recLists {
		for _, rec := range list {
			if rec.Playable() {
				controls = append(controls, RecordingControlPrefix+rec.ID)
			}
		}
	}
	e.mu.Unlock()

	for _, id := range controls {
		v.Icons[id] = e.player.ControlIcon(id)
	}

	v.Playback = e.player.Status()

	return v
}
