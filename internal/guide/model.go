// Package guide provides the in-memory channel/date/program guide model,
// channel sorting, program search and the node projection used for rendering.
package guide

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	// ErrMalformedLabel is returned when a channel label does not have the "<number> - <name>" shape.
	ErrMalformedLabel = errors.New("malformed channel label")
	// ErrDuplicateChannel is returned when two channels share the same id.
	ErrDuplicateChannel = errors.New("duplicate channel id")
	// ErrDuplicateDateGroup is returned when a channel has two date groups for the same day.
	ErrDuplicateDateGroup = errors.New("duplicate date group")
)

// Streaming protocols offered by the console.
const (
	ProtocolHLS  = "hls"
	ProtocolRTMP = "rtmp"
)

var labelPattern = regexp.MustCompile(`(?s)^\s*(\d+) - (.*)$`)

// FoldState is the expanded/collapsed state of a channel or date group.
type FoldState int

const (
	Collapsed FoldState = iota
	Expanded
)

func (f FoldState) String() string {
	if f == Expanded {
		return "expanded"
	}

	return "collapsed"
}

// Toggle returns the opposite fold state.
func (f FoldState) Toggle() FoldState {
	if f == Expanded {
		return Collapsed
	}

	return Expanded
}

// SourceType tells whether a playable item is a live channel or a recorded asset.
type SourceType string

const (
	SourceLive SourceType = "live"
	SourceVOD  SourceType = "vod"
)

// VideoSource describes one protocol-specific stream location.
type VideoSource struct {
	URI  string `json:"videoSource"`
	Hint string `json:"videoType,omitempty"`
}

// Program is a single guide entry. ChannelID is a lookup key only.
type Program struct {
	ID            string
	ChannelID     string
	Title         string
	Label         string
	Description   string
	Start         time.Time
	End           time.Time
	SourceType    SourceType
	Sources       map[string]VideoSource
	RecordRequest []byte
}

// DateGroup holds the programs of one channel that start on the same day.
type DateGroup struct {
	ID       string
	Index    int
	Date     time.Time
	Fold     FoldState
	Programs []*Program
}

// Channel is one guide entry with its date groups in server order.
type Channel struct {
	ID         string
	Number     int
	Name       string
	Label      string
	Fold       FoldState
	Sources    map[string]VideoSource
	DateGroups []*DateGroup
}

// ParseLabel splits a display label of the form "<number> - <name>".
func ParseLabel(label string) (int, string, error) {
	matches := labelPattern.FindStringSubmatch(label)
	if matches == nil {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedLabel, label)
	}

	number, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q: %w", ErrMalformedLabel, label, err)
	}

	return number, matches[2], nil
}

// Model is an immutable-by-reference guide snapshot. Channels is in display order.
// Fold states are the only fields changed in place after construction.
type Model struct {
	Channels []*Channel

	channels map[string]*Channel
	programs map[string]*Program
	dates    map[string]*DateGroup
}

// NewModel indexes the channels and checks the guide invariants.
func NewModel(channels []*Channel) (*Model, error) {
	m := &Model{
		Channels: channels,
		channels: make(map[string]*Channel, len(channels)),
		programs: make(map[string]*Program, len(channels)*8),
		dates:    make(map[string]*DateGroup, len(channels)*2),
	}

	for _, ch := range channels {
		if _, exists := m.channels[ch.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, ch.ID)
		}

		number, name, err := ParseLabel(ch.Label)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.ID, err)
		}

		ch.Number = number
		ch.Name = name
		m.channels[ch.ID] = ch

		days := make(map[string]bool, len(ch.DateGroups))

		for _, dg := range ch.DateGroups {
			day := dg.Date.Format(time.DateOnly)
			if days[day] {
				return nil, fmt.Errorf("%w: channel %s, %s", ErrDuplicateDateGroup, ch.ID, day)
			}

			days[day] = true
			m.dates[dg.ID] = dg

			for _, p := range dg.Programs {
				m.programs[p.ID] = p
			}
		}
	}

	return m, nil
}

// WithOrder returns a new model sharing the same nodes but with a different channel order.
func (m *Model) WithOrder(ordered []*Channel) *Model {
	return &Model{
		Channels: ordered,
		channels: m.channels,
		programs: m.programs,
		dates:    m.dates,
	}
}

// Channel looks up a channel by id.
func (m *Model) Channel(id string) (*Channel, bool) {
	ch, ok := m.channels[id]

	return ch, ok
}

// Program looks up a program by id.
func (m *Model) Program(id string) (*Program, bool) {
	p, ok := m.programs[id]

	return p, ok
}

// DateGroup looks up a date group by id.
func (m *Model) DateGroup(id string) (*DateGroup, bool) {
	dg, ok := m.dates[id]

	return dg, ok
}

// ProgramCount returns the number of programs in the model.
func (m *Model) ProgramCount() int {
	return len(m.programs)
}

// ToggleChannel flips the given channel and collapses every other channel.
func (m *Model) ToggleChannel(id string) bool {
	target, ok := m.channels[id]
	if !ok {
		return false
	}

	for _, ch := range m.Channels {
		if ch != target {
			ch.Fold = Collapsed
		}
	}

	target.Fold = target.Fold.Toggle()

	return true
}

// ToggleDate flips a single date group.
func (m *Model) ToggleDate(id string) bool {
	dg, ok := m.dates[id]
	if !ok {
		return false
	}

	dg.Fold = dg.Fold.Toggle()

	return true
}
