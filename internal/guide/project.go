package guide

import (
	"fmt"
	"strings"
)

// NoResultsID is the id of the placeholder node shown when a search matches nothing.
const NoResultsID = "noMatchingProgramLi"

// NodeKind identifies the role of a node in the rendered guide.
type NodeKind int

const (
	KindChannel NodeKind = iota
	KindChannelPrograms
	KindDate
	KindDatePrograms
	KindProgram
	KindSeparator
	KindAlert
	KindButtons
	KindDateSeparator
	KindNoResults
)

var kindNames = map[NodeKind]string{
	KindChannel:         "channel",
	KindChannelPrograms: "channel-programs",
	KindDate:            "date",
	KindDatePrograms:    "date-programs",
	KindProgram:         "program",
	KindSeparator:       "separator",
	KindAlert:           "alert",
	KindButtons:         "buttons",
	KindDateSeparator:   "date-separator",
	KindNoResults:       "no-results",
}

func (k NodeKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k NodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Node is one row of the projected guide.
type Node struct {
	ID        string    `json:"id"`
	Kind      NodeKind  `json:"kind"`
	Depth     int       `json:"depth"`
	ChannelID string    `json:"channel_id"`
	TargetID  string    `json:"target_id"` // channel, date group or program id the node belongs to
	Text      string    `json:"text,omitempty"`
	Fold      FoldState `json:"fold"`
	IsLast    bool      `json:"is_last,omitempty"`
	Visible   bool      `json:"visible"`
}

// ChannelNodeID returns the node id of a channel row.
func ChannelNodeID(channelID string) string {
	return channelID + "_channelLi"
}

// ChannelProgramsNodeID returns the node id of the block holding a channel's date groups.
func ChannelProgramsNodeID(channelID string) string {
	return channelID + "_channelProgramsLi"
}

// DateNodeID returns the node id of a date group header.
func DateNodeID(channelID string, index int) string {
	return fmt.Sprintf("%s_dateLi_%d", channelID, index)
}

func datePartID(channelID, part string, index int) string {
	return fmt.Sprintf("%s_%s_%d", channelID, part, index)
}

// ChannelIDOf returns the channel id prefix of any guide node or model id.
func ChannelIDOf(id string) string {
	prefix, _, _ := strings.Cut(id, "_")

	return prefix
}

// walk emits every guide node in display order together with whether all of its
// enclosing folds are expanded.
func walk(channels []*Channel, fn func(n Node, open bool)) {
	for i, ch := range channels {
		fn(Node{
			ID:        ChannelNodeID(ch.ID),
			Kind:      KindChannel,
			ChannelID: ch.ID,
			TargetID:  ch.ID,
			Text:      ch.Label,
			Fold:      ch.Fold,
			IsLast:    i == len(channels)-1,
		}, true)

		if len(ch.DateGroups) == 0 {
			continue
		}

		channelOpen := ch.Fold == Expanded

		fn(Node{
			ID:        ChannelProgramsNodeID(ch.ID),
			Kind:      KindChannelPrograms,
			Depth:     1,
			ChannelID: ch.ID,
			TargetID:  ch.ID,
		}, channelOpen)

		for _, dg := range ch.DateGroups {
			dateOpen := channelOpen && dg.Fold == Expanded

			fn(Node{
				ID:        DateNodeID(ch.ID, dg.Index),
				Kind:      KindDate,
				Depth:     2,
				ChannelID: ch.ID,
				TargetID:  dg.ID,
				Text:      dg.Date.Format("January 02, 2006"),
				Fold:      dg.Fold,
			}, channelOpen)

			fn(Node{
				ID:        datePartID(ch.ID, "dateProgramsLi", dg.Index),
				Kind:      KindDatePrograms,
				Depth:     3,
				ChannelID: ch.ID,
				TargetID:  dg.ID,
			}, dateOpen)

			for _, p := range dg.Programs {
				fn(Node{
					ID:        p.ID,
					Kind:      KindProgram,
					Depth:     4,
					ChannelID: ch.ID,
					TargetID:  p.ID,
					Text:      p.Label,
				}, dateOpen)
			}

			for _, marker := range []struct {
				part string
				kind NodeKind
			}{
				{"separatorLi", KindSeparator},
				{"alertLi", KindAlert},
				{"buttonsLi", KindButtons},
			} {
				fn(Node{
					ID:        datePartID(ch.ID, marker.part, dg.Index),
					Kind:      marker.kind,
					Depth:     4,
					ChannelID: ch.ID,
					TargetID:  dg.ID,
				}, dateOpen)
			}

			fn(Node{
				ID:        datePartID(ch.ID, "dateSeparatorLi", dg.Index),
				Kind:      KindDateSeparator,
				Depth:     2,
				ChannelID: ch.ID,
				TargetID:  dg.ID,
			}, channelOpen)
		}
	}

	fn(Node{ID: NoResultsID, Kind: KindNoResults, Text: "No matching programs"}, true)
}

// Project renders the channels, in the given order, into a flat node list.
func Project(channels []*Channel, vis Visibility) []Node {
	nodes := make([]Node, 0, len(channels)*4)

	walk(channels, func(n Node, _ bool) {
		n.Visible = vis.Visible[n.ID]
		nodes = append(nodes, n)
	})

	return nodes
}

// VisibleIDs returns the ids of the visible nodes, in order.
func VisibleIDs(nodes []Node) []string {
	ids := make([]string, 0, len(nodes))

	for _, n := range nodes {
		if n.Visible {
			ids = append(ids, n.ID)
		}
	}

	return ids
}
