package guide

import (
	"strings"
)

// Visibility is the result of applying a search query to a model.
type Visibility struct {
	Query     string
	Matches   int
	NoResults bool
	Visible   map[string]bool
}

// IsVisible reports whether the node with the given id is shown.
func (v Visibility) IsVisible(id string) bool {
	return v.Visible[id]
}

// Filter tracks the active search query and the fold states captured when a
// search started, so that clearing the query restores them.
type Filter struct {
	query    string
	snapshot map[string]FoldState
}

// Query returns the active query.
func (f *Filter) Query() string {
	return f.query
}

// Active reports whether a non-empty query is applied.
func (f *Filter) Active() bool {
	return f.query != ""
}

// Apply sets the query and adjusts fold states. A non-empty query collapses
// everything and expands each channel and date group holding a match. Clearing
// the query restores the folds captured before the search began.
func (f *Filter) Apply(query string, m *Model) Visibility {
	switch {
	case query == "" && f.query != "":
		f.restore(m)
	case query != "":
		if f.query == "" {
			f.capture(m)
		}

		expandMatches(query, m)
	}

	f.query = query

	return f.Visibility(m)
}

// Rebase aligns the filter with a freshly loaded model. Folds of nodes that were
// not part of the previous model are recorded so a later restore leaves them collapsed,
// and an active query is re-applied.
func (f *Filter) Rebase(m *Model) Visibility {
	if f.query == "" {
		return f.Visibility(m)
	}

	for _, ch := range m.Channels {
		if _, ok := f.snapshot[ch.ID]; !ok {
			f.snapshot[ch.ID] = Collapsed
		}

		for _, dg := range ch.DateGroups {
			if _, ok := f.snapshot[dg.ID]; !ok {
				f.snapshot[dg.ID] = Collapsed
			}
		}
	}

	expandMatches(f.query, m)

	return f.Visibility(m)
}

// Visibility computes the visible node set from the current query and fold states
// without changing either.
func (f *Filter) Visibility(m *Model) Visibility {
	vis := Visibility{Query: f.query, Visible: make(map[string]bool)}

	if f.query == "" {
		walk(m.Channels, func(n Node, open bool) {
			if open && n.Kind != KindNoResults {
				vis.Visible[n.ID] = true
			}
		})

		return vis
	}

	candidates := make(map[string]bool)
	needle := strings.ToUpper(f.query)

	for _, ch := range m.Channels {
		for _, dg := range ch.DateGroups {
			matched := false

			for _, p := range dg.Programs {
				if !strings.Contains(strings.ToUpper(p.Label), needle) {
					continue
				}

				vis.Matches++
				matched = true
				candidates[p.ID] = true
			}

			if !matched {
				continue
			}

			candidates[ChannelNodeID(ch.ID)] = true
			candidates[ChannelProgramsNodeID(ch.ID)] = true
			candidates[DateNodeID(ch.ID, dg.Index)] = true

			for _, part := range []string{"dateProgramsLi", "separatorLi", "alertLi", "buttonsLi", "dateSeparatorLi"} {
				candidates[datePartID(ch.ID, part, dg.Index)] = true
			}
		}
	}

	if vis.Matches == 0 {
		vis.NoResults = true
		vis.Visible[NoResultsID] = true

		return vis
	}

	walk(m.Channels, func(n Node, open bool) {
		if open && candidates[n.ID] {
			vis.Visible[n.ID] = true
		}
	})

	return vis
}

func (f *Filter) capture(m *Model) {
	f.snapshot = make(map[string]FoldState, len(m.Channels)*2)

	for _, ch := range m.Channels {
		f.snapshot[ch.ID] = ch.Fold

		for _, dg := range ch.DateGroups {
			f.snapshot[dg.ID] = dg.Fold
		}
	}
}

func (f *Filter) restore(m *Model) {
	for _, ch := range m.Channels {
		ch.Fold = f.snapshot[ch.ID]

		for _, dg := range ch.DateGroups {
			dg.Fold = f.snapshot[dg.ID]
		}
	}

	f.snapshot = nil
}

func expandMatches(query string, m *Model) {
	needle := strings.ToUpper(query)

	for _, ch := range m.Channels {
		ch.Fold = Collapsed

		for _, dg := range ch.DateGroups {
			dg.Fold = Collapsed

			for _, p := range dg.Programs {
				if strings.Contains(strings.ToUpper(p.Label), needle) {
					dg.Fold = Expanded
					ch.Fold = Expanded

					break
				}
			}
		}
	}
}
