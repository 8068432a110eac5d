package guide

import (
	"fmt"
	"slices"
	"strings"
)

// SortCriteria selects the channel sort key. Values match the console's settings form.
type SortCriteria int

const (
	SortByName SortCriteria = iota
	SortByNumber
)

func (c SortCriteria) String() string {
	switch c {
	case SortByName:
		return "name"
	case SortByNumber:
		return "number"
	default:
		return fmt.Sprintf("SortCriteria(%d)", int(c))
	}
}

// Valid reports whether c is a known criteria.
func (c SortCriteria) Valid() bool {
	return c == SortByName || c == SortByNumber
}

// ParseSortCriteria parses "name" or "number".
func ParseSortCriteria(s string) (SortCriteria, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "name":
		return SortByName, nil
	case "number":
		return SortByNumber, nil
	default:
		return 0, fmt.Errorf("unknown sort criteria %q", s)
	}
}

// SortOrder selects ascending or descending order. Values match the console's settings form.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

func (o SortOrder) String() string {
	switch o {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	default:
		return fmt.Sprintf("SortOrder(%d)", int(o))
	}
}

// Valid reports whether o is a known order.
func (o SortOrder) Valid() bool {
	return o == Ascending || o == Descending
}

// ParseSortOrder parses "asc", "ascending", "desc" or "descending".
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return 0, fmt.Errorf("unknown sort order %q", s)
	}
}

type sortKey struct {
	channel *Channel
	number  int
	name    string
}

// Sort returns the channels ordered by criteria and order. The input slice is not modified.
// Every label is parsed; a malformed label fails the whole sort and nothing is returned.
func Sort(criteria SortCriteria, order SortOrder, channels []*Channel) ([]*Channel, error) {
	if !criteria.Valid() {
		return nil, fmt.Errorf("invalid sort criteria %d", int(criteria))
	}

	if !order.Valid() {
		return nil, fmt.Errorf("invalid sort order %d", int(order))
	}

	keys := make([]sortKey, 0, len(channels))

	for _, ch := range channels {
		number, name, err := ParseLabel(ch.Label)
		if err != nil {
			return nil, fmt.Errorf("sorting channel %s: %w", ch.ID, err)
		}

		keys = append(keys, sortKey{channel: ch, number: number, name: name})
	}

	compare := func(a, b sortKey) int {
		if criteria == SortByNumber {
			return a.number - b.number
		}

		return strings.Compare(a.name, b.name)
	}

	slices.SortStableFunc(keys, func(a, b sortKey) int {
		result := compare(a, b)
		if order == Descending {
			return -result
		}

		return result
	})

	ordered := make([]*Channel, len(keys))
	for i, k := range keys {
		ordered[i] = k.channel
	}

	return ordered, nil
}
