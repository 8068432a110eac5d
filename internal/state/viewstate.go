// Package state holds the per-session view settings and their durable storage.
package state

import (
	"errors"
	"fmt"

	"github.com/savid/iptv-console/internal/guide"
)

// Guide window bounds in days.
const (
	MinWindowDays = 1
	MaxWindowDays = 5
)

// FieldError is a validation failure of one settings field. Field is a prefix
// of the settings input names it applies to.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ViewState is the user's guide and playback preferences.
type ViewState struct {
	SortCriteria    guide.SortCriteria `json:"sort_criteria"`
	SortOrder       guide.SortOrder    `json:"sort_order"`
	GuideWindowDays int                `json:"guide_window_days"`
	Protocol        string             `json:"protocol"`
	Provider        string             `json:"provider"`
	Group           string             `json:"group"`
}

// Default returns the settings used when nothing has been persisted.
func Default() ViewState {
	return ViewState{
		SortCriteria:    guide.SortByNumber,
		SortOrder:       guide.Ascending,
		GuideWindowDays: MinWindowDays,
		Protocol:        guide.ProtocolHLS,
	}
}

// Validate checks every field.
func (v ViewState) Validate() error {
	var errs []error

	if !v.SortCriteria.Valid() {
		errs = append(errs, &FieldError{Field: "sort_criteria", Err: fmt.Errorf("invalid sort criteria %d", int(v.SortCriteria))})
	}

	if !v.SortOrder.Valid() {
		errs = append(errs, &FieldError{Field: "sort_order", Err: fmt.Errorf("invalid sort order %d", int(v.SortOrder))})
	}

	if v.GuideWindowDays < MinWindowDays || v.GuideWindowDays > MaxWindowDays {
		errs = append(errs, &FieldError{Field: "guide_window", Err: fmt.Errorf("guide window must be between %d and %d days, got %d",
			MinWindowDays, MaxWindowDays, v.GuideWindowDays)})
	}

	if v.Protocol != guide.ProtocolHLS && v.Protocol != guide.ProtocolRTMP {
		errs = append(errs, &FieldError{Field: "protocol", Err: fmt.Errorf("unsupported protocol %q", v.Protocol)})
	}

	return errors.Join(errs...)
}

// Changes describes which groups of settings differ between two states.
type Changes struct {
	Window   bool
	Group    bool
	Sort     bool
	Protocol bool
}

// Any reports whether anything changed.
func (c Changes) Any() bool {
	return c.Window || c.Group || c.Sort || c.Protocol
}

// Diff compares v against next.
func (v ViewState) Diff(next ViewState) Changes {
	return Changes{
		Window:   v.GuideWindowDays != next.GuideWindowDays,
		Group:    v.Provider != next.Provider || v.Group != next.Group,
		Sort:     v.SortCriteria != next.SortCriteria || v.SortOrder != next.SortOrder,
		Protocol: v.Protocol != next.Protocol,
	}
}
