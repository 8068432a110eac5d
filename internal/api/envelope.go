// Package api handles the console's JSON envelope, field-keyed errors and the recordings endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reasons shown when a console call fails without a usable error body.
const (
	ReasonUnreachable = "Check if IPTVProxy is up and running"
	ReasonUnexpected  = "Encountered unexpected error"
)

// FieldError is one entry of an error envelope.
type FieldError struct {
	Field       string `json:"field,omitempty"`
	UserMessage string `json:"user_message"`
}

// Envelope is the console's response wrapper: either data or errors.
type Envelope struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []FieldError    `json:"errors,omitempty"`
}

// Error is a failed console call.
type Error struct {
	Status int
	Errors []FieldError
	Err    error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("console unreachable: %v", e.Err)
	}

	if len(e.Errors) > 0 {
		return fmt.Sprintf("console returned %d: %s", e.Status, e.Errors[0].UserMessage)
	}

	return fmt.Sprintf("console returned %d", e.Status)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unreachable reports whether no response was received.
func (e *Error) Unreachable() bool {
	return e.Status == 0
}

// Reason returns the user-facing explanation of the failure.
func (e *Error) Reason() string {
	switch {
	case e.Status == 0:
		return ReasonUnreachable
	case len(e.Errors) > 0 && e.Errors[0].UserMessage != "":
		return e.Errors[0].UserMessage
	case e.Status == http.StatusBadRequest:
		return ReasonUnexpected
	default:
		return http.StatusText(e.Status)
	}
}

// Decode interprets a console response. Any non-2xx status, or a transport
// error, is returned as *Error.
func Decode(status int, payload []byte, transportErr error) (*Envelope, error) {
	if transportErr != nil || status == 0 {
		return nil, &Error{Status: 0, Err: transportErr}
	}

	var env Envelope

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &env); err != nil && status >= 200 && status < 300 {
			return nil, fmt.Errorf("failed to decode console response: %w", err)
		}
	}

	if status < 200 || status >= 300 {
		return nil, &Error{Status: status, Errors: env.Errors}
	}

	return &env, nil
}

// AsError extracts a console error from err.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}

	return nil, false
}

// MapFieldErrors assigns each error message to every input whose name starts
// with the error's field.
func MapFieldErrors(errs []FieldError, inputs []string) map[string][]string {
	mapped := make(map[string][]string)

	for _, fe := range errs {
		if fe.Field == "" {
			continue
		}

		message := strings.ReplaceAll(fe.UserMessage, "\n", " ")

		for _, input := range inputs {
			if strings.HasPrefix(input, fe.Field) {
				mapped[input] = append(mapped[input], message)
			}
		}
	}

	return mapped
}

// WriteData writes v wrapped in a data envelope.
func WriteData(w http.ResponseWriter, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	return write(w, status, Envelope{Data: data})
}

// WriteErrors writes an error envelope.
func WriteErrors(w http.ResponseWriter, status int, errs ...FieldError) error {
	return write(w, status, Envelope{Errors: errs})
}

func write(w http.ResponseWriter, status int, env Envelope) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(env); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	return nil
}
