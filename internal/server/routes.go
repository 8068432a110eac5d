// Package server provides the local HTTP control API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/savid/iptv-console/internal/api"
	"github.com/savid/iptv-console/internal/engine"
	"github.com/savid/iptv-console/internal/guide"
	"github.com/savid/iptv-console/internal/state"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the id logged for each control request.
const RequestIDHeader = "X-Request-ID"

// settingsInputs are the input names of a settings request body.
var settingsInputs = []string{"sort_criteria", "sort_order", "guide_window_days", "protocol", "provider", "group"}

// Engine is the session the routes drive.
type Engine interface {
	View() engine.View
	Settings() state.ViewState
	SettingsDirty(candidate state.ViewState) bool
	Dispatch(ctx context.Context, ev engine.Event) (engine.Outcome, error)
}

// Routes sets up all HTTP routes.
type Routes struct {
	log    logrus.FieldLogger
	engine Engine
}

// NewRoutes creates a new routes instance.
func NewRoutes(log logrus.FieldLogger, eng Engine) *Routes {
	return &Routes{
		log:    log.WithField("component", "routes"),
		engine: eng,
	}
}

type result struct {
	Outcome engine.Outcome `json:"outcome"`
	View    engine.View    `json:"view"`
}

type sortRequest struct {
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type groupRequest struct {
	Provider string `json:"provider"`
	Group    string `json:"group"`
}

type settingsResponse struct {
	Settings state.ViewState `json:"settings"`
	Dirty    bool            `json:"dirty"`
}

// Handler returns the main HTTP handler with all routes.
func (r *Routes) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", r.handleHealth).Methods(http.MethodGet)

	router.HandleFunc("/guide", r.handleGuide).Methods(http.MethodGet)
	router.HandleFunc("/guide/refresh", r.handleRefresh).Methods(http.MethodPost)
	router.HandleFunc("/guide/sort", r.handleSort).Methods(http.MethodPost)
	router.HandleFunc("/guide/search", r.handleSearch).Methods(http.MethodPost)
	router.HandleFunc("/guide/group", r.handleGroup).Methods(http.MethodPost)
	router.HandleFunc("/guide/channels/{id}/toggle", r.handleToggleChannel).Methods(http.MethodPost)
	router.HandleFunc("/guide/dates/{id}/toggle", r.handleToggleDate).Methods(http.MethodPost)
	router.HandleFunc("/guide/programs/{id}/record", r.handleRecord).Methods(http.MethodPost)

	router.HandleFunc("/settings", r.handleGetSettings).Methods(http.MethodGet)
	router.HandleFunc("/settings", r.handlePutSettings).Methods(http.MethodPut)
	router.HandleFunc("/settings/dirty", r.handleSettingsDirty).Methods(http.MethodPost)

	router.HandleFunc("/playback", r.handlePlayback).Methods(http.MethodGet)
	router.HandleFunc("/playback", r.handleClosePlayback).Methods(http.MethodDelete)
	router.HandleFunc("/playback/pause", r.handlePause).Methods(http.MethodPost)
	router.HandleFunc("/playback/{id}/toggle", r.handleTogglePlayback).Methods(http.MethodPost)

	router.HandleFunc("/recordings/refresh", r.handleRefreshRecordings).Methods(http.MethodPost)

	router.Use(r.loggingMiddleware)

	return router
}

func (r *Routes) handleHealth(w http.ResponseWriter, _ *http.Request) {
	view := r.engine.View()

	status := struct {
		Status   string `json:"status"`
		HasGuide bool   `json:"hasGuide"`
		LastSync string `json:"lastSync"`
	}{
		Status:   "ok",
		HasGuide: view.HasGuide,
		LastSync: view.LastSync,
	}

	r.writeData(w, http.StatusOK, status)
}

func (r *Routes) handleGuide(w http.ResponseWriter, _ *http.Request) {
	r.writeData(w, http.StatusOK, r.engine.View())
}

func (r *Routes) handleRefresh(w http.ResponseWriter, req *http.Request) {
	r.dispatch(w, req, engine.RefreshEvent{})
}

func (r *Routes) handleSort(w http.ResponseWriter, req *http.Request) {
	var body sortRequest
	if !r.decode(w, req, &body) {
		return
	}

	criteria, err := guide.ParseSortCriteria(body.SortBy)
	if err != nil {
		r.writeErrors(w, http.StatusBadRequest, api.FieldError{Field: "sort_by", UserMessage: err.Error()})

		return
	}

	order, err := guide.ParseSortOrder(body.SortOrder)
	if err != nil {
		r.writeErrors(w, http.StatusBadRequest, api.FieldError{Field: "sort_order", UserMessage: err.Error()})

		return
	}

	r.dispatch(w, req, engine.SortEvent{Criteria: criteria, Order: order})
}

func (r *Routes) handleSearch(w http.ResponseWriter, req *http.Request) {
	var body searchRequest
	if !r.decode(w, req, &body) {
		return
	}

	r.dispatch(w, req, engine.SearchEvent{Query: body.Query})
}

func (r *Routes) handleGroup(w http.ResponseWriter, req *http.Request) {
	var body groupRequest
	if !r.decode(w, req, &body) {
		return
	}

	r.dispatch(w, req, engine.SelectGroupEvent{Provider: body.Provider, Group: body.Group})
}

func (r *Routes) handleToggleChannel(w http.ResponseWriter, req *http.Request) {
	r.dispatch(w, req, engine.ToggleChannelEvent{ChannelID: mux.Vars(req)["id"]})
}

func (r *Routes) handleToggleDate(w http.ResponseWriter, req *http.Request) {
	r.dispatch(w, req, engine.ToggleDateEvent{DateID: mux.Vars(req)["id"]})
}

func (r *Routes) handleRecord(w http.ResponseWriter, req *http.Request) {
	r.dispatch(w, req, engine.RecordProgramEvent{ProgramID: mux.Vars(req)["id"]})
}

func (r *Routes) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	r.writeData(w, http.StatusOK, settingsResponse{Settings: r.engine.Settings()})
}

func (r *Routes) handlePutSettings(w http.ResponseWriter, req *http.Request) {
	var next state.ViewState
	if !r.decode(w, req, &next) {
		return
	}

	r.dispatch(w, req, engine.ApplySettingsEvent{Settings: next})
}

func (r *Routes) handleSettingsDirty(w http.ResponseWriter, req *http.Request) {
	var candidate state.ViewState
	if !r.decode(w, req, &candidate) {
		return
	}

	r.writeData(w, http.StatusOK, settingsResponse{
		Settings: candidate,
		Dirty:    r.engine.SettingsDirty(candidate),
	})
}

func (r *Routes) handlePlayback(w http.ResponseWriter, _ *http.Request) {
	r.writeData(w, http.StatusOK, r.engine.View().Playback)
}

func (r *Routes) handleClosePlayback(w http.ResponseWriter, req *http.Request) {
	r.dispatch(w, req, engine.ClosePlaybackEvent{})
}

func (r *Routes) handlePause(w http.ResponseWriter, req *http.Request) {
	r.dispatch(w, req, engine.PauseEvent{})
}

func (r *Routes) handleTogglePlayback(w http.ResponseWriter, req *http.Request) {
	r.dispatch(w, req, engine.TogglePlaybackEvent{ControlID: mux.Vars(req)["id"]})
}

func (r *Routes) handleRefreshRecordings(w http.ResponseWriter, req *http.Request) {
	r.dispatch(w, req, engine.RefreshRecordingsEvent{})
}

func (r *Routes) dispatch(w http.ResponseWriter, req *http.Request, ev engine.Event) {
	outcome, err := r.engine.Dispatch(req.Context(), ev)
	if err != nil {
		status, field := classify(err)

		r.log.WithError(err).WithField("status", status).Debug("Request failed")

		if errs := settingsErrors(err); len(errs) > 0 {
			r.writeErrors(w, status, errs...)

			return
		}

		r.writeErrors(w, status, api.FieldError{Field: field, UserMessage: err.Error()})

		return
	}

	r.writeData(w, http.StatusOK, result{Outcome: outcome.Named(), View: r.engine.View()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrUnknownControl), errors.Is(err, engine.ErrUnknownProgram):
		return http.StatusNotFound, "id"
	case errors.Is(err, engine.ErrNoGuide):
		return http.StatusConflict, "guide"
	case errors.Is(err, engine.ErrInvalidSettings):
		return http.StatusBadRequest, "settings"
	default:
		if _, ok := api.AsError(err); ok {
			return http.StatusBadGateway, "console"
		}

		return http.StatusInternalServerError, ""
	}
}

// settingsErrors maps per-field validation failures onto the settings inputs.
func settingsErrors(err error) []api.FieldError {
	if !errors.Is(err, engine.ErrInvalidSettings) {
		return nil
	}

	var fields []api.FieldError

	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case *state.FieldError:
			fields = append(fields, api.FieldError{Field: e.Field, UserMessage: e.Error()})
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)

	mapped := api.MapFieldErrors(fields, settingsInputs)

	var errs []api.FieldError

	for _, input := range settingsInputs {
		for _, message := range mapped[input] {
			errs = append(errs, api.FieldError{Field: input, UserMessage: message})
		}
	}

	return errs
}

func (r *Routes) decode(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20)).Decode(v); err != nil {
		r.writeErrors(w, http.StatusBadRequest, api.FieldError{Field: "body", UserMessage: "Invalid request body: " + err.Error()})

		return false
	}

	return true
}

func (r *Routes) writeData(w http.ResponseWriter, status int, v any) {
	if err := api.WriteData(w, status, v); err != nil {
		r.log.WithError(err).Error("Failed to write response")
	}
}

func (r *Routes) writeErrors(w http.ResponseWriter, status int, errs ...api.FieldError) {
	if err := api.WriteErrors(w, status, errs...); err != nil {
		r.log.WithError(err).Error("Failed to write error response")
	}
}

func (r *Routes) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		next.ServeHTTP(w, req)

		r.log.WithFields(logrus.Fields{
			"method":   req.Method,
			"path":     req.URL.Path,
			"remote":   req.RemoteAddr,
			"request":  id,
			"duration": time.Since(start),
		}).Info("HTTP request")
	})
}
