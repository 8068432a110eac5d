package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/savid/iptv-console/internal/guide"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

const recordingsPath = "/recordings"

// RecordingStatus is the lifecycle state of a recording.
type RecordingStatus string

const (
	StatusLive      RecordingStatus = "live"
	StatusPersisted RecordingStatus = "persisted"
	StatusScheduled RecordingStatus = "scheduled"
)

// Transport sends JSON requests to the console. The status is 0 when no response arrived.
type Transport interface {
	DoJSON(ctx context.Context, method, path string, body []byte) (int, []byte, error)
}

// Recording is a scheduled, live or persisted recording.
type Recording struct {
	ID            string          `json:"id"`
	ChannelNumber string          `json:"channel_number"`
	ChannelName   string          `json:"channel_name"`
	ProgramTitle  string          `json:"program_title"`
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	PlaylistURL   string          `json:"playlist_url,omitempty"`
	Status        RecordingStatus `json:"status"`
}

// Playable reports whether the recording can be played back.
func (r Recording) Playable() bool {
	return r.PlaylistURL != ""
}

// Sources returns the playback sources of a persisted recording.
func (r Recording) Sources() map[string]guide.VideoSource {
	if !r.Playable() {
		return nil
	}

	return map[string]guide.VideoSource{
		guide.ProtocolHLS: {URI: r.PlaylistURL, Hint: "application/vnd.apple.mpegurl"},
	}
}

type recordingResource struct {
	ID         string `json:"id"`
	Attributes struct {
		ChannelNumber string `json:"channel_number"`
		ChannelName   string `json:"channel_name"`
		ProgramTitle  string `json:"program_title"`
		Start         string `json:"start_date_time_in_utc"`
		End           string `json:"end_date_time_in_utc"`
		PlaylistURL   string `json:"playlist_url"`
		Status        string `json:"status"`
	} `json:"attributes"`
}

func (r recordingResource) toRecording() Recording {
	rec := Recording{
		ID:            r.ID,
		ChannelNumber: r.Attributes.ChannelNumber,
		ChannelName:   r.Attributes.ChannelName,
		ProgramTitle:  r.Attributes.ProgramTitle,
		PlaylistURL:   r.Attributes.PlaylistURL,
		Status:        RecordingStatus(r.Attributes.Status),
	}

	rec.Start = parseRecordingTime(r.Attributes.Start)
	rec.End = parseRecordingTime(r.Attributes.End)

	return rec
}

func parseRecordingTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04:05-07:00", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}

// Client calls the console's recordings endpoints.
type Client struct {
	log       logrus.FieldLogger
	transport Transport
}

// NewClient creates a new recordings client.
func NewClient(log logrus.FieldLogger, transport Transport) *Client {
	return &Client{
		log:       log.WithField("component", "recordings"),
		transport: transport,
	}
}

// Schedule posts a record request as rendered in the guide.
func (c *Client) Schedule(ctx context.Context, request []byte) error {
	if !json.Valid(request) {
		return fmt.Errorf("record request is not valid JSON")
	}

	status, payload, err := c.transport.DoJSON(ctx, http.MethodPost, recordingsPath, request)
	if _, err := Decode(status, payload, err); err != nil {
		return err
	}

	return nil
}

// List returns the recordings with the given status.
func (c *Client) List(ctx context.Context, status RecordingStatus) ([]Recording, error) {
	path := recordingsPath + "?" + url.Values{"status": {string(status)}}.Encode()

	code, payload, err := c.transport.DoJSON(ctx, http.MethodGet, path, nil)

	env, err := Decode(code, payload, err)
	if err != nil {
		return nil, err
	}

	var resources []recordingResource

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &resources); err != nil {
			return nil, fmt.Errorf("failed to decode recordings: %w", err)
		}
	}

	recordings := make([]Recording, 0, len(resources))
	for _, r := range resources {
		recordings = append(recordings, r.toRecording())
	}

	return recordings, nil
}

// ListMany fetches several recording lists concurrently.
func (c *Client) ListMany(ctx context.Context, statuses ...RecordingStatus) (map[RecordingStatus][]Recording, error) {
	type listing struct {
		status     RecordingStatus
		recordings []Recording
	}

	p := pool.NewWithResults[listing]().WithContext(ctx)

	for _, status := range statuses {
		p.Go(func(ctx context.Context) (listing, error) {
			recordings, err := c.List(ctx, status)
			if err != nil {
				return listing{}, fmt.Errorf("listing %s recordings: %w", status, err)
			}

			return listing{status: status, recordings: recordings}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	lists := make(map[RecordingStatus][]Recording, len(results))
	for _, r := range results {
		lists[r.status] = r.recordings
	}

	c.log.WithField("lists", len(lists)).Debug("Recordings refreshed")

	return lists, nil
}
