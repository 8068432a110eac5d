package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/savid/iptv-console/internal/api"
	"github.com/savid/iptv-console/internal/data"
	"github.com/savid/iptv-console/internal/guide"
	"github.com/savid/iptv-console/internal/m3u"
	"github.com/savid/iptv-console/internal/playback"
	"github.com/savid/iptv-console/internal/state"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testGuide = `<div id="guideDiv">
  <ul>
    <li id="c12_channelLi">
      <span id="c12_channelDetailsSpan">12 - Alpha</span>
      <span data-json='{"type":"live","hls":{"videoSource":"http://console/live/12/playlist.m3u8"},"rtmp":{"videoSource":"http://console/live/12/rtmp.m3u8"}}'></span>
    </li>
    <li id="c12_channelProgramsLi">
      <ul>
        <li id="c12_dateLi_0"><h2>October 16, 2026</h2></li>
        <li id="c12_dateProgramsLi_0">
          <ul>
            <li id="c12_programLi_1">
              <input type="radio" name="c12_program_0" value='{"data":{"type":"recordings","attributes":{"channel_number":"12","end_date_time_in_utc":"2026-10-16 19:00:00","program_title":"Evening News","provider":"SmoothStreams","start_date_time_in_utc":"2026-10-16 18:00:00"}}}'>
              <label id="c12_label_1">18:00:00 - 19:00:00 | Evening News</label>
            </li>
            <li id="c12_separatorLi_0"></li>
            <li id="c12_alertLi_0"></li>
            <li id="c12_buttonsLi_0"></li>
          </ul>
        </li>
        <li id="c12_dateSeparatorLi_0"></li>
      </ul>
    </li>
    <li id="c3_channelLi">
      <span id="c3_channelDetailsSpan">3 - Beta</span>
      <span data-json='{"type":"live","hls":{"videoSource":"http://console/live/3/playlist.m3u8"}}'></span>
    </li>
    <li id="c3_channelProgramsLi">
      <ul>
        <li id="c3_dateLi_0"><h2>October 16, 2026</h2></li>
        <li id="c3_dateProgramsLi_0">
          <ul>
            <li id="c3_programLi_1">
              <input type="radio" name="c3_program_0" value='{"data":{"type":"recordings","attributes":{"channel_number":"03","end_date_time_in_utc":"2026-10-16 20:00:00","program_title":"Cooking Live","provider":"SmoothStreams","start_date_time_in_utc":"2026-10-16 19:30:00"}}}'>
              <label id="c3_label_1">19:30:00 - 20:00:00 | Cooking Live</label>
            </li>
            <li id="c3_separatorLi_0"></li>
            <li id="c3_alertLi_0"></li>
            <li id="c3_buttonsLi_0"></li>
          </ul>
        </li>
        <li id="c3_dateSeparatorLi_0"></li>
      </ul>
    </li>
    <li id="c101_channelLi">
      <span id="c101_channelDetailsSpan">101 - Gamma</span>
      <span data-json='{"type":"live","hls":{"videoSource":"http://console/live/101/playlist.m3u8"}}'></span>
    </li>
  </ul>
  <li id="noMatchingProgramLi">No matching programs</li>
</div>
`

const testPage = `<!DOCTYPE html><html><head><title>IPTV Proxy</title></head><body><form id="loginForm"></form></body></html>`

var testManifest = (&m3u.Manifest{
	Version:        3,
	TargetDuration: 10,
	Segments:       []m3u.Segment{{URI: "rtmp://stream.example.com/live/12", Duration: 10}},
}).Encode()

func newTestLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

type fakeSource struct {
	mu        sync.Mutex
	responses []*data.Response
	calls     int
}

func (f *fakeSource) FetchGuide(context.Context) (*data.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}

	f.calls++

	return f.responses[i], nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func page(status int, body string) *data.Response {
	return &data.Response{Status: status, Header: http.Header{}, Body: []byte(body)}
}

type fakeManifests struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  []string
}

func (f *fakeManifests) FetchManifest(_ context.Context, uri string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, uri)

	body, ok := f.bodies[uri]
	if !ok {
		return nil, errors.New("unexpected status code: 404")
	}

	return []byte(body), nil
}

type fakePlayer struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePlayer) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
}

func (p *fakePlayer) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.events...)
}

func (p *fakePlayer) Play(_ context.Context, r playback.Resolution) error {
	p.record("play " + r.URI)

	return nil
}

func (p *fakePlayer) Pause() error {
	p.record("pause")

	return nil
}

func (p *fakePlayer) Resume(context.Context) error {
	p.record("resume")

	return nil
}

func (p *fakePlayer) Stop() error {
	p.record("stop")

	return nil
}

type memViews struct {
	mu      sync.Mutex
	saved   *state.ViewState
	expires time.Time
	saves   int
}

func (m *memViews) LoadOrDefault(fallback state.ViewState) (state.ViewState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saved == nil {
		return fallback, nil
	}

	return *m.saved, nil
}

func (m *memViews) Save(v state.ViewState, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = &v
	m.expires = expiresAt
	m.saves++

	return nil
}

type fakeSession struct {
	mu      sync.Mutex
	cookies state.ViewState
	expires time.Time
}

func (s *fakeSession) SetViewCookies(v state.ViewState, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cookies = v
}

func (s *fakeSession) SettingsExpiry() (time.Time, bool) {
	return s.expires, !s.expires.IsZero()
}

type fakeRecordings struct {
	scheduleErr error
	scheduled   [][]byte
	lists       map[api.RecordingStatus][]api.Recording
	listed      int
}

func (f *fakeRecordings) Schedule(_ context.Context, request []byte) error {
	f.scheduled = append(f.scheduled, request)

	return f.scheduleErr
}

func (f *fakeRecordings) ListMany(_ context.Context, statuses ...api.RecordingStatus) (map[api.RecordingStatus][]api.Recording, error) {
	f.listed++

	out := make(map[api.RecordingStatus][]api.Recording, len(statuses))
	for _, s := range statuses {
		out[s] = f.lists[s]
	}

	return out, nil
}

type harness struct {
	engine     *Engine
	source     *fakeSource
	manifests  *fakeManifests
	player     *fakePlayer
	views      *memViews
	session    *fakeSession
	recordings *fakeRecordings
}

func newHarness(t *testing.T, responses ...*data.Response) *harness {
	t.Helper()

	if len(responses) == 0 {
		responses = []*data.Response{page(http.StatusOK, testGuide)}
	}

	h := &harness{
		source:     &fakeSource{responses: responses},
		manifests:  &fakeManifests{bodies: map[string]string{"http://console/live/12/rtmp.m3u8": testManifest}},
		player:     &fakePlayer{},
		views:      &memViews{},
		session:    &fakeSession{expires: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		recordings: &fakeRecordings{lists: map[api.RecordingStatus][]api.Recording{}},
	}

	e, err := New(Options{
		Log:        newTestLogger(),
		Source:     h.source,
		Manifests:  h.manifests,
		Recordings: h.recordings,
		Views:      h.views,
		Session:    h.session,
		NewPlayer:  func() (playback.Player, error) { return h.player, nil },
		Defaults:   state.Default(),
	})
	require.NoError(t, err)

	h.engine = e

	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	_, err := h.engine.Start(context.Background())
	require.NoError(t, err)
}

func channelOrder(v View) []string {
	var ids []string

	for _, n := range v.Nodes {
		if n.Kind == guide.KindChannel {
			ids = append(ids, n.ChannelID)
		}
	}

	return ids
}

func (h *harness) fold(t *testing.T, channelID string) guide.FoldState {
	t.Helper()

	m, ok := h.engine.store.Model()
	require.True(t, ok)

	ch, ok := m.Channel(channelID)
	require.True(t, ok)

	return ch.Fold
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Log: newTestLogger(), Defaults: state.Default()})
	require.Error(t, err)
}

func TestStart_DefaultSortByNumber(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	v := h.engine.View()
	require.True(t, v.HasGuide)
	require.Equal(t, []string{"c3", "c12", "c101"}, channelOrder(v))
	require.Equal(t, "fragment", v.LastResult)
	require.Equal(t, state.Default(), h.session.cookies)
}

func TestStart_UsesPersistedSettings(t *testing.T) {
	h := newHarness(t)

	saved := state.Default()
	saved.SortCriteria = guide.SortByName
	saved.SortOrder = guide.Descending
	h.views.saved = &saved

	h.start(t)

	require.Equal(t, []string{"c101", "c3", "c12"}, channelOrder(h.engine.View()))
	require.Equal(t, saved, h.engine.Settings())
}

func TestSort_ReordersAndPersists(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	outcome, err := h.engine.Sort(context.Background(), guide.SortByNumber, guide.Descending)
	require.NoError(t, err)
	require.Equal(t, OutcomeNone, outcome.Kind)

	require.Equal(t, []string{"c101", "c12", "c3"}, channelOrder(h.engine.View()))
	require.NotNil(t, h.views.saved)
	require.Equal(t, guide.Descending, h.views.saved.SortOrder)
	require.Equal(t, h.session.expires, h.views.expires)
	require.Equal(t, guide.Descending, h.session.cookies.SortOrder)
	require.Equal(t, 1, h.source.Calls())
}

func TestSort_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.engine.Sort(context.Background(), guide.SortByName, guide.Ascending)
	require.NoError(t, err)

	first := channelOrder(h.engine.View())
	saves := h.views.saves

	_, err = h.engine.Sort(context.Background(), guide.SortByName, guide.Ascending)
	require.NoError(t, err)
	require.Equal(t, first, channelOrder(h.engine.View()))
	require.Equal(t, saves, h.views.saves)
}

func TestRefresh_KeepsSortAndSearch(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.engine.Sort(context.Background(), guide.SortByName, guide.Ascending)
	require.NoError(t, err)

	vis, err := h.engine.Search("news")
	require.NoError(t, err)
	require.Equal(t, 1, vis.Matches)

	outcome := h.engine.Refresh(context.Background())
	require.Equal(t, OutcomeNone, outcome.Kind)

	v := h.engine.View()
	require.Equal(t, []string{"c12", "c3", "c101"}, channelOrder(v))
	require.Equal(t, "news", v.Query)
	require.Equal(t, 1, v.Matches)
	require.Equal(t, guide.Expanded, h.fold(t, "c12"))
	require.Equal(t, guide.Collapsed, h.fold(t, "c3"))
}

func TestSearch_ClearRestoresFolds(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	require.NoError(t, h.engine.ToggleChannel("c12"))

	_, err := h.engine.Search("cooking")
	require.NoError(t, err)
	require.Equal(t, guide.Collapsed, h.fold(t, "c12"))
	require.Equal(t, guide.Expanded, h.fold(t, "c3"))

	vis, err := h.engine.Search("")
	require.NoError(t, err)
	require.Zero(t, vis.Matches)
	require.Equal(t, guide.Expanded, h.fold(t, "c12"))
	require.Equal(t, guide.Collapsed, h.fold(t, "c3"))
}

func TestSearch_NoResults(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.engine.Search("weather")
	require.NoError(t, err)

	v := h.engine.View()
	require.True(t, v.NoResults)
	require.Equal(t, []string{guide.NoResultsID}, guide.VisibleIDs(v.Nodes))
}

func TestSearch_NoGuide(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Search("news")
	require.ErrorIs(t, err, ErrNoGuide)
}

func TestToggle_UnknownIDs(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	require.ErrorIs(t, h.engine.ToggleChannel("c99"), ErrUnknownControl)
	require.ErrorIs(t, h.engine.ToggleDate("c99_dateLi_0"), ErrUnknownControl)
	require.NoError(t, h.engine.ToggleDate("c12_dateLi_0"))
}

func TestApplySettings_WindowRefreshes(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	next := h.engine.Settings()
	next.GuideWindowDays = 3

	require.True(t, h.engine.SettingsDirty(next))

	outcome, err := h.engine.ApplySettings(context.Background(), next)
	require.NoError(t, err)
	require.Equal(t, OutcomeNone, outcome.Kind)
	require.Equal(t, "Refreshing guide from 1 day to 3 days", outcome.Caption)
	require.Equal(t, 2, h.source.Calls())
	require.Equal(t, 3, h.session.cookies.GuideWindowDays)
	require.False(t, h.engine.SettingsDirty(next))
}

func TestApplySettings_FailedRefreshKeepsSettings(t *testing.T) {
	h := newHarness(t, page(http.StatusOK, testGuide), page(http.StatusInternalServerError, "boom"))
	h.start(t)

	saves := h.views.saves

	next := h.engine.Settings()
	next.GuideWindowDays = 3
	next.SortOrder = guide.Descending

	outcome, err := h.engine.ApplySettings(context.Background(), next)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlert, outcome.Kind)
	require.Equal(t, "Failed to refresh guide", outcome.Alert.Message)

	require.Equal(t, 1, h.engine.Settings().GuideWindowDays)
	require.Equal(t, guide.Ascending, h.engine.Settings().SortOrder)
	require.Equal(t, saves, h.views.saves)
	require.Equal(t, 1, h.session.cookies.GuideWindowDays)
	require.True(t, h.engine.SettingsDirty(next))
	require.True(t, h.engine.View().HasGuide)
}

func TestApplySettings_Invalid(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	next := h.engine.Settings()
	next.GuideWindowDays = 9

	_, err := h.engine.ApplySettings(context.Background(), next)
	require.Error(t, err)
	require.Equal(t, 1, h.engine.Settings().GuideWindowDays)
}

func TestSelectGroup_Caption(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	outcome, err := h.engine.SelectGroup(context.Background(), "SmoothStreams", "Sports")
	require.NoError(t, err)
	require.Equal(t, "Updating guide from  to SmoothStreams - Sports", outcome.Caption)
	require.Equal(t, "Sports", h.engine.Settings().Group)
}

func TestRefresh_FullPageDiscardsGuide(t *testing.T) {
	h := newHarness(t, page(http.StatusOK, testGuide), page(http.StatusOK, testPage))
	h.start(t)

	_, err := h.engine.Search("news")
	require.NoError(t, err)

	outcome := h.engine.Refresh(context.Background())
	require.Equal(t, OutcomeFullPage, outcome.Kind)
	require.Contains(t, outcome.Head, "IPTV Proxy")
	require.Contains(t, outcome.Body, "loginForm")

	v := h.engine.View()
	require.False(t, v.HasGuide)
	require.Empty(t, v.Query)
}

func TestRefresh_ReloadBootstrapsOnce(t *testing.T) {
	h := newHarness(t, page(http.StatusOK, testGuide), page(http.StatusNotFound, ""), page(http.StatusOK, testGuide))
	h.start(t)

	outcome := h.engine.Refresh(context.Background())
	require.Equal(t, OutcomeReload, outcome.Kind)
	require.ErrorIs(t, outcome.Err, data.ErrSessionInvalid)
	require.Equal(t, 3, h.source.Calls())
	require.True(t, h.engine.View().HasGuide)
}

func TestRefresh_ReloadDoesNotLoop(t *testing.T) {
	h := newHarness(t, page(http.StatusOK, testGuide), page(http.StatusServiceUnavailable, ""))
	h.start(t)

	err := h.engine.RefreshGuide(context.Background())
	require.ErrorIs(t, err, data.ErrSessionInvalid)
	require.Equal(t, 3, h.source.Calls())
}

func TestRefresh_FailureAlert(t *testing.T) {
	h := newHarness(t, page(http.StatusOK, testGuide), page(http.StatusInternalServerError, ""))
	h.start(t)

	outcome := h.engine.Refresh(context.Background())
	require.Equal(t, OutcomeAlert, outcome.Kind)
	require.Equal(t, AlertError, outcome.Alert.Level)
	require.True(t, h.engine.View().HasGuide)
}

func TestTogglePlayback_PlayPauseResume(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, err := h.engine.TogglePlayback(ctx, "c12")
	require.NoError(t, err)
	require.Equal(t, playback.Playing, h.engine.Playback().State)
	require.Equal(t, "12 - Alpha (HLS)", h.engine.Playback().Caption)
	require.Equal(t, playback.IconPause, h.engine.View().Icons["c12"])
	require.Equal(t, playback.IconPlay, h.engine.View().Icons["c3"])

	_, err = h.engine.TogglePlayback(ctx, "c12_channelLi")
	require.NoError(t, err)
	require.Equal(t, playback.Paused, h.engine.Playback().State)

	_, err = h.engine.TogglePlayback(ctx, "c12")
	require.NoError(t, err)
	require.Equal(t, playback.Playing, h.engine.Playback().State)

	require.Equal(t, []string{"play http://console/live/12/playlist.m3u8", "pause", "resume"}, h.player.Events())
}

func TestTogglePlayback_UnknownControl(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.engine.TogglePlayback(context.Background(), "c99")
	require.ErrorIs(t, err, ErrUnknownControl)

	_, err = h.engine.TogglePlayback(context.Background(), RecordingControlPrefix+"missing")
	require.ErrorIs(t, err, ErrUnknownControl)
}

func TestProtocolChange_ReplaysLive(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, err := h.engine.TogglePlayback(ctx, "c12")
	require.NoError(t, err)

	next := h.engine.Settings()
	next.Protocol = guide.ProtocolRTMP

	outcome, err := h.engine.ApplySettings(ctx, next)
	require.NoError(t, err)
	require.Equal(t, OutcomeNone, outcome.Kind)

	status := h.engine.Playback()
	require.Equal(t, playback.Playing, status.State)
	require.Equal(t, "rtmp://stream.example.com/live/12", status.Resolution.URI)
	require.Equal(t, "12 - Alpha (RTMP)", status.Caption)
	require.Equal(t, guide.ProtocolRTMP, h.views.saved.Protocol)
	require.Equal(t, []string{
		"play http://console/live/12/playlist.m3u8",
		"pause",
		"play rtmp://stream.example.com/live/12",
	}, h.player.Events())
}

func TestProtocolChange_RTMPFallsBackToHLS(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	next := h.engine.Settings()
	next.Protocol = guide.ProtocolRTMP
	_, err := h.engine.ApplySettings(ctx, next)
	require.NoError(t, err)

	_, err = h.engine.TogglePlayback(ctx, "c3")
	require.NoError(t, err)

	status := h.engine.Playback()
	require.Equal(t, "http://console/live/3/playlist.m3u8", status.Resolution.URI)
	require.Empty(t, h.manifests.calls)
}

func TestProtocolChange_DoesNotReplayRecording(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	h.recordings.lists[api.StatusPersisted] = []api.Recording{{
		ID:           "r1",
		ProgramTitle: "Evening News",
		Start:        time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 10, 16, 19, 0, 0, 0, time.UTC),
		PlaylistURL:  "http://console/vod/r1/playlist.m3u8",
		Status:       api.StatusPersisted,
	}}

	_, err := h.engine.RefreshRecordings(ctx)
	require.NoError(t, err)

	_, err = h.engine.TogglePlayback(ctx, RecordingControlPrefix+"r1")
	require.NoError(t, err)

	status := h.engine.Playback()
	require.Equal(t, guide.SourceVOD, status.SourceType)
	require.Contains(t, status.Caption, "Evening News [")

	next := h.engine.Settings()
	next.Protocol = guide.ProtocolRTMP
	_, err = h.engine.ApplySettings(ctx, next)
	require.NoError(t, err)

	require.Equal(t, []string{"play http://console/vod/r1/playlist.m3u8"}, h.player.Events())
	require.Equal(t, playback.IconPause, h.engine.View().Icons[RecordingControlPrefix+"r1"])
}

func TestTogglePlayback_ManifestFailure(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	delete(h.manifests.bodies, "http://console/live/12/rtmp.m3u8")

	next := h.engine.Settings()
	next.Protocol = guide.ProtocolRTMP
	_, err := h.engine.ApplySettings(ctx, next)
	require.NoError(t, err)

	outcome, err := h.engine.TogglePlayback(ctx, "c12")
	require.NoError(t, err)
	require.Equal(t, OutcomePlaybackError, outcome.Kind)

	status := h.engine.Playback()
	require.Equal(t, playback.Idle, status.State)
	require.Contains(t, status.LastError, "manifest")
	require.Empty(t, h.player.Events())
}

func TestClosePlayback(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, err := h.engine.TogglePlayback(ctx, "c12")
	require.NoError(t, err)
	require.NoError(t, h.engine.ClosePlayback())

	require.Equal(t, playback.Idle, h.engine.Playback().State)
	require.Equal(t, playback.IconPlay, h.engine.View().Icons["c12"])
}

func TestRecordProgram_Success(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	outcome, err := h.engine.RecordProgram(context.Background(), "c12_programLi_1")
	require.NoError(t, err)
	require.Equal(t, OutcomeAlert, outcome.Kind)
	require.Equal(t, AlertSuccess, outcome.Alert.Level)
	require.Equal(t, "Recording of Evening News successfully scheduled!", outcome.Alert.Message)
	require.Len(t, h.recordings.scheduled, 1)
	require.Contains(t, string(h.recordings.scheduled[0]), `"program_title":"Evening News"`)
	require.Equal(t, 1, h.recordings.listed)
}

func TestRecordProgram_AlreadyScheduled(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.recordings.scheduleErr = &api.Error{Status: http.StatusConflict}

	outcome, err := h.engine.RecordProgram(context.Background(), "c3_programLi_1")
	require.NoError(t, err)
	require.Equal(t, AlertInfo, outcome.Alert.Level)
	require.Equal(t, `Recording of "Cooking Live" is already scheduled`, outcome.Alert.Message)
	require.Zero(t, h.recordings.listed)
}

func TestRecordProgram_Failure(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.recordings.scheduleErr = &api.Error{Status: 0, Err: errors.New("connection refused")}

	outcome, err := h.engine.RecordProgram(context.Background(), "c3_programLi_1")
	require.NoError(t, err)
	require.Equal(t, AlertError, outcome.Alert.Level)
	require.Equal(t, `Failed to schedule recording of "Cooking Live"`, outcome.Alert.Message)
	require.Equal(t, api.ReasonUnreachable, outcome.Alert.Reason)
}

func TestRecordProgram_UnknownProgram(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.engine.RecordProgram(context.Background(), "c3_programLi_9")
	require.ErrorIs(t, err, ErrUnknownProgram)
}

func TestDispatch(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, err := h.engine.Dispatch(ctx, SortEvent{Criteria: guide.SortByName, Order: guide.Descending})
	require.NoError(t, err)
	require.Equal(t, []string{"c101", "c3", "c12"}, channelOrder(h.engine.View()))

	_, err = h.engine.Dispatch(ctx, ToggleChannelEvent{ChannelID: "c3"})
	require.NoError(t, err)
	require.Equal(t, guide.Expanded, h.fold(t, "c3"))

	_, err = h.engine.Dispatch(ctx, SearchEvent{Query: "news"})
	require.NoError(t, err)
	require.Equal(t, "news", h.engine.View().Query)

	_, err = h.engine.Dispatch(ctx, PauseEvent{})
	require.NoError(t, err)

	outcome, err := h.engine.Dispatch(ctx, RecordProgramEvent{ProgramID: "c12_programLi_1"})
	require.NoError(t, err)
	require.Equal(t, "alert", outcome.Named().KindName)
}
