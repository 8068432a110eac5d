package playback

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/savid/iptv-console/internal/guide"
	"github.com/savid/iptv-console/internal/m3u"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

type fakeManifests struct {
	bodies map[string]string
	err    error
	calls  []string
}

func (f *fakeManifests) FetchManifest(_ context.Context, uri string) ([]byte, error) {
	f.calls = append(f.calls, uri)

	if f.err != nil {
		return nil, f.err
	}

	body, ok := f.bodies[uri]
	if !ok {
		return nil, errors.New("unexpected status code: 404")
	}

	return []byte(body), nil
}

type fakePlayer struct {
	mu      sync.Mutex
	events  []string
	playErr error
	running bool
	onExit  func()
}

func (p *fakePlayer) OnExit(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onExit = fn
}

func (p *fakePlayer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.running
}

// exit simulates the user closing the player window.
func (p *fakePlayer) exit() {
	p.mu.Lock()
	p.running = false
	onExit := p.onExit
	p.mu.Unlock()

	if onExit != nil {
		onExit()
	}
}

func (p *fakePlayer) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
}

func (p *fakePlayer) Play(_ context.Context, r Resolution) error {
	p.record("play " + r.URI)

	p.mu.Lock()
	p.running = p.playErr == nil
	p.mu.Unlock()

	return p.playErr
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

func (p *fakePlayer) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.events...)
}

var liveSources = map[string]guide.VideoSource{
	guide.ProtocolHLS:  {URI: "http://console/live/12/playlist.m3u8"},
	guide.ProtocolRTMP: {URI: "http://console/live/12/rtmp.m3u8"},
}

var rtmpManifest = (&m3u.Manifest{
	Version:        3,
	TargetDuration: 10,
	Segments:       []m3u.Segment{{URI: "rtmp://stream.example.com/live/12?token=abc", Duration: 10}},
}).Encode()

func newTestNegotiator(manifests *fakeManifests) *Negotiator {
	return NewNegotiator(newTestLogger(), manifests)
}

func TestSelectProtocol(t *testing.T) {
	tests := []struct {
		name       string
		sourceType guide.SourceType
		sources    map[string]guide.VideoSource
		preferred  string
		expected   string
	}{
		{name: "vod forces hls", sourceType: guide.SourceVOD, sources: liveSources, preferred: "rtmp", expected: "hls"},
		{name: "live keeps available preference", sourceType: guide.SourceLive, sources: liveSources, preferred: "rtmp", expected: "rtmp"},
		{
			name:       "live falls back when preference missing",
			sourceType: guide.SourceLive,
			sources:    map[string]guide.VideoSource{"hls": {URI: "http://x/a.m3u8"}},
			preferred:  "rtmp",
			expected:   "hls",
		},
		{name: "unknown preference", sourceType: guide.SourceLive, sources: liveSources, preferred: "dash", expected: "hls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, SelectProtocol(tt.sourceType, tt.sources, tt.preferred))
		})
	}
}

func TestResolve_HLSUsesSourceDirectly(t *testing.T) {
	manifests := &fakeManifests{}
	n := newTestNegotiator(manifests)

	res, err := n.Resolve(context.Background(), guide.SourceLive, liveSources, guide.ProtocolHLS)
	require.NoError(t, err)
	require.Equal(t, Resolution{
		URI:      "http://console/live/12/playlist.m3u8",
		MIME:     MIMEHLS,
		Label:    "HLS",
		Protocol: guide.ProtocolHLS,
	}, res)
	require.Empty(t, manifests.calls)
}

func TestResolve_VODIgnoresRTMPPreference(t *testing.T) {
	manifests := &fakeManifests{}
	n := newTestNegotiator(manifests)

	res, err := n.Resolve(context.Background(), guide.SourceVOD, liveSources, guide.ProtocolRTMP)
	require.NoError(t, err)
	require.Equal(t, guide.ProtocolHLS, res.Protocol)
	require.Empty(t, manifests.calls)
}

func TestResolve_RTMPFirstSegment(t *testing.T) {
	manifests := &fakeManifests{bodies: map[string]string{"http://console/live/12/rtmp.m3u8": rtmpManifest}}
	n := newTestNegotiator(manifests)

	res, err := n.Resolve(context.Background(), guide.SourceLive, liveSources, guide.ProtocolRTMP)
	require.NoError(t, err)
	require.Equal(t, "rtmp://stream.example.com/live/12?token=abc", res.URI)
	require.Equal(t, MIMERTMP, res.MIME)
	require.Equal(t, "RTMP", res.Label)
}

func TestResolve_RTMPRelativeSegment(t *testing.T) {
	body := "#EXTM3U\n#EXTINF:10,\nsegments/live.ts\n"
	manifests := &fakeManifests{bodies: map[string]string{"http://console/live/12/rtmp.m3u8": body}}
	n := newTestNegotiator(manifests)

	res, err := n.Resolve(context.Background(), guide.SourceLive, liveSources, guide.ProtocolRTMP)
	require.NoError(t, err)
	require.Equal(t, "http://console/live/12/segments/live.ts", res.URI)
}

func TestResolve_ManifestFailures(t *testing.T) {
	tests := []struct {
		name      string
		manifests *fakeManifests
	}{
		{name: "fetch error", manifests: &fakeManifests{err: errors.New("context deadline exceeded")}},
		{name: "not a playlist", manifests: &fakeManifests{bodies: map[string]string{
			"http://console/live/12/rtmp.m3u8": "<html><body>login</body></html>",
		}}},
		{name: "no segments", manifests: &fakeManifests{bodies: map[string]string{
			"http://console/live/12/rtmp.m3u8": "#EXTM3U\n#EXT-X-VERSION:3\n",
		}}},
		{name: "truncated", manifests: &fakeManifests{bodies: map[string]string{
			"http://console/live/12/rtmp.m3u8": "#EXTM3U\n#EXTINF:10,\n",
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNegotiator(tt.manifests)

			_, err := n.Resolve(context.Background(), guide.SourceLive, liveSources, guide.ProtocolRTMP)
			require.ErrorIs(t, err, ErrManifest)
		})
	}
}

func TestResolve_NoHLSSource(t *testing.T) {
	n := newTestNegotiator(&fakeManifests{})

	_, err := n.Resolve(context.Background(), guide.SourceVOD, map[string]guide.VideoSource{}, guide.ProtocolHLS)
	require.ErrorIs(t, err, ErrNoSource)
}

func newTestController(t *testing.T, manifests *fakeManifests) (*Controller, *fakePlayer, *int) {
	t.Helper()

	player := &fakePlayer{}
	created := 0

	c := NewController(newTestLogger(), newTestNegotiator(manifests), func() (Player, error) {
		created++

		return player, nil
	})

	return c, player, &created
}

func liveItem(id string) Playable {
	return Playable{ControlID: id, SourceType: guide.SourceLive, Sources: liveSources, Details: "12 - Alpha"}
}

func TestController_PlayRecordsLastPlayed(t *testing.T) {
	c, player, created := newTestController(t, &fakeManifests{})

	require.NoError(t, c.Play(context.Background(), liveItem("c12"), guide.ProtocolHLS))

	status := c.Status()
	require.Equal(t, Playing, status.State)
	require.Equal(t, "12 - Alpha (HLS)", status.Caption)
	require.Equal(t, 1, *created)
	require.Equal(t, []string{"play http://console/live/12/playlist.m3u8"}, player.Events())

	last, ok := c.LastPlayed()
	require.True(t, ok)
	require.Equal(t, "c12", last.ControlID)
}

func TestController_SingleActiveControl(t *testing.T) {
	c, _, created := newTestController(t, &fakeManifests{})

	require.NoError(t, c.Play(context.Background(), liveItem("c12"), guide.ProtocolHLS))
	require.Equal(t, IconPause, c.ControlIcon("c12"))

	require.NoError(t, c.Toggle(context.Background(), liveItem("c3"), guide.ProtocolHLS))
	require.Equal(t, IconPlay, c.ControlIcon("c12"))
	require.Equal(t, IconPause, c.ControlIcon("c3"))
	require.Equal(t, 1, *created, "player is reused")
}

func TestController_TogglePauseResume(t *testing.T) {
	c, player, _ := newTestController(t, &fakeManifests{})
	item := liveItem("c12")

	require.NoError(t, c.Toggle(context.Background(), item, guide.ProtocolHLS))
	require.NoError(t, c.Toggle(context.Background(), item, guide.ProtocolHLS))
	require.Equal(t, Paused, c.Status().State)
	require.Equal(t, IconPlay, c.ControlIcon("c12"))

	require.NoError(t, c.Toggle(context.Background(), item, guide.ProtocolHLS))
	require.Equal(t, Playing, c.Status().State)
	require.Equal(t, []string{"play http://console/live/12/playlist.m3u8", "pause", "resume"}, player.Events())
}

func TestController_PauseWhenIdle(t *testing.T) {
	c, _, _ := newTestController(t, &fakeManifests{})

	require.ErrorIs(t, c.Pause(), ErrNotPlaying)
}

func TestController_ProtocolChangeReplaysLive(t *testing.T) {
	manifests := &fakeManifests{bodies: map[string]string{"http://console/live/12/rtmp.m3u8": rtmpManifest}}
	c, player, _ := newTestController(t, manifests)

	require.NoError(t, c.Play(context.Background(), liveItem("c12"), guide.ProtocolHLS))

	replayed, err := c.ProtocolChanged(context.Background(), guide.ProtocolRTMP)
	require.NoError(t, err)
	require.True(t, replayed)

	require.Equal(t, []string{
		"play http://console/live/12/playlist.m3u8",
		"pause",
		"play rtmp://stream.example.com/live/12?token=abc",
	}, player.Events())

	status := c.Status()
	require.Equal(t, Playing, status.State)
	require.Equal(t, "12 - Alpha (RTMP)", status.Caption)
}

func TestController_ProtocolChangeSkipsVOD(t *testing.T) {
	c, player, _ := newTestController(t, &fakeManifests{})

	vod := Playable{ControlID: "r1", SourceType: guide.SourceVOD, Sources: liveSources, Details: "Evening News"}
	require.NoError(t, c.Play(context.Background(), vod, guide.ProtocolHLS))

	replayed, err := c.ProtocolChanged(context.Background(), guide.ProtocolRTMP)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Len(t, player.Events(), 1)
}

func TestController_ProtocolChangeSkipsPaused(t *testing.T) {
	c, _, _ := newTestController(t, &fakeManifests{})

	require.NoError(t, c.Play(context.Background(), liveItem("c12"), guide.ProtocolHLS))
	require.NoError(t, c.Pause())

	replayed, err := c.ProtocolChanged(context.Background(), guide.ProtocolRTMP)
	require.NoError(t, err)
	require.False(t, replayed)
}

func TestController_ManifestFailureReturnsToIdle(t *testing.T) {
	manifests := &fakeManifests{err: errors.New("context deadline exceeded")}
	c, _, created := newTestController(t, manifests)

	err := c.Play(context.Background(), liveItem("c12"), guide.ProtocolRTMP)
	require.ErrorIs(t, err, ErrManifest)

	status := c.Status()
	require.Equal(t, Idle, status.State)
	require.True(t, strings.Contains(status.LastError, "manifest"))
	require.Equal(t, IconPlay, c.ControlIcon("c12"))
	require.Zero(t, *created)
}

func TestController_PlayerFailureReturnsToIdle(t *testing.T) {
	c, player, _ := newTestController(t, &fakeManifests{})
	player.playErr = errors.New("exec: mpv not found")

	err := c.Play(context.Background(), liveItem("c12"), guide.ProtocolHLS)
	require.Error(t, err)
	require.Equal(t, Idle, c.Status().State)
	require.Contains(t, player.Events(), "stop")
}

func TestController_PlayerExitReturnsToIdle(t *testing.T) {
	c, player, _ := newTestController(t, &fakeManifests{})

	require.NoError(t, c.Play(context.Background(), liveItem("c12"), guide.ProtocolHLS))
	require.Equal(t, IconPause, c.ControlIcon("c12"))

	player.exit()

	status := c.Status()
	require.Equal(t, Idle, status.State)
	require.Empty(t, status.Caption)
	require.Equal(t, IconPlay, c.ControlIcon("c12"))

	require.NoError(t, c.Toggle(context.Background(), liveItem("c12"), guide.ProtocolHLS))
	require.Equal(t, Playing, c.Status().State)
}

func TestController_StaleExitIgnored(t *testing.T) {
	c, player, _ := newTestController(t, &fakeManifests{})

	require.NoError(t, c.Play(context.Background(), liveItem("c12"), guide.ProtocolHLS))

	player.mu.Lock()
	onExit := player.onExit
	player.mu.Unlock()

	onExit()
	require.Equal(t, Playing, c.Status().State, "player still running")
}

func TestController_Close(t *testing.T) {
	c, player, created := newTestController(t, &fakeManifests{})

	require.NoError(t, c.Play(context.Background(), liveItem("c12"), guide.ProtocolHLS))
	require.NoError(t, c.Close())

	status := c.Status()
	require.Equal(t, Idle, status.State)
	require.Empty(t, status.Caption)
	require.Contains(t, player.Events(), "stop")

	_, ok := c.LastPlayed()
	require.False(t, ok)

	require.NoError(t, c.Play(context.Background(), liveItem("c12"), guide.ProtocolHLS))
	require.Equal(t, 2, *created, "player is rebuilt after close")
}
