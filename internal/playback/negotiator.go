// Package playback resolves playable stream locations and drives the single active player.
package playback

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/gabriel-vasile/mimetype"
	"github.com/savid/iptv-console/internal/guide"
	"github.com/savid/iptv-console/internal/m3u"
	"github.com/sirupsen/logrus"
)

// Player-facing media types.
const (
	MIMEHLS  = "application/vnd.apple.mpegurl"
	MIMERTMP = "rtmp/mp4"
)

var (
	// ErrManifest is returned when the RTMP manifest cannot be fetched or used.
	ErrManifest = errors.New("manifest resolution failed")
	// ErrNoSource is returned when no usable source exists for the resolved protocol.
	ErrNoSource = errors.New("no playable source")
)

var playlistTypes = []string{MIMEHLS, "audio/mpegurl", "audio/x-mpegurl"}

// ManifestFetcher downloads playlist manifests.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, uri string) ([]byte, error)
}

// Resolution is a concrete playable target.
type Resolution struct {
	URI      string `json:"uri"`
	MIME     string `json:"mime"`
	Label    string `json:"label"`
	Protocol string `json:"protocol"`
}

// Negotiator picks a protocol for a playable item and resolves its URI.
type Negotiator struct {
	log       logrus.FieldLogger
	manifests ManifestFetcher
}

// NewNegotiator creates a new negotiator.
func NewNegotiator(log logrus.FieldLogger, manifests ManifestFetcher) *Negotiator {
	return &Negotiator{
		log:       log.WithField("component", "negotiator"),
		manifests: manifests,
	}
}

// SelectProtocol returns the protocol that will be used for the item.
// Recorded assets only come as HLS; otherwise an unavailable preference falls back to HLS.
func SelectProtocol(sourceType guide.SourceType, sources map[string]guide.VideoSource, preferred string) string {
	if sourceType == guide.SourceVOD {
		return guide.ProtocolHLS
	}

	if _, ok := sources[preferred]; !ok {
		return guide.ProtocolHLS
	}

	return preferred
}

// Resolve returns the playable target for the item.
func (n *Negotiator) Resolve(
	ctx context.Context,
	sourceType guide.SourceType,
	sources map[string]guide.VideoSource,
	preferred string,
) (Resolution, error) {
	protocol := SelectProtocol(sourceType, sources, preferred)

	source, ok := sources[protocol]
	if !ok || source.URI == "" {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNoSource, protocol)
	}

	log := n.log.WithFields(logrus.Fields{
		"protocol": protocol,
		"type":     sourceType,
	})

	if protocol != guide.ProtocolRTMP {
		log.WithField("uri", source.URI).Debug("Resolved HLS source")

		return Resolution{URI: source.URI, MIME: MIMEHLS, Label: "HLS", Protocol: guide.ProtocolHLS}, nil
	}

	uri, err := n.firstSegment(ctx, source.URI)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve RTMP manifest")

		return Resolution{}, err
	}

	log.WithField("uri", uri).Debug("Resolved RTMP segment")

	return Resolution{URI: uri, MIME: MIMERTMP, Label: "RTMP", Protocol: guide.ProtocolRTMP}, nil
}

func (n *Negotiator) firstSegment(ctx context.Context, manifestURI string) (string, error) {
	body, err := n.manifests.FetchManifest(ctx, manifestURI)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrManifest, err)
	}

	if detected := mimetype.Detect(body); !isPlaylist(detected) {
		return "", fmt.Errorf("%w: unexpected content type %s", ErrManifest, detected.String())
	}

	manifest, err := m3u.Parse(body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrManifest, err)
	}

	segment, err := manifest.FirstSegmentURI()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrManifest, err)
	}

	base, err := url.Parse(manifestURI)
	if err != nil {
		return segment, nil //nolint:nilerr // segment is used as-is when the manifest URI is opaque
	}

	ref, err := url.Parse(segment)
	if err != nil {
		return "", fmt.Errorf("%w: bad segment URI %q: %w", ErrManifest, segment, err)
	}

	return base.ResolveReference(ref).String(), nil
}

func isPlaylist(m *mimetype.MIME) bool {
	for _, t := range playlistTypes {
		if m.Is(t) {
			return true
		}
	}

	return false
}
