// Package m3u provides parsing and encoding of segmented-media (HLS style) M3U playlists.
package m3u

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrIncompleteSegment is returned when an #EXTINF line has no corresponding URI.
	ErrIncompleteSegment = errors.New("found #EXTINF without URI at end of file")
	// ErrOrphanedSegment is returned when a new #EXTINF is found before the previous one has a URI.
	ErrOrphanedSegment = errors.New("found #EXTINF without URI for previous segment")
	// ErrNoSegments is returned when a playable segment is requested from a playlist that has none.
	ErrNoSegments = errors.New("playlist has no segments")
)

// Segment is one media entry of a playlist.
type Segment struct {
	URI      string
	Duration float64
	Title    string
}

// Variant is one entry of a master playlist.
type Variant struct {
	URI        string
	Bandwidth  int
	Resolution string
}

// Manifest is a parsed playlist.
type Manifest struct {
	Version        int
	TargetDuration int
	MediaSequence  int
	EndList        bool
	Segments       []Segment
	Variants       []Variant
}

// Parse extracts segments and playlist tags from M3U data.
func Parse(data []byte) (*Manifest, error) {
	manifest := &Manifest{Segments: make([]Segment, 0, 8)}
	scanner := bufio.NewScanner(bytes.NewReader(data))

	var (
		currentSegment *Segment
		currentVariant *Variant
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#EXTM3U") {
			continue
		}

		tag, value, _ := strings.Cut(line, ":")

		switch {
		case tag == "#EXTINF":
			if currentSegment != nil {
				return nil, ErrOrphanedSegment
			}

			currentSegment = &Segment{}

			duration, title, _ := strings.Cut(value, ",")
			if d, err := strconv.ParseFloat(strings.TrimSpace(duration), 64); err == nil {
				currentSegment.Duration = d
			}

			currentSegment.Title = strings.TrimSpace(title)
		case tag == "#EXT-X-STREAM-INF":
			currentVariant = &Variant{
				Resolution: extractAttribute(value, "RESOLUTION"),
			}
			currentVariant.Bandwidth, _ = strconv.Atoi(extractAttribute(value, "BANDWIDTH"))
		case tag == "#EXT-X-VERSION":
			manifest.Version = atoi(value)
		case tag == "#EXT-X-TARGETDURATION":
			manifest.TargetDuration = atoi(value)
		case tag == "#EXT-X-MEDIA-SEQUENCE":
			manifest.MediaSequence = atoi(value)
		case tag == "#EXT-X-ENDLIST":
			manifest.EndList = true
		case strings.HasPrefix(line, "#"):
			continue
		case currentSegment != nil:
			currentSegment.URI = line
			manifest.Segments = append(manifest.Segments, *currentSegment)
			currentSegment = nil
		case currentVariant != nil:
			currentVariant.URI = line
			manifest.Variants = append(manifest.Variants, *currentVariant)
			currentVariant = nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning M3U data: %w", err)
	}

	if currentSegment != nil {
		return nil, ErrIncompleteSegment
	}

	return manifest, nil
}

// FirstSegmentURI returns the URI of the first media segment.
func (m *Manifest) FirstSegmentURI() (string, error) {
	if len(m.Segments) == 0 {
		return "", ErrNoSegments
	}

	return m.Segments[0].URI, nil
}

// Encode renders the manifest back to playlist text.
func (m *Manifest) Encode() string {
	var sb strings.Builder

	sb.WriteString("#EXTM3U\n")

	if m.Version > 0 {
		fmt.Fprintf(&sb, "#EXT-X-VERSION:%d\n", m.Version)
	}

	if m.TargetDuration > 0 {
		fmt.Fprintf(&sb, "#EXT-X-TARGETDURATION:%d\n", m.TargetDuration)
	}

	if m.MediaSequence > 0 {
		fmt.Fprintf(&sb, "#EXT-X-MEDIA-SEQUENCE:%d\n", m.MediaSequence)
	}

	for _, v := range m.Variants {
		fmt.Fprintf(&sb, "#EXT-X-STREAM-INF:BANDWIDTH=%d", v.Bandwidth)

		if v.Resolution != "" {
			fmt.Fprintf(&sb, ",RESOLUTION=%s", v.Resolution)
		}

		sb.WriteString("\n" + v.URI + "\n")
	}

	for _, s := range m.Segments {
		fmt.Fprintf(&sb, "#EXTINF:%s,%s\n", strconv.FormatFloat(s.Duration, 'f', -1, 64), s.Title)
		sb.WriteString(s.URI + "\n")
	}

	if m.EndList {
		sb.WriteString("#EXT-X-ENDLIST\n")
	}

	return sb.String()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))

	return n
}

func extractAttribute(line, attr string) string {
	pattern := fmt.Sprintf(`(?:^|,)%s=("([^"]*)"|[^,]*)`, regexp.QuoteMeta(attr))
	re := regexp.MustCompile(pattern)
	matches := re.FindStringSubmatch(line)

	if len(matches) < 2 {
		return ""
	}

	if matches[2] != "" {
		return matches[2]
	}

	return strings.Trim(matches[1], `"`)
}
