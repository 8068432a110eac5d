package guide

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ContainerID is the id of the element wrapping the guide in a console page.
const ContainerID = "guideDiv"

const (
	recordTimeLayout = "2006-01-02 15:04:05"
	dateHeaderLayout = "January 02, 2006"
)

// ErrNoGuide is returned when a document has no guide container.
var ErrNoGuide = errors.New("guide container not found")

var (
	channelIDPattern = regexp.MustCompile(`^([^_]+)_channelLi$`)
	dateIDPattern    = regexp.MustCompile(`^([^_]+)_dateLi_(\d+)$`)
	programIDPattern = regexp.MustCompile(`^([^_]+)_programLi_(\d+)$`)
)

type recordRequest struct {
	Data struct {
		Attributes struct {
			ChannelNumber string `json:"channel_number"`
			ProgramTitle  string `json:"program_title"`
			Provider      string `json:"provider"`
			Start         string `json:"start_date_time_in_utc"`
			End           string `json:"end_date_time_in_utc"`
		} `json:"attributes"`
	} `json:"data"`
}

type playSources struct {
	Type string       `json:"type"`
	HLS  *VideoSource `json:"hls,omitempty"`
	RTMP *VideoSource `json:"rtmp,omitempty"`
}

// DecodeSources decodes a play control payload of the form
// {"type":"live","hls":{"videoSource":...},"rtmp":{...}}.
func DecodeSources(raw []byte) (SourceType, map[string]VideoSource, error) {
	var payload playSources
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", nil, fmt.Errorf("failed to decode play sources: %w", err)
	}

	sources := make(map[string]VideoSource, 2)
	if payload.HLS != nil && payload.HLS.URI != "" {
		sources[ProtocolHLS] = *payload.HLS
	}

	if payload.RTMP != nil && payload.RTMP.URI != "" {
		sources[ProtocolRTMP] = *payload.RTMP
	}

	sourceType := SourceType(payload.Type)
	if sourceType != SourceVOD {
		sourceType = SourceLive
	}

	return sourceType, sources, nil
}

// ParseFragment builds a model from a console guide fragment or a full page
// containing one. Every channel and date group starts collapsed.
func ParseFragment(r io.Reader) (*Model, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse guide html: %w", err)
	}

	root := findByID(doc, ContainerID)
	if root == nil {
		return nil, ErrNoGuide
	}

	var (
		channels  []*Channel
		byID      = make(map[string]*Channel)
		lastDate  = make(map[string]*DateGroup)
		parseErrs []error
	)

	walkElements(root, func(n *html.Node) {
		id := attr(n, "id")
		if id == "" {
			return
		}

		switch {
		case channelIDPattern.MatchString(id):
			chID := channelIDPattern.FindStringSubmatch(id)[1]
			ch := &Channel{ID: chID, Sources: map[string]VideoSource{}}

			if span := findByID(n, chID+"_channelDetailsSpan"); span != nil {
				ch.Label = strings.Join(strings.Fields(textOf(span)), " ")
			}

			if control := findByAttr(n, "data-json"); control != nil {
				if _, sources, err := DecodeSources([]byte(attr(control, "data-json"))); err == nil {
					ch.Sources = sources
				} else {
					parseErrs = append(parseErrs, fmt.Errorf("channel %s: %w", chID, err))
				}
			}

			channels = append(channels, ch)
			byID[chID] = ch

		case dateIDPattern.MatchString(id):
			m := dateIDPattern.FindStringSubmatch(id)

			ch, ok := byID[m[1]]
			if !ok {
				parseErrs = append(parseErrs, fmt.Errorf("date group %s has no channel", id))

				return
			}

			index, _ := strconv.Atoi(m[2])

			header := n
			if h2 := findElement(n, atom.H2); h2 != nil {
				header = h2
			}

			date, err := time.Parse(dateHeaderLayout, strings.TrimSpace(textOf(header)))
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("date group %s: %w", id, err))

				return
			}

			dg := &DateGroup{ID: id, Index: index, Date: date}
			ch.DateGroups = append(ch.DateGroups, dg)
			lastDate[ch.ID] = dg

		case programIDPattern.MatchString(id):
			m := programIDPattern.FindStringSubmatch(id)

			ch, ok := byID[m[1]]
			if !ok {
				parseErrs = append(parseErrs, fmt.Errorf("program %s has no channel", id))

				return
			}

			dg, ok := lastDate[ch.ID]
			if !ok {
				parseErrs = append(parseErrs, fmt.Errorf("program %s has no date group", id))

				return
			}

			p, err := parseProgram(n, ch, id, m[2])
			if err != nil {
				parseErrs = append(parseErrs, err)

				return
			}

			dg.Programs = append(dg.Programs, p)
		}
	})

	if err := errors.Join(parseErrs...); err != nil {
		return nil, err
	}

	return NewModel(channels)
}

func parseProgram(n *html.Node, ch *Channel, id, suffix string) (*Program, error) {
	p := &Program{
		ID:         id,
		ChannelID:  ch.ID,
		SourceType: SourceLive,
		Sources:    ch.Sources,
	}

	if label := findByID(n, ch.ID+"_label_"+suffix); label != nil {
		p.Label = strings.Join(strings.Fields(textOf(label)), " ")
	}

	if desc := findByID(n, ch.ID+"_descriptionSpan_"+suffix); desc != nil {
		p.Description = strings.TrimSpace(textOf(desc))
	}

	if _, title, ok := strings.Cut(p.Label, "|"); ok {
		p.Title = strings.TrimSpace(title)
	}

	input := findElement(n, atom.Input)
	if input == nil {
		return p, nil
	}

	value := attr(input, "value")
	if value == "" {
		return p, nil
	}

	var req recordRequest
	if err := json.Unmarshal([]byte(value), &req); err != nil {
		return nil, fmt.Errorf("program %s: failed to decode record request: %w", id, err)
	}

	p.RecordRequest = []byte(value)
	attrs := req.Data.Attributes

	if attrs.ProgramTitle != "" {
		p.Title = html.UnescapeString(attrs.ProgramTitle)
	}

	var err error

	if attrs.Start != "" {
		if p.Start, err = time.ParseInLocation(recordTimeLayout, attrs.Start, time.UTC); err != nil {
			return nil, fmt.Errorf("program %s: bad start time: %w", id, err)
		}
	}

	if attrs.End != "" {
		if p.End, err = time.ParseInLocation(recordTimeLayout, attrs.End, time.UTC); err != nil {
			return nil, fmt.Errorf("program %s: bad end time: %w", id, err)
		}
	}

	return p, nil
}

// DetectFragment reports whether body is a guide fragment rather than a full
// document, by looking at the first element in it.
func DetectFragment(body []byte) bool {
	z := html.NewTokenizer(bytes.NewReader(body))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.DoctypeToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom != atom.Div {
				return false
			}

			for _, a := range tok.Attr {
				if a.Key == "id" {
					return a.Val == ContainerID
				}
			}

			return false
		}
	}
}

func walkElements(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkElements(c, fn)
	}
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}

	return nil
}

func findByID(n *html.Node, id string) *html.Node {
	return find(n, func(e *html.Node) bool { return attr(e, "id") == id })
}

func findByAttr(n *html.Node, key string) *html.Node {
	return find(n, func(e *html.Node) bool {
		for _, a := range e.Attr {
			if a.Key == key {
				return true
			}
		}

		return false
	})
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	return find(n, func(e *html.Node) bool { return e.DataAtom == a })
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder

	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)

	return b.String()
}
