package data

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/savid/iptv-console/internal/guide"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// OutcomeKind classifies the result of a guide refresh.
type OutcomeKind int

const (
	// OutcomeFragment means only the guide changed and the new model is installed.
	OutcomeFragment OutcomeKind = iota
	// OutcomeFullPage means the console sent a whole document and the model was discarded.
	OutcomeFullPage
	// OutcomeReload means the session is stale and the client must bootstrap again.
	OutcomeReload
	// OutcomeFailed means the refresh failed and nothing changed.
	OutcomeFailed
	// OutcomeSuperseded means a newer refresh started before this one finished.
	OutcomeSuperseded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFragment:
		return "fragment"
	case OutcomeFullPage:
		return "full-page"
	case OutcomeReload:
		return "reload"
	case OutcomeFailed:
		return "failed"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of a refresh.
type Outcome struct {
	Kind   OutcomeKind
	Params Params
	Model  *guide.Model
	Head   string
	Body   string
	Status int
	Err    error
}

// GuideSource fetches a rendered guide.
type GuideSource interface {
	FetchGuide(ctx context.Context) (*Response, error)
}

// InstallFunc installs a freshly parsed model, or discards the current one when
// m is nil. It runs while the coordinator holds its lock.
type InstallFunc func(m *guide.Model) error

// Coordinator issues guide refreshes and applies their responses. Only the
// most recently started refresh is applied; older ones are cancelled.
type Coordinator struct {
	log    logrus.FieldLogger
	source GuideSource
	store  *Store

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewCoordinator creates a new refresh coordinator.
func NewCoordinator(log logrus.FieldLogger, source GuideSource, store *Store) *Coordinator {
	return &Coordinator{
		log:    log.WithField("component", "coordinator"),
		source: source,
		store:  store,
	}
}

// Refresh requests a new guide for params and applies the response.
func (c *Coordinator) Refresh(ctx context.Context, params Params, install InstallFunc) Outcome {
	if install == nil {
		install = func(m *guide.Model) error {
			if m != nil {
				c.store.SetModel(m)
			}

			return nil
		}
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq

	if c.cancel != nil {
		c.cancel()
	}

	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	defer cancel()

	log := c.log.WithFields(logrus.Fields{
		"seq":      seq,
		"days":     params.WindowDays,
		"group":    params.Group,
		"provider": params.Provider,
	})

	resp, fetchErr := c.source.FetchGuide(reqCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		log.Debug("Discarding superseded guide response")

		return Outcome{Kind: OutcomeSuperseded, Params: params}
	}

	c.cancel = nil

	if fetchErr != nil {
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeFailed, Params: params, Err: fetchErr}
		}

		log.WithError(fetchErr).Warn("Guide request failed, session must reload")

		return Outcome{Kind: OutcomeReload, Params: params, Err: fmt.Errorf("%w: %w", ErrSessionInvalid, fetchErr)}
	}

	switch resp.Status {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusServiceUnavailable:
		log.WithField("status", resp.Status).Warn("Console rejected guide request, session must reload")

		return Outcome{
			Kind:   OutcomeReload,
			Params: params,
			Status: resp.Status,
			Err:    fmt.Errorf("%w: status %d", ErrSessionInvalid, resp.Status),
		}
	default:
		return Outcome{
			Kind:   OutcomeFailed,
			Params: params,
			Status: resp.Status,
			Err:    fmt.Errorf("unexpected status code: %d", resp.Status),
		}
	}

	if !isFragment(resp) {
		head, body, err := splitDocument(resp.Body)
		if err != nil {
			return Outcome{Kind: OutcomeFailed, Params: params, Status: resp.Status, Err: err}
		}

		if err := install(nil); err != nil {
			return Outcome{Kind: OutcomeFailed, Params: params, Status: resp.Status, Err: err}
		}

		c.store.Clear()
		log.Info("Console returned a full page")

		return Outcome{Kind: OutcomeFullPage, Params: params, Status: resp.Status, Head: head, Body: body}
	}

	model, err := guide.ParseFragment(bytes.NewReader(resp.Body))
	if err != nil {
		log.WithError(err).Error("Failed to parse guide fragment")

		return Outcome{Kind: OutcomeFailed, Params: params, Status: resp.Status, Err: fmt.Errorf("failed to parse guide: %w", err)}
	}

	if err := install(model); err != nil {
		log.WithError(err).Error("Failed to install guide")

		return Outcome{Kind: OutcomeFailed, Params: params, Status: resp.Status, Err: err}
	}

	c.store.SetApplied(params)

	current, _ := c.store.Model()

	log.WithFields(logrus.Fields{
		"channels": len(model.Channels),
		"programs": model.ProgramCount(),
	}).Info("Guide refreshed")

	return Outcome{Kind: OutcomeFragment, Params: params, Status: resp.Status, Model: current}
}

func isFragment(resp *Response) bool {
	if v := resp.Header.Get(FragmentHeader); v != "" {
		return v == "1" || strings.EqualFold(v, "true")
	}

	return guide.DetectFragment(resp.Body)
}

// splitDocument returns the rendered contents of a document's head and body.
func splitDocument(doc []byte) (string, string, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse page: %w", err)
	}

	var head, body *html.Node

	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head:
				head = n
			case atom.Body:
				body = n
			}
		}

		for c := n.FirstChild; c != nil && (head == nil || body == nil); c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)

	if body == nil {
		return "", "", errors.New("page has no body")
	}

	headHTML, err := renderChildren(head)
	if err != nil {
		return "", "", err
	}

	bodyHTML, err := renderChildren(body)
	if err != nil {
		return "", "", err
	}

	return headHTML, bodyHTML, nil
}

func renderChildren(n *html.Node) (string, error) {
	if n == nil {
		return "", nil
	}

	var buf bytes.Buffer

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("failed to render page: %w", err)
		}
	}

	return buf.String(), nil
}
