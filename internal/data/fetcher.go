package data

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/savid/iptv-console/internal/state"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout  = 5 * time.Second
	defaultManifestTimeout = 5 * time.Second
	maxBodySize            = 64 * 1024 * 1024 // guide pages for long windows get large

	guidePath = "/index.html"

	// SettingsExpiryCookie carries the expiry the console grants to persisted settings.
	SettingsExpiryCookie = "settings_cookie_expires"
)

// FragmentHeader marks a guide response as a fragment when set to "1".
const FragmentHeader = "X-Guide-Fragment"

// ErrSessionInvalid is returned when the console no longer recognises the session.
var ErrSessionInvalid = errors.New("console session is no longer valid")

// Response is a raw console response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	ConsoleURL        string
	Password          string
	RequestTimeout    time.Duration
	ManifestTimeout   time.Duration
	RequestsPerSecond float64
}

// Fetcher talks to the IPTV proxy console over HTTP. All calls share one cookie
// jar so that the console sees a single session.
type Fetcher struct {
	log             logrus.FieldLogger
	baseURL         *url.URL
	httpClient      *http.Client
	limiter         *rate.Limiter
	authorization   string
	sessionID       string
	requestTimeout  time.Duration
	manifestTimeout time.Duration
}

// NewFetcher creates a new console client.
func NewFetcher(log logrus.FieldLogger, cfg FetcherConfig) (*Fetcher, error) {
	baseURL, err := url.Parse(strings.TrimRight(cfg.ConsoleURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid console URL: %w", err)
	}

	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid console URL %q: scheme and host are required", cfg.ConsoleURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	f := &Fetcher{
		log:     log.WithField("component", "fetcher"),
		baseURL: baseURL,
		// No client timeout: guide rebuilds upstream can take minutes. Bounded
		// calls get a deadline through their context instead.
		httpClient:      &http.Client{Jar: jar},
		limiter:         rate.NewLimiter(limit, 1),
		sessionID:       uuid.NewString(),
		requestTimeout:  cfg.RequestTimeout,
		manifestTimeout: cfg.ManifestTimeout,
	}

	if f.requestTimeout <= 0 {
		f.requestTimeout = defaultRequestTimeout
	}

	if f.manifestTimeout <= 0 {
		f.manifestTimeout = defaultManifestTimeout
	}

	if cfg.Password != "" {
		f.authorization = "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+cfg.Password))
	}

	return f, nil
}

// SessionID returns the id sent with every request of this client.
func (f *Fetcher) SessionID() string {
	return f.sessionID
}

// FetchGuide requests a freshly rendered guide. The request has no deadline of
// its own and bypasses caches. A non-nil error means no response was received.
func (f *Fetcher) FetchGuide(ctx context.Context) (*Response, error) {
	target := f.resolve(guidePath)
	target.RawQuery = url.Values{"refresh_epg": {"1"}}.Encode()

	f.log.WithField("url", target.String()).Info("Fetching guide")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, err
	}

	f.log.WithFields(logrus.Fields{
		"status": resp.Status,
		"size":   len(resp.Body),
	}).Debug("Fetched guide")

	return resp, nil
}

// FetchManifest downloads a playlist manifest. Relative URIs resolve against the console.
func (f *Fetcher) FetchManifest(ctx context.Context, uri string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.manifestTimeout)
	defer cancel()

	target, err := f.baseURL.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest URI %q: %w", uri, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.Status)
	}

	return resp.Body, nil
}

// DoJSON sends a JSON request to a console API path. The returned status is 0
// when no response was received.
func (f *Fetcher) DoJSON(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.resolve(path).String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.api+json, application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.do(ctx, req)
	if err != nil {
		return 0, nil, err
	}

	return resp.Status, resp.Body, nil
}

// SetViewCookies stores the view settings as console cookies so that guide
// renders honour them.
func (f *Fetcher) SetViewCookies(v state.ViewState, expires time.Time) {
	values := map[string]string{
		"guide_number_of_days": strconv.Itoa(v.GuideWindowDays),
		"guide_provider":       v.Provider,
		"guide_group":          v.Group,
		"streaming_protocol":   v.Protocol,
		"guide_sort_by":        strconv.Itoa(int(v.SortCriteria)),
		"guide_sort_order":     strconv.Itoa(int(v.SortOrder)),
	}

	cookies := make([]*http.Cookie, 0, len(values))

	for name, value := range values {
		cookies = append(cookies, &http.Cookie{
			Name:    name,
			Value:   url.QueryEscape(value),
			Path:    "/",
			Expires: expires,
		})
	}

	f.httpClient.Jar.SetCookies(f.baseURL, cookies)
}

// SettingsExpiry returns the settings expiry granted by the console, if any.
func (f *Fetcher) SettingsExpiry() (time.Time, bool) {
	for _, c := range f.httpClient.Jar.Cookies(f.baseURL) {
		if c.Name != SettingsExpiryCookie {
			continue
		}

		value, err := url.QueryUnescape(c.Value)
		if err != nil {
			value = c.Value
		}

		if t, err := http.ParseTime(strings.Trim(value, `"`)); err == nil {
			return t, true
		}

		if t, err := time.Parse(time.RFC3339, strings.Trim(value, `"`)); err == nil {
			return t, true
		}

		f.log.WithField("value", c.Value).Warn("Unparseable settings expiry cookie")
	}

	return time.Time{}, false
}

func (f *Fetcher) resolve(path string) *url.URL {
	target := *f.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path

	if p, q, ok := strings.Cut(target.Path, "?"); ok {
		target.Path = p
		target.RawQuery = q
	}

	return &target
}

func (f *Fetcher) isConsole(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, f.baseURL.Scheme) && strings.EqualFold(u.Host, f.baseURL.Host)
}

func (f *Fetcher) do(ctx context.Context, req *http.Request) (*Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	// Credentials only go to the console; manifests may live on provider hosts.
	if f.isConsole(req.URL) {
		if f.authorization != "" {
			req.Header.Set("Authorization", f.authorization)
		}

		req.Header.Set("X-Session-ID", f.sessionID)
	}

	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body

	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gzReader, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", gzErr)
		}
		defer gzReader.Close()

		reader = gzReader
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
