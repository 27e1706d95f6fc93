package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/twinwatch/internal/history"
)

// DailySuffix in an index name is replaced by the event's UTC date
// (2006.01.02), giving one index per day.
const DailySuffix = "{date}"

// Sink indexes each event as a document keyed by its event id, so a
// retried send overwrites instead of duplicating.
type Sink struct {
	client   *http.Client
	baseURL  string
	index    string
	username string
	password string
}

// Option configures a Sink.
type Option func(*Sink)

// WithBasicAuth sends credentials on every request.
func WithBasicAuth(user, pass string) Option {
	return func(s *Sink) { s.username, s.password = user, pass }
}

// WithHTTPClient replaces the default client (5s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// New returns a sink writing to baseURL/index.
func New(baseURL, index string, opts ...Option) *Sink {
	s := &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IndexFor resolves the index an event is written to.
func (s *Sink) IndexFor(e history.Event) string {
	return strings.ReplaceAll(s.index, DailySuffix, e.OccurredAt.UTC().Format("2006.01.02"))
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("opensearch: encode event: %w", err)
	}
	u := fmt.Sprintf("%s/%s/_doc/%s", s.baseURL, url.PathEscape(s.IndexFor(e)), url.PathEscape(e.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch: index %s: status %d: %s", s.IndexFor(e), resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
