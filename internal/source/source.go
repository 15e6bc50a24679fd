// CLAUDE:SUMMARY HTTP client for the consolidated-legislation XML API: window listing, block index, revision fetch.

// Package source talks to the consolidated-legislation API. Three
// endpoints: a date-window listing of changed instruments, a per-instrument
// block index, and a per-block revision list carrying raw markup. All
// responses share an XML envelope whose status code is checked separately
// from the HTTP status.
//
// Dates are canonicalized to YYYY-MM-DD on the way in, except index update
// markers, which stay verbatim: change detection compares them
// byte-for-byte and must never normalize away a difference.
package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxBytes  = int64(10 << 20)
	defaultUserAgent = "lexkeeper/1.0"
)

// Instrument is one entry of the changed-instruments listing.
type Instrument struct {
	ID              string
	Title           string
	Rank            string
	RankCode        string
	Department      string
	Scope           string
	PublicationDate string
	EnactmentDate   string
	ConsolidatedURL string
	ELIURL          string
	// Updated is the instrument-level change marker, verbatim.
	Updated string
}

// IndexEntry is one block of an instrument's consolidated text index.
type IndexEntry struct {
	BlockID string
	Heading string
	// UpdatedMarker is opaque: compared byte-for-byte, never parsed.
	UpdatedMarker string
	URL           string
}

// BlockRevisions is the full revision history of one block, oldest markup
// variants included, as the source currently publishes it.
type BlockRevisions struct {
	BlockID   string
	Kind      string
	Heading   string
	Revisions []Revision
}

// Revision is one temporal version of a block's text.
type Revision struct {
	// AmendingID names the instrument that caused this revision; empty for
	// the original text.
	AmendingID      string
	PublicationDate string
	EffectiveStart  string
	Markup          string
}

// StatusError reports an envelope-level failure: the HTTP exchange
// succeeded but the API flagged the request.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: %s: envelope status %d", e.Endpoint, e.Code)
}

// Options configures a Client. Zero values get production defaults.
type Options struct {
	// BaseURL is the collection root, e.g.
	// https://www.boe.es/datosabiertos/api/legislacion-consolidada
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// MaxBytes caps each response body. Consolidated texts of major codes
	// run to megabytes; the default is 10 MiB.
	MaxBytes int64
	// HTTPClient overrides the default client; its Timeout wins over
	// Options.Timeout when set.
	HTTPClient *http.Client
}

// Client fetches from the consolidated-legislation API.
type Client struct {
	base      string
	userAgent string
	maxBytes  int64
	client    *http.Client
}

// NewClient validates the base URL and builds a client.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("source: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("source: base url %q must be absolute http(s)", opts.BaseURL)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Client{
		base:      u.String(),
		userAgent: ua,
		maxBytes:  maxBytes,
		client:    client,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// ListInstruments returns the instruments whose consolidated text changed
// inside [from, to]. Both bounds are canonical YYYY-MM-DD and inclusive.
func (c *Client) ListInstruments(ctx context.Context, from, to string) ([]Instrument, error) {
	q := url.Values{}
	q.Set("from", compactDate(from))
	q.Set("to", compactDate(to))
	endpoint := c.base + "?" + q.Encode()

	var env listEnvelope
	if err := c.get(ctx, endpoint, &env); err != nil {
		return nil, err
	}
	if env.Status.Code != http.StatusOK {
		return nil, &StatusError{Endpoint: endpoint, Code: env.Status.Code}
	}

	instruments := make([]Instrument, 0, len(env.Items))
	for _, it := range env.Items {
		instruments = append(instruments, Instrument{
			ID:              it.ID,
			Title:           it.Title,
			Rank:            it.Rank.Name,
			RankCode:        it.Rank.Code,
			Department:      it.Department,
			Scope:           it.Scope,
			PublicationDate: canonicalDate(it.PublicationDate),
			EnactmentDate:   canonicalDate(it.EnactmentDate),
			ConsolidatedURL: it.ConsolidatedURL,
			ELIURL:          it.ELIURL,
			Updated:         it.Updated,
		})
	}
	return instruments, nil
}

// Index returns the block index of an instrument's consolidated text, in
// document order.
func (c *Client) Index(ctx context.Context, instrumentID string) ([]IndexEntry, error) {
	endpoint := fmt.Sprintf("%s/id/%s/texto/indice", c.base, url.PathEscape(instrumentID))

	var env indexEnvelope
	if err := c.get(ctx, endpoint, &env); err != nil {
		return nil, err
	}
	if env.Status.Code != http.StatusOK {
		return nil, &StatusError{Endpoint: endpoint, Code: env.Status.Code}
	}

	entries := make([]IndexEntry, 0, len(env.Blocks))
	for _, b := range env.Blocks {
		entries = append(entries, IndexEntry{
			BlockID:       b.ID,
			Heading:       b.Title,
			UpdatedMarker: b.Updated,
			URL:           b.URL,
		})
	}
	return entries, nil
}

// Revisions returns every published revision of one block, including the
// block kind the index omits. Markup is verbatim.
func (c *Client) Revisions(ctx context.Context, instrumentID, blockID string) (*BlockRevisions, error) {
	endpoint := fmt.Sprintf("%s/id/%s/texto/bloque/%s",
		c.base, url.PathEscape(instrumentID), url.PathEscape(blockID))

	var env revisionsEnvelope
	if err := c.get(ctx, endpoint, &env); err != nil {
		return nil, err
	}
	if env.Status.Code != http.StatusOK {
		return nil, &StatusError{Endpoint: endpoint, Code: env.Status.Code}
	}

	block := &BlockRevisions{
		BlockID:   env.Block.ID,
		Kind:      env.Block.Kind,
		Heading:   env.Block.Title,
		Revisions: make([]Revision, 0, len(env.Block.Versions)),
	}
	for _, v := range env.Block.Versions {
		block.Revisions = append(block.Revisions, Revision{
			AmendingID:      v.AmendingID,
			PublicationDate: canonicalDate(v.PublicationDate),
			EffectiveStart:  canonicalDate(v.EffectiveStart),
			Markup:          v.Markup,
		})
	}
	return block, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("source: create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("source: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := readCapped(resp.Body, c.maxBytes)
	if err != nil {
		return fmt.Errorf("source: %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("source: %s: http status %d", endpoint, resp.StatusCode)
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("source: %s: decode: %w", endpoint, err)
	}
	return nil
}

// readCapped reads at most maxBytes and errors instead of truncating when
// the body is larger.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBytes)
	}
	return data, nil
}
