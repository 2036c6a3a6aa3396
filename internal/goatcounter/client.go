// Package goatcounter is a small client for the GoatCounter stats API.
package goatcounter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/config"
	"github.com/withObsrvr/webstats/internal/logging"
)

// maxErrorBody caps how much of an error response ends up in a TransportError
const maxErrorBody = 512

// Client fetches per-URL hit stats
type Client struct {
	hitsURL    string
	token      string
	limit      int
	paginate   bool
	maxPages   int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client from the goatcounter config section. The
// request timeout comes from cfg.TimeoutSeconds.
func NewClient(cfg config.GoatCounterConfig, logger *zap.Logger) *Client {
	return &Client{
		hitsURL:    cfg.HitsURL(),
		token:      cfg.Token,
		limit:      cfg.PageLimit,
		paginate:   cfg.Paginate,
		maxPages:   cfg.MaxPages,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		logger:     logging.OrNop(logger).With(zap.String("component", "goatcounter")),
	}
}

// FetchHits returns the hits recorded since start. By default this is a
// single bounded request; with pagination enabled it keeps requesting pages
// while a page comes back full.
func (c *Client) FetchHits(ctx context.Context, start time.Time) ([]Hit, error) {
	if !c.paginate {
		return c.fetchPage(ctx, start, 0)
	}

	var all []Hit
	for page := 1; page <= c.maxPages; page++ {
		batch, err := c.fetchPage(ctx, start, page)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < c.limit {
			return all, nil
		}
	}

	c.logger.Warn("stopped paginating at max_pages",
		zap.Int("max_pages", c.maxPages),
		zap.Int("hits", len(all)),
	)
	return all, nil
}

// fetchPage issues one GET. page 0 means "no page parameter".
func (c *Client) fetchPage(ctx context.Context, start time.Time, page int) ([]Hit, error) {
	params := url.Values{}
	params.Set("start", start.Format(time.DateOnly))
	params.Set("limit", strconv.Itoa(c.limit))
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.hitsURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &TransportError{URL: c.hitsURL, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	began := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: c.hitsURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			URL:        c.hitsURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var payload hitsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &TransportError{URL: c.hitsURL, Err: fmt.Errorf("decode response: %w", err)}
	}

	c.logger.Debug("fetched hits page",
		zap.String("start", start.Format(time.DateOnly)),
		zap.Int("page", page),
		zap.Int("hits", len(payload.Hits)),
		zap.Duration("latency", time.Since(began)),
	)

	if payload.Hits == nil {
		return []Hit{}, nil
	}
	return payload.Hits, nil
}
