// Package practicum talks to the homework review status API.
package practicum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hwbot/internal/homework"
	logx "hwbot/pkg/logx"
)

// DefaultEndpoint is the production homework status endpoint.
const DefaultEndpoint = "https://practicum.yandex.ru/api/user_api/homework_statuses/"

const maxResponseBodySize = 1 << 20 // 1MB

// Config configures a Client.
type Config struct {
	Endpoint string
	Token    string
	// Timeout bounds a single request. Zero leaves it to the transport.
	Timeout time.Duration
}

// Client fetches homework statuses.
//
// Every failure is returned as *homework.Error so the poller can report it
// precisely.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg: cfg,
		// no client timeout - per-request timeouts via context
		http: &http.Client{},
		log:  log,
	}
}

// Fetch requests homeworks updated since fromDate (Unix seconds) and returns
// the decoded JSON body. Shape validation is left to homework.CheckResponse.
func (c *Client) Fetch(ctx context.Context, fromDate int64) (any, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, &homework.Error{Kind: homework.KindConnectionFailure, URL: c.cfg.Endpoint, Err: err}
	}
	q := u.Query()
	q.Set("from_date", strconv.FormatInt(fromDate, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &homework.Error{Kind: homework.KindConnectionFailure, URL: c.cfg.Endpoint, Err: err}
	}
	req.Header.Set("Authorization", "OAuth "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	c.log.Info("requesting homework statuses", logx.String("endpoint", c.cfg.Endpoint), logx.Int64("from_date", fromDate))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &homework.Error{Kind: homework.KindConnectionFailure, URL: c.cfg.Endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &homework.Error{Kind: homework.KindConnectionFailure, URL: c.cfg.Endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	c.log.Debug("homework API responded",
		logx.Int("status", resp.StatusCode),
		logx.Duration("latency", time.Since(start)),
		logx.Int("bytes", len(body)),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, &homework.Error{Kind: homework.KindUnexpectedStatusCode, StatusCode: resp.StatusCode}
	}

	var out any
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&out); err != nil {
		return nil, &homework.Error{Kind: homework.KindMalformedResponseBody, Err: err}
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			err = errors.New("trailing data")
		}
		return nil, &homework.Error{Kind: homework.KindMalformedResponseBody, Err: err}
	}
	return out, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	if c == nil || c.http == nil {
		return
	}
	c.http.CloseIdleConnections()
}
