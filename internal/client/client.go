// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package client is the device-side HTTP client to the Tabsync server.
// Idempotent GETs are rate limited and retried with backoff; writes go out
// exactly once per call; replay of failed writes belongs to the outbox,
// which carries the idempotency key that makes replay safe.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
)

// Identity headers the server's auth collaborator resolves.
const (
	HeaderUserID         = "X-User-ID"
	HeaderBusinessID     = "X-Business-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// StatusError is a non-2xx server response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Permanent reports whether retrying the identical request is pointless:
// 4xx responses short of 429 mean the request itself is bad.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// IsPermanent reports whether err is a permanent request failure. Permanent
// failures must not be queued for replay.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// Client talks to the Tabsync server on behalf of one device.
type Client struct {
	baseURL    string
	cfg        config.UpstreamConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	getLimiter *rate.Limiter
}

// envelope mirrors the server's response wrapper with the data left raw.
type envelope struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data,omitempty"`
	Error  *models.APIError `json:"error,omitempty"`
}

// appendResponse is the POST /tickets result payload.
type appendResponse struct {
	OK      bool   `json:"ok"`
	Deduped bool   `json:"deduped,omitempty"`
	ID      string `json:"id"`
}

// New creates a client from upstream configuration.
func New(cfg config.UpstreamConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pollRate := cfg.PollRatePerSecond
	if pollRate <= 0 {
		pollRate = 2
	}

	cbName := "tabsync-upstream"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		getLimiter: rate.NewLimiter(rate.Limit(pollRate), 1),
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Online probes server reachability with a short liveness GET. Used by the
// outbox to skip replay cycles while offline.
func (c *Client) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/health/live", http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	drainAndClose(resp.Body)
	return resp.StatusCode == http.StatusOK
}

// AppendTicket submits a ticket write. The idempotency key rides in the
// Idempotency-Key header, which the server prefers over any body field.
// Never retried here: a failed write is the outbox's to replay.
func (c *Client) AppendTicket(ctx context.Context, payload models.OutboxPayload, idempotencyKey string) (bool, error) {
	body := map[string]interface{}{
		"kind":        payload.Kind,
		"area":        payload.Area,
		"table_label": payload.TableLabel,
		"items":       payload.Items,
	}
	if payload.Covers != nil {
		body["covers"] = *payload.Covers
	}
	if payload.Note != "" {
		body["note"] = payload.Note
	}

	headers := map[string]string{HeaderIdempotencyKey: idempotencyKey}
	// Replayed writes act as the staff member who queued them, not the
	// device's configured identity.
	if payload.UserID != "" {
		headers[HeaderUserID] = payload.UserID
	}

	var result appendResponse
	if err := c.doWrite(ctx, "/api/v1/tickets", body, headers, &result); err != nil {
		return false, err
	}
	return result.Deduped, nil
}

// OpenTable marks a table open server-side.
func (c *Client) OpenTable(ctx context.Context, area, label string) error {
	body := map[string]interface{}{"area": area, "label": label, "open": true}
	return c.doWrite(ctx, "/api/v1/tables/open", body, nil, nil)
}

// CloseTable marks a table closed server-side.
func (c *Client) CloseTable(ctx context.Context, area, label string) error {
	body := map[string]interface{}{"area": area, "label": label, "open": false}
	return c.doWrite(ctx, "/api/v1/tables/open", body, nil, nil)
}

// ReplicateCovers persists the covers count on the table's latest entry.
// Callers treat failures as best effort.
func (c *Client) ReplicateCovers(ctx context.Context, area, label string, covers int) error {
	body := map[string]interface{}{"area": area, "label": label, "covers": covers}
	return c.doWrite(ctx, "/api/v1/tables/covers", body, nil, nil)
}

// GetOpenTables polls the server's occupancy map for reconciliation.
func (c *Client) GetOpenTables(ctx context.Context) ([]models.TableKey, error) {
	var states []models.TableState
	if err := c.doGet(ctx, "/api/v1/tables/open", nil, &states); err != nil {
		return nil, err
	}
	keys := make([]models.TableKey, 0, len(states))
	for _, s := range states {
		keys = append(keys, s.Key())
	}
	return keys, nil
}

// GetLatest fetches the latest entry for a table. Returns nil without error
// when the table has no entries.
func (c *Client) GetLatest(ctx context.Context, area, label string) (*models.TicketLogEntry, error) {
	query := url.Values{"area": {area}, "table": {label}}
	var entry models.TicketLogEntry
	err := c.doGet(ctx, "/api/v1/tickets/latest", query, &entry)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// PollApproved fetches the device user's APPROVED requests awaiting apply.
func (c *Client) PollApproved(ctx context.Context) ([]models.TicketRequest, error) {
	var reqs []models.TicketRequest
	if err := c.doGet(ctx, "/api/v1/requests/poll-approved", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// doWrite sends a single POST, no retries.
func (c *Client) doWrite(ctx context.Context, path string, body interface{}, headers map[string]string, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setIdentity(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.execute(req, result)
}

// doGet issues a rate-limited GET with bounded retry/backoff. Only GETs are
// retried: they are idempotent by construction.
func (c *Client) doGet(ctx context.Context, path string, query url.Values, result interface{}) error {
	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := c.cfg.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := c.getLimiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+path, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if len(query) > 0 {
			req.URL.RawQuery = query.Encode()
		}
		c.setIdentity(req)

		lastErr = c.execute(req, result)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) setIdentity(req *http.Request) {
	if c.cfg.UserID != "" {
		req.Header.Set(HeaderUserID, c.cfg.UserID)
	}
	if c.cfg.BusinessID != "" {
		req.Header.Set(HeaderBusinessID, c.cfg.BusinessID)
	}
}

// execute runs the request through the breaker and decodes the envelope.
func (c *Client) execute(req *http.Request, result interface{}) error {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer drainAndClose(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := resp.Status
		var env envelope
		if jsonErr := json.Unmarshal(raw, &env); jsonErr == nil && env.Error != nil {
			msg = env.Error.Message
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if result == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response envelope: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &StatusError{Code: http.StatusNotFound, Message: "empty response data"}
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
