// Package sensors keeps the sensor value cache fresh from Home Assistant,
// either by polling the REST API or by listening to MQTT state messages.
//
// Sources only ever write successful values. A failed fetch leaves the
// previous value in place, so the display shows stale data rather than "?".
package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
)

// Writer receives sensor values. *cache.Store satisfies it.
type Writer interface {
	Set(entityID, value string)
	Len() int
}

// Fetcher reads the current state of one entity.
type Fetcher interface {
	FetchState(ctx context.Context, entityID string) (string, error)
}

type stateResponse struct {
	State string `json:"state"`
}

// Client is a minimal Home Assistant REST client.
type Client struct {
	base  string
	token string
	h     *http.Client
}

// NewClient creates a client for base (e.g. "http://homeassistant.local:8123")
// authenticating with a long-lived access token.
func NewClient(base, token string, timeout time.Duration) (*Client, error) {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return nil, errors.New("sensors: home assistant base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("sensors: invalid base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		base:  base,
		token: token,
		h:     &http.Client{Timeout: timeout},
	}, nil
}

// FetchState calls GET /api/states/{entity_id} and returns the "state" field.
// Any non-2xx status is an error.
func (c *Client) FetchState(ctx context.Context, entityID string) (string, error) {
	u := c.base + "/api/states/" + url.PathEscape(entityID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.h.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("home assistant %s returned %d: %s", entityID, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var payload stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("home assistant %s: decode state: %w", entityID, err)
	}
	return payload.State, nil
}

// Poller refreshes a fixed set of entities on an interval.
type Poller struct {
	fetch    Fetcher
	store    Writer
	ids      []string
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewPoller creates a poller. m may be nil.
func NewPoller(fetch Fetcher, store Writer, ids []string, interval time.Duration, m *metrics.Metrics) (*Poller, error) {
	if fetch == nil || store == nil {
		return nil, errors.New("sensors: poller needs a fetcher and a store")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sensors: invalid poll interval %v", interval)
	}

	return &Poller{
		fetch:    fetch,
		store:    store,
		ids:      append([]string(nil), ids...),
		interval: interval,
		metrics:  m,
	}, nil
}

// Run polls immediately and then every interval until ctx is cancelled.
// With no entities to watch it returns at once.
func (p *Poller) Run(ctx context.Context) error {
	if len(p.ids) == 0 {
		slog.Info("sensors: no sensor placeholders configured, poller idle")
		return nil
	}

	slog.Info("sensors: poller started",
		"entities", len(p.ids),
		"interval", p.interval,
	)

	for {
		ok, failed := p.PollOnce(ctx)
		slog.Debug("sensors: poll cycle finished", "ok", ok, "failed", failed)

		select {
		case <-ctx.Done():
			slog.Info("sensors: poller stopped")
			return nil
		case <-time.After(p.interval):
		}
	}
}

// PollOnce fetches every entity sequentially. Successful values are written
// to the store; failures are logged and leave the store untouched.
func (p *Poller) PollOnce(ctx context.Context) (ok, failed int) {
	for _, id := range p.ids {
		if ctx.Err() != nil {
			return ok, failed
		}

		start := time.Now()
		value, err := p.fetch.FetchState(ctx, id)
		p.metrics.SensorFetchDuration(time.Since(start))
		if err != nil {
			failed++
			p.metrics.SensorUpdate("rest", false)
			slog.Warn("sensors: failed to fetch sensor state",
				"entity_id", id,
				"error", err,
			)
			continue
		}

		ok++
		p.store.Set(id, value)
		p.metrics.SensorUpdate("rest", true)
	}

	p.metrics.SetSensorsCached(p.store.Len())
	return ok, failed
}
