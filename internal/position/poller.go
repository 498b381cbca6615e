// Package position polls a secondary geographic position source over REST
// and keeps a trailing cache of the last good fix. The cached position
// feeds the derived proximity query against the lightning store.
package position

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stormfeed/stormfeed/internal/event"
)

// Position is the last known fix of the tracked object.
type Position struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Poller fetches the tracked position on a fixed interval. A failed poll
// never clears the cache; readers keep seeing the last good fix.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu     sync.RWMutex
	last   Position
	filled bool
}

// NewPoller creates a poller for the given source URL.
func NewPoller(url string, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		url:      url,
		interval: interval,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger,
	}
}

// Run polls until the context is cancelled. Call in a goroutine.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("position poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Current returns the cached position and whether a fix has ever been
// obtained.
func (p *Poller) Current() (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.filled
}

func (p *Poller) poll(ctx context.Context) {
	pos, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("position poll failed", zap.Error(err))
		}
		return
	}

	p.mu.Lock()
	p.last = pos
	p.filled = true
	p.mu.Unlock()

	p.logger.Debug("position updated",
		zap.Float64("lat", pos.Lat),
		zap.Float64("lon", pos.Lon),
	)
}

func (p *Poller) fetch(ctx context.Context) (Position, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Position{}, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Position{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Position{}, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Position{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Position{}, fmt.Errorf("reading body: %w", err)
	}

	return parsePosition(body)
}

// parsePosition accepts either a flat {lat, lon} object or the nested
// string-coordinate shape the default source uses.
func parsePosition(body []byte) (Position, error) {
	var wire struct {
		Lat    *float64 `json:"lat"`
		Lon    *float64 `json:"lon"`
		Nested *struct {
			Latitude  string `json:"latitude"`
			Longitude string `json:"longitude"`
		} `json:"iss_position"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return Position{}, fmt.Errorf("decoding response: %w", err)
	}

	var lat, lon float64
	switch {
	case wire.Lat != nil && wire.Lon != nil:
		lat, lon = *wire.Lat, *wire.Lon
	case wire.Nested != nil:
		var err error
		if lat, err = strconv.ParseFloat(wire.Nested.Latitude, 64); err != nil {
			return Position{}, fmt.Errorf("parsing latitude: %w", err)
		}
		if lon, err = strconv.ParseFloat(wire.Nested.Longitude, 64); err != nil {
			return Position{}, fmt.Errorf("parsing longitude: %w", err)
		}
	default:
		return Position{}, fmt.Errorf("no position in response")
	}

	if !event.ValidCoords(lat, lon) {
		return Position{}, fmt.Errorf("position out of range: %f,%f", lat, lon)
	}

	return Position{Lat: lat, Lon: lon, FetchedAt: time.Now()}, nil
}
