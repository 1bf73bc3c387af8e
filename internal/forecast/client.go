// Package forecast reads 15 minute weather codes from the Open-Meteo API.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "wprecur/pkg/logx"
)

const (
	DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"
	// MaxDays is the longest horizon Open-Meteo serves at 15 minute resolution.
	MaxDays = 16
)

var ErrDays = errors.New("forecast: days out of range")

// Config configures a Client.
type Config struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	Timezone  string

	Timeout    time.Duration
	RatePerSec int
	Retries    int
	Backoff    time.Duration
}

// StatusError is a non-2xx answer from the forecast API.
type StatusError struct {
	Status int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("forecast: http %d: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("forecast: http %d", e.Status)
}

func (e *StatusError) temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if cfg.Latitude < -90 || cfg.Latitude > 90 || cfg.Longitude < -180 || cfg.Longitude > 180 {
		return nil, fmt.Errorf("forecast: invalid location %v,%v", cfg.Latitude, cfg.Longitude)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "auto"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: lim,
		log:     log.With(logx.String("component", "forecast")),
	}, nil
}

type response struct {
	Minutely15 struct {
		Time        []string `json:"time"`
		WeatherCode []*int   `json:"weather_code"`
	} `json:"minutely_15"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// Forecast returns the weather codes for the next days days, in 15 minute
// steps. Missing samples read as -1.
func (c *Client) Forecast(ctx context.Context, days int) ([]int, error) {
	if days < 0 || days > MaxDays {
		return nil, fmt.Errorf("%w: %d (want 0..%d)", ErrDays, days, MaxDays)
	}
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(c.cfg.Longitude, 'f', -1, 64))
	q.Set("minutely_15", "weather_code")
	q.Set("forecast_days", strconv.Itoa(days))
	q.Set("timezone", c.cfg.Timezone)
	u := c.cfg.BaseURL + "?" + q.Encode()

	var (
		resp response
		err  error
	)
	wait := c.cfg.Backoff
	for attempt := 0; ; attempt++ {
		resp, err = c.fetch(ctx, u)
		if err == nil || attempt >= c.cfg.Retries || !temporary(err) || ctx.Err() != nil {
			break
		}
		c.log.Debug("forecast retry scheduled", logx.Int("attempt", attempt+2), logx.Duration("delay", wait), logx.Err(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		wait *= 2
	}
	if err != nil {
		return nil, err
	}

	codes := make([]int, len(resp.Minutely15.WeatherCode))
	for i, v := range resp.Minutely15.WeatherCode {
		if v == nil {
			codes[i] = -1
			continue
		}
		codes[i] = *v
	}
	c.log.Debug("forecast fetched", logx.Int("days", days), logx.Int("samples", len(codes)))
	return codes, nil
}

func (c *Client) fetch(ctx context.Context, u string) (response, error) {
	var out response
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return out, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, &netError{err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return out, &netError{err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		se := &StatusError{Status: res.StatusCode}
		_ = json.Unmarshal(body, &out)
		se.Reason = out.Reason
		return out, se
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("forecast: decode: %w", err)
	}
	if out.Error {
		return out, &StatusError{Status: res.StatusCode, Reason: out.Reason}
	}
	return out, nil
}

type netError struct{ err error }

func (e *netError) Error() string { return "forecast: transport: " + e.err.Error() }
func (e *netError) Unwrap() error { return e.err }

func temporary(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.temporary()
	}
	var ne *netError
	return errors.As(err, &ne)
}
