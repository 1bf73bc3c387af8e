// Package openproject is a client for the OpenProject API v3 (HAL+JSON).
//
// Only the operations the recurrence service needs are implemented. Reads are
// rate limited and retried on transient failures; writes are rate limited and
// never retried.
package openproject

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "wprecur/pkg/logx"
)

const (
	mediaType       = "application/hal+json"
	defaultPageSize = 1000
	maxErrorBody    = 64 << 10
)

// Config configures a Client.
//
// BaseURL, when set, replaces the scheme+host derived from Host/HTTPS and must
// include the /api/v3 prefix path or nothing (then it is appended).
type Config struct {
	BaseURL   string
	Host      string
	HTTPS     bool
	VerifySSL bool
	APIKey    string

	Timeout    time.Duration
	RatePerSec int // 0 disables client-side limiting
	PageSize   int
	Retry      RetryPolicy
}

func (c Config) baseURL() string {
	if b := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); b != "" {
		if strings.HasSuffix(b, strings.TrimRight(apiPrefix, "/")) {
			return b + "/"
		}
		return b + apiPrefix
	}
	scheme := "http"
	if c.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, strings.TrimSpace(c.Host), apiPrefix)
}

// authToken is the Basic credential for API key auth ("apikey:<key>").
func authToken(apiKey string) string {
	return base64.StdEncoding.EncodeToString([]byte("apikey:" + apiKey))
}

type Client struct {
	base     string
	auth     string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
	retry    RetryPolicy
	log      logx.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" && strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("openproject: host is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openproject: api key is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via verify_ssl=false
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	ps := cfg.PageSize
	if ps <= 0 {
		ps = defaultPageSize
	}
	return &Client{
		base:     cfg.baseURL(),
		auth:     authToken(cfg.APIKey),
		http:     &http.Client{Timeout: timeout, Transport: tr},
		limiter:  lim,
		pageSize: ps,
		retry:    cfg.Retry.withDefaults(),
		log:      log.With(logx.String("component", "openproject")),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Client) jitterRand() *rand.Rand {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return rand.New(rand.NewSource(c.rng.Int63()))
}

// do performs one API call and decodes the response into out (if non-nil).
// GETs are retried according to the retry policy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("openproject: encode %s %s: %w", method, path, err)
		}
		payload = b
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.retry.Max
	}
	var rng *rand.Rand
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.once(ctx, method, path, query, payload, out)
		if err == nil || attempt == attempts || !retryable(err) || ctx.Err() != nil {
			return err
		}
		if rng == nil {
			rng = c.jitterRand()
		}
		wait := c.retry.delay(attempt, err, rng)
		c.log.Debug("request retry scheduled",
			logx.String("method", method),
			logx.String("path", path),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", wait),
			logx.Err(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := c.base + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("openproject: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", mediaType)
	req.Header.Set("Content-Type", mediaType)
	req.Header.Set("Authorization", "Basic "+c.auth)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	c.log.Trace("request done",
		logx.String("method", method),
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openproject: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(method, path string, resp *http.Response) error {
	ae := &APIError{
		Method:     method,
		Path:       path,
		Status:     resp.StatusCode,
		retryAfter: parseRetryAfter(resp.Header, time.Now()),
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		ErrorIdentifier string `json:"errorIdentifier"`
		Message         string `json:"message"`
	}
	if json.Unmarshal(b, &body) == nil {
		id := body.ErrorIdentifier
		if i := strings.LastIndexByte(id, ':'); i >= 0 {
			id = id[i+1:]
		}
		ae.Identifier = id
		ae.Message = body.Message
	}
	return ae
}

type collection[T any] struct {
	Total    int `json:"total"`
	Count    int `json:"count"`
	Embedded struct {
		Elements []T `json:"elements"`
	} `json:"_embedded"`
}

// list fetches every page of a collection. OpenProject's "offset" is a
// 1-based page number.
func list[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var out []T
	for page := 1; ; page++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("offset", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(c.pageSize))

		var col collection[T]
		if err := c.do(ctx, http.MethodGet, path, q, nil, &col); err != nil {
			return nil, err
		}
		out = append(out, col.Embedded.Elements...)
		if len(col.Embedded.Elements) == 0 || len(out) >= col.Total {
			return out, nil
		}
	}
}
