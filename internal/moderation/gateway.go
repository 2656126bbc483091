// Package moderation talks to the external profanity scorer.
//
// Only a redacted copy of each message leaves the process: allow-listed words
// are stripped first so the scorer cannot flag them. Verdicts are cached per
// redacted text, identical in-flight lookups share one upstream call and
// outbound calls are throttled to protect the upstream quota.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const DefaultEndpoint = "https://vector.profanity.dev"

// Result is the upstream verdict.
type Result struct {
	IsProfanity bool    `json:"isProfanity"`
	Score       float64 `json:"score"`
	FlaggedFor  string  `json:"flaggedFor"`
}

type request struct {
	Message string `json:"message"`
}

type Config struct {
	Endpoint  string
	Timeout   time.Duration
	AllowList []string
	CacheSize int
	CacheTTL  time.Duration
	RPS       float64
	Burst     int
}

type Gateway struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	redactor *Redactor
	limiter  *rate.Limiter
	cache    *lru.LRU[string, Result]
	group    singleflight.Group
	latency  prometheus.Observer
}

type Option func(*Gateway)

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithLatencyObserver records upstream call latency.
func WithLatencyObserver(o prometheus.Observer) Option {
	return func(g *Gateway) { g.latency = o }
}

func NewGateway(cfg Config, opts ...Option) *Gateway {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.AllowList == nil {
		cfg.AllowList = DefaultAllowList
	}

	g := &Gateway{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		client:   &http.Client{},
		redactor: NewRedactor(cfg.AllowList),
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	if cfg.CacheSize > 0 && cfg.CacheTTL > 0 {
		g.cache = lru.NewLRU[string, Result](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check scores message. Upstream failures come back as *ExternalServiceError;
// callers decide whether an unchecked message may pass.
func (g *Gateway) Check(ctx context.Context, message string) (*Result, error) {
	clean := g.redactor.Redact(message)
	if clean == "" {
		// Nothing left for the scorer to object to.
		return &Result{}, nil
	}

	if g.cache != nil {
		if res, ok := g.cache.Get(clean); ok {
			return &res, nil
		}
	}

	// The shared lookup must not die with whichever caller started it;
	// score's own timeout bounds it. Each caller still honours its ctx.
	shared := context.WithoutCancel(ctx)
	ch := g.group.DoChan(clean, func() (interface{}, error) {
		res, err := g.score(shared, clean)
		if err != nil {
			return nil, err
		}
		if g.cache != nil {
			g.cache.Add(clean, *res)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		return &res, nil
	}
}

func (g *Gateway) score(ctx context.Context, clean string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &ExternalServiceError{Op: "throttle", Err: err}
		}
	}

	body, err := json.Marshal(request{Message: clean})
	if err != nil {
		return nil, fmt.Errorf("moderation: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ExternalServiceError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if g.latency != nil {
		g.latency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, &ExternalServiceError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &ExternalServiceError{Op: "status", StatusCode: resp.StatusCode}
	}

	var res Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res); err != nil {
		return nil, &ExternalServiceError{Op: "decode", Err: err}
	}
	return &res, nil
}
