// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/metrics"
	"github.com/ManuGH/nexa/internal/platform/outbound"
)

const (
	maxResponseBytes = 8 << 20
	maxAttempts      = 3
)

// Factory builds per-agent HTTP clients. Limiters and breakers are shared by
// agent name, so two clients for the same agent draw from one token bucket
// and trip one breaker.
type Factory struct {
	cfg    config.AgentsConfig
	policy outbound.Policy

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker[*payload]
}

type payload struct {
	status int
	body   []byte
}

// NewFactory wires the outbound policy into every client it builds.
func NewFactory(cfg config.AgentsConfig) *Factory {
	return &Factory{
		cfg:      cfg,
		policy:   outbound.Policy{Hosts: cfg.AllowedHosts},
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*payload]),
	}
}

// Client is one remote agent's HTTP access: rate-limited, retried, breaker
// guarded, policy confined.
type Client struct {
	agent   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*payload]
	log     zerolog.Logger
}

// ClientFor returns the named agent's client. Timeout and rate come from the
// per-agent override when present, the global defaults otherwise.
func (f *Factory) ClientFor(agent string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	ov := f.cfg.Overrides[agent]
	timeout := f.cfg.Timeout
	if ov.Timeout > 0 {
		timeout = ov.Timeout
	}

	limiter, ok := f.limiters[agent]
	if !ok {
		perSec := ov.RatePerSec
		if perSec <= 0 {
			perSec = 4
		}
		burst := ov.Burst
		if burst <= 0 {
			burst = int(perSec)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		f.limiters[agent] = limiter
	}

	breaker, ok := f.breakers[agent]
	if !ok {
		breaker = gobreaker.NewCircuitBreaker[*payload](gobreaker.Settings{
			Name:    agent,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		f.breakers[agent] = breaker
	}

	return &Client{
		agent:   agent,
		baseURL: ov.BaseURL,
		http: &http.Client{
			Timeout:       timeout,
			Transport:     f.policy.Transport(nil),
			CheckRedirect: f.policy.CheckRedirect,
		},
		limiter: limiter,
		breaker: breaker,
		log:     log.WithComponent("agents").With().Str("agent", agent).Logger(),
	}
}

// BaseURL returns the configured endpoint override, empty when the agent
// uses its built-in default.
func (c *Client) BaseURL() string { return c.baseURL }

// GetJSON fetches url and decodes the body into v. 429 and 5xx retry with
// jittered exponential backoff up to three attempts; other 4xx fail
// immediately. A tripped breaker fails fast as Unavailable.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", c.agent, err)
	}
	return nil
}

// GetBytes fetches url and returns the raw body under the same policy as
// GetJSON. Image providers use it for artwork downloads.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	res, err := retry.DoWithData(func() (*payload, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Unrecoverable(err)
		}
		p, err := c.breaker.Execute(func() (*payload, error) {
			return c.do(ctx, url)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, retry.Unrecoverable(errdef.Wrap(errdef.KindUnavailable, err, "agent %s circuit open", c.agent))
		}
		return p, err
	},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(300*time.Millisecond),
		retry.MaxJitter(200*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			metrics.AgentRetries.WithLabelValues(c.agent).Inc()
			c.log.Debug().Uint("attempt", n+1).Err(err).Msg("retrying agent request")
		}),
	)
	if err != nil {
		metrics.AgentRequests.WithLabelValues(c.agent, "error").Inc()
		return nil, err
	}
	metrics.AgentRequests.WithLabelValues(c.agent, "ok").Inc()
	return res.body, nil
}

// do performs one attempt. The error classification drives retryability:
// Unavailable retries, anything else is terminal.
func (c *Client) do(ctx context.Context, url string) (*payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errdef.Wrap(errdef.KindUnavailable, err, "agent %s request", c.agent)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errdef.Unavailable("agent %s: %s", c.agent, resp.Status)
	case resp.StatusCode >= 400:
		kind := errdef.KindInternal
		if resp.StatusCode == http.StatusNotFound {
			kind = errdef.KindNotFound
		}
		return nil, retry.Unrecoverable(errdef.New(kind, "agent %s: %s", c.agent, resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errdef.Wrap(errdef.KindUnavailable, err, "agent %s read body", c.agent)
	}
	return &payload{status: resp.StatusCode, body: body}, nil
}
