// Package fetchgate gates outbound crawl HTTP calls behind a rotating
// user-agent pool, a per-host rate limiter and a per-host circuit breaker, so
// a misbehaving marketplace host cannot exhaust workers or trip bans.
package fetchgate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

type Config struct {
	UserAgents []string
	Timeout    time.Duration

	// HostRPS and HostBurst bound the request rate against any single host.
	HostRPS   float64
	HostBurst int

	CBFailureThreshold uint32
	CBRecoveryTime     time.Duration
}

func DefaultConfig() Config {
	return Config{
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		},
		Timeout:            20 * time.Second,
		HostRPS:            1,
		HostBurst:          2,
		CBFailureThreshold: 5,
		CBRecoveryTime:     60 * time.Second,
	}
}

type hostGate struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type Gate struct {
	cfg    Config
	client *http.Client

	mu    sync.Mutex
	hosts map[string]*hostGate
	uaIdx int
}

func New(cfg Config) *Gate {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultConfig().UserAgents
	}
	return &Gate{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		hosts:  make(map[string]*hostGate),
	}
}

// Fetch performs a gated GET against the given URL: wait for the host's rate
// limiter, then run the request inside the host's circuit breaker with a
// rotated user agent.
func (g *Gate) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse fetch url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid fetch url %q", rawURL)
	}

	host := g.gateFor(parsed.Host)
	if err := host.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := host.breaker.Execute(func() (any, error) {
		return g.do(ctx, rawURL)
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

func (g *Gate) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", g.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch status=%d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (g *Gate) gateFor(host string) *hostGate {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gate, ok := g.hosts[host]; ok {
		return gate
	}

	gate := &hostGate{
		limiter: rate.NewLimiter(rate.Limit(g.cfg.HostRPS), g.cfg.HostBurst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    host,
			Timeout: g.cfg.CBRecoveryTime,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= g.cfg.CBFailureThreshold
			},
		}),
	}
	g.hosts[host] = gate
	return gate
}

func (g *Gate) nextUserAgent() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ua := g.cfg.UserAgents[g.uaIdx%len(g.cfg.UserAgents)]
	g.uaIdx++
	return ua
}
