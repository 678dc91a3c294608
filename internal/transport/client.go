// Package transport implements the Simple Downloader (§4.10) and Chunk
// Downloader (§4.11): HTTP byte-range transport, resumable-download
// checkpoints, retry/backoff, and bandwidth shaping. Grounded in the
// teacher's downloadPart/processDownloadPart worker
// (internal/engine/worker.go, internal/core/engine.go), burkut's
// Retrier/backoff math (internal/engine/retry.go) and its
// PerHostRateLimiter shape, and DNS caching via rs/dnscache as used across
// the pack's higher-throughput HTTP clients.
package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	UserAgent             = "romvault-engine/1.0"
)

// ClientPool hands out one *http.Client per host, keyed by hostname so
// connection pooling is host-scoped as §4.11 requires, while concurrent
// chunks of the same download share the one client for that host.
type ClientPool struct {
	resolver *dnscache.Resolver
	mu       sync.Mutex
	clients  map[string]*http.Client
}

func NewClientPool() *ClientPool {
	resolver := &dnscache.Resolver{}
	go refreshDNSCacheLoop(resolver)
	return &ClientPool{resolver: resolver, clients: make(map[string]*http.Client)}
}

func refreshDNSCacheLoop(resolver *dnscache.Resolver) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for range t.C {
		resolver.Refresh(true)
	}
}

// For returns the shared client for host, creating it on first use.
func (p *ClientPool) For(host string) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[host]; ok {
		return c
	}
	dialer := &net.Dialer{Timeout: DefaultConnectTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return dialer.DialContext(ctx, network, addr)
			}
			ips, err := p.resolver.LookupHost(ctx, host)
			if err != nil || len(ips) == 0 {
				return dialer.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
		MaxIdleConnsPerHost:   16,
		ResponseHeaderTimeout: DefaultConnectTimeout,
		IdleConnTimeout:       90 * time.Second,
	}
	client := &http.Client{Transport: transport, Timeout: 0}
	p.clients[host] = client
	return client
}

// NewRequest builds a GET request with the engine's default User-Agent.
func NewRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	return req, nil
}
