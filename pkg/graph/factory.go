package graph

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/morezero/automation-client/pkg/handler"
)

const factoryLogPrefix = "graph:factory"

// DefaultCacheTTL bounds how long a team's client is reused.
const DefaultCacheTTL = time.Minute

type cached struct {
	client  *HTTPClient
	expires time.Time
}

// Factory hands out one client per team, cached for a bounded TTL. The
// session JWT is installed on connect and cleared on disconnect.
type Factory struct {
	baseURL string
	ttl     time.Duration
	http    *http.Client
	now     func() time.Time

	mu      sync.Mutex
	jwt     string
	clients map[string]cached
}

type NewFactoryParams struct {
	BaseURL    string
	TTL        time.Duration
	HTTPClient *http.Client
}

func NewFactory(params NewFactoryParams) *Factory {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	hc := params.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Factory{
		baseURL: params.BaseURL,
		ttl:     ttl,
		http:    hc,
		now:     time.Now,
		clients: make(map[string]cached),
	}
}

// ClientFor returns the team's client, creating it when absent or expired.
func (f *Factory) ClientFor(teamID string) handler.GraphClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if c, ok := f.clients[teamID]; ok && now.Before(c.expires) {
		return c.client
	}
	client := NewHTTPClient(f.baseURL, teamID, f.jwt, f.http)
	f.clients[teamID] = cached{client: client, expires: now.Add(f.ttl)}
	return client
}

// Reset installs a new session JWT and drops every cached client.
func (f *Factory) Reset(jwt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jwt = jwt
	n := len(f.clients)
	f.clients = make(map[string]cached)
	slog.Debug(fmt.Sprintf("%s - Reset, dropped %d cached clients", factoryLogPrefix, n))
}

// Invalidate drops the cached client of one team.
func (f *Factory) Invalidate(teamID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, teamID)
}

// Len returns the number of cached clients, expired ones included.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}
