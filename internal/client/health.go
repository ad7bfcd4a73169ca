package client

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/morezero/automation-client/pkg/listener"
)

// Health is the body of GET /health.
type Health struct {
	Status     string    `json:"status"`
	Automation string    `json:"automation"`
	Version    string    `json:"version"`
	Connected  bool      `json:"connected"`
	Registered string    `json:"registered,omitempty"`
	Sessions   int64     `json:"sessions"`
	Handlers   int       `json:"handlers"`
	Uptime     string    `json:"uptime"`
	Timestamp  time.Time `json:"timestamp"`
}

// Health reports the connection and registration state.
func (c *Client) Health() *Health {
	h := &Health{
		Status:     "disconnected",
		Automation: c.cfg.AutomationName,
		Version:    c.cfg.AutomationVersion,
		Connected:  c.transport.Connected(),
		Sessions:   c.transport.Sessions(),
		Handlers:   c.registry.Len(),
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Timestamp:  time.Now().UTC(),
	}
	if h.Connected {
		h.Status = "connected"
	}
	if conf := c.transport.Confirmation(); conf != nil {
		h.Registered = conf.Name + "@" + conf.Version
	}
	return h
}

type storeDump struct {
	Commands []listener.StoreEntry `json:"commands"`
	Events   []listener.StoreEntry `json:"events"`
	Messages []listener.StoreEntry `json:"messages"`
}

// Handler serves /health, /ready and /events.
func (c *Client) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := c.Health()
		w.Header().Set("Content-Type", "application/json")
		if !h.Connected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(storeDump{
			Commands: c.store.Commands(),
			Events:   c.store.Events(),
			Messages: c.store.Messages(),
		})
	})
	return mux
}
