// Package graph implements the team-scoped GraphQL client handed to handlers.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/morezero/automation-client/pkg/correlation"
)

const logPrefix = "graph:client"

// CorrelationHeader carries the invocation's correlation id to the graph endpoint.
const CorrelationHeader = "X-Correlation-Id"

// Error is a GraphQL error returned by the endpoint.
type Error struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

// Errors collects the GraphQL errors of one response.
type Errors []Error

func (e Errors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Message)
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

type request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors Errors          `json:"errors,omitempty"`
}

// HTTPClient posts GraphQL operations for one team.
type HTTPClient struct {
	endpoint string
	jwt      string
	teamID   string
	http     *http.Client
}

// NewHTTPClient targets <baseURL>/<teamID>.
func NewHTTPClient(baseURL, teamID, jwt string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/" + teamID,
		jwt:      jwt,
		teamID:   teamID,
		http:     hc,
	}
}

func (c *HTTPClient) TeamID() string {
	return c.teamID
}

func (c *HTTPClient) Query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	return c.do(ctx, query, variables, out)
}

func (c *HTTPClient) Mutate(ctx context.Context, mutation string, variables map[string]interface{}, out interface{}) error {
	return c.do(ctx, mutation, variables, out)
}

func (c *HTTPClient) do(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("%s - failed to encode request: %w", logPrefix, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s - failed to build request: %w", logPrefix, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.jwt)
	}
	if id := correlation.CorrelationID(ctx); id != "" {
		req.Header.Set(CorrelationHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s - request to %s failed: %w", logPrefix, c.endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s - failed to read response: %w", logPrefix, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s - %s returned HTTP %d", logPrefix, c.endpoint, resp.StatusCode)
	}

	var gr response
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("%s - malformed response: %w", logPrefix, err)
	}
	if len(gr.Errors) > 0 {
		slog.Debug(fmt.Sprintf("%s - Team %s: %v", logPrefix, c.teamID, gr.Errors))
		return gr.Errors
	}
	if out == nil || len(gr.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("%s - failed to decode data: %w", logPrefix, err)
	}
	return nil
}
