package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

const registerLogPrefix = "transport:register"

// register posts the registration payload and returns the confirmation.
// Rejections for bad credentials or configuration come back as
// REGISTRATION_REJECTED; everything else is worth retrying.
func (c *Client) register(ctx context.Context) (*wire.RegistrationConfirmation, error) {
	payload, err := c.payload()
	if err != nil {
		return nil, handler.Errorf(handler.CodeRegistrationRejected, "cannot build registration: %v", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, handler.Errorf(handler.CodeRegistrationRejected, "cannot encode registration: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.registrationURL, bytes.NewReader(body))
	if err != nil {
		return nil, handler.Errorf(handler.CodeRegistrationRejected, "bad registration url %q: %v", c.registrationURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	slog.Info(fmt.Sprintf("%s - Registering %s@%s with %s", registerLogPrefix, payload.Name, payload.Version, c.registrationURL))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s - registration request failed: %w", registerLogPrefix, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var rr wire.RegistrationResponse
		if err := json.Unmarshal(respBody, &rr); err != nil {
			return nil, fmt.Errorf("%s - malformed registration response: %w", registerLogPrefix, err)
		}
		if rr.URL == "" {
			return nil, fmt.Errorf("%s - registration response without url", registerLogPrefix)
		}
		return &wire.RegistrationConfirmation{URL: rr.URL, JWT: rr.JWT, Name: payload.Name, Version: payload.Version}, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		warnSwappedIdentity(payload.TeamIDs)
		return nil, handler.Errorf(handler.CodeRegistrationRejected, "registration rejected with HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%s - another session is active for %s (HTTP 409)", registerLogPrefix, payload.Name)
	default:
		return nil, fmt.Errorf("%s - registration failed with HTTP %d", registerLogPrefix, resp.StatusCode)
	}
}

// warnSwappedIdentity flags workspace ids that look like chat team ids.
// Workspace ids start with "A", chat team ids with "T".
func warnSwappedIdentity(teamIDs []string) {
	for _, id := range teamIDs {
		if strings.HasPrefix(id, "T") {
			slog.Warn(fmt.Sprintf("%s - Workspace id %s looks like a chat team id; configure the workspace id instead", registerLogPrefix, id))
		}
	}
}
