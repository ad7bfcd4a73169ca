package wire

import "github.com/morezero/automation-client/pkg/handler"

// CommandRegistration exports one command handler.
type CommandRegistration struct {
	Name             string                    `json:"name"`
	Description      string                    `json:"description,omitempty"`
	Tags             []string                  `json:"tags,omitempty"`
	Intent           []string                  `json:"intent,omitempty"`
	Parameters       []handler.Parameter       `json:"parameters"`
	MappedParameters []handler.MappedParameter `json:"mapped_parameters"`
	Secrets          []string                  `json:"secrets"`
	AutoSubmit       bool                      `json:"auto_submit,omitempty"`
}

// EventRegistration exports one event handler.
type EventRegistration struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Subscription string   `json:"subscription"`
	Secrets      []string `json:"secrets"`
}

// IngesterRegistration exports one route-matched ingestor.
type IngesterRegistration struct {
	Name  string `json:"name"`
	Route string `json:"route"`
}

// RegistrationRequest is posted to the registration endpoint. Secret values
// never appear here, only their URIs.
type RegistrationRequest struct {
	APIVersion string                 `json:"api_version"`
	Name       string                 `json:"name"`
	Version    string                 `json:"version"`
	Policy     string                 `json:"policy,omitempty"`
	TeamIDs    []string               `json:"team_ids,omitempty"`
	Groups     []string               `json:"groups,omitempty"`
	Commands   []CommandRegistration  `json:"commands"`
	Events     []EventRegistration    `json:"events"`
	Ingesters  []IngesterRegistration `json:"ingesters"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
}

// RegistrationResponse is the registration endpoint's answer.
type RegistrationResponse struct {
	URL string `json:"url"`
	JWT string `json:"jwt"`
}

// RegistrationConfirmation is held for the lifetime of one connection.
type RegistrationConfirmation struct {
	URL     string
	JWT     string
	Name    string
	Version string
}
