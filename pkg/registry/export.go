package registry

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"

	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

const exportLogPrefix = "registry:export"

// Registration policies.
const (
	PolicyEphemeral = "ephemeral"
	PolicyDurable   = "durable"
)

// ExportInfo identifies the automation in its registration payload.
type ExportInfo struct {
	Name     string
	Version  string
	Policy   string
	TeamIDs  []string
	Groups   []string
	Metadata map[string]string
}

// Export builds the registration payload describing every registered handler.
// Secrets are exported by URI only.
func (r *Registry) Export(info ExportInfo) (*wire.RegistrationRequest, error) {
	if info.Name == "" {
		return nil, fmt.Errorf("%s - automation name is required", exportLogPrefix)
	}
	v, err := masterminds.NewVersion(info.Version)
	if err != nil {
		return nil, fmt.Errorf("%s - automation version %q is not semver: %w", exportLogPrefix, info.Version, err)
	}
	switch info.Policy {
	case "", PolicyEphemeral, PolicyDurable:
	default:
		return nil, fmt.Errorf("%s - unknown policy %q", exportLogPrefix, info.Policy)
	}

	req := &wire.RegistrationRequest{
		APIVersion: wire.APIVersion,
		Name:       info.Name,
		Version:    v.String(),
		Policy:     info.Policy,
		TeamIDs:    append([]string(nil), info.TeamIDs...),
		Groups:     append([]string(nil), info.Groups...),
		Commands:   []wire.CommandRegistration{},
		Events:     []wire.EventRegistration{},
		Ingesters:  []wire.IngesterRegistration{},
	}
	if len(info.Metadata) > 0 {
		req.Metadata = make(map[string]string, len(info.Metadata))
		for k, val := range info.Metadata {
			req.Metadata[k] = val
		}
	}

	for _, reg := range r.Commands() {
		req.Commands = append(req.Commands, exportCommand(reg.Metadata))
	}
	for _, reg := range r.Events() {
		m := reg.Metadata
		subscription := m.Subscription()
		if d, ok := m.Descriptor.(handler.EventDescriptor); ok && d.Query != "" {
			subscription = d.Query
		}
		req.Events = append(req.Events, wire.EventRegistration{
			Name:         m.Name,
			Description:  m.Description,
			Subscription: subscription,
			Secrets:      m.SecretURIs(),
		})
	}
	for _, reg := range r.Ingestors() {
		req.Ingesters = append(req.Ingesters, wire.IngesterRegistration{
			Name:  reg.Metadata.Name,
			Route: reg.Metadata.Route(),
		})
	}
	return req, nil
}

func exportCommand(m *handler.Metadata) wire.CommandRegistration {
	cr := wire.CommandRegistration{
		Name:             m.Name,
		Description:      m.Description,
		Tags:             append([]string(nil), m.Tags...),
		Parameters:       append([]handler.Parameter{}, m.Parameters...),
		MappedParameters: append([]handler.MappedParameter{}, m.MappedParameters...),
		Secrets:          m.SecretURIs(),
	}
	if d, ok := m.Descriptor.(handler.CommandDescriptor); ok {
		cr.Intent = append([]string(nil), d.Intents...)
		cr.AutoSubmit = d.AutoSubmit
	}
	return cr
}
