package registry

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/morezero/automation-client/pkg/handler"
)

const handlersTestPrefix = "registry:handlers_test"

type echoCommand struct {
	Msg   string
	Token string
}

func (e *echoCommand) Describe(b *handler.Builder) {
	b.Command("Echo", "Echo a message", "echo")
	b.StringParameter(&e.Msg, handler.Parameter{Name: "msg", Required: true})
	b.Secret(&e.Token, handler.Secret{Name: "token", URI: "github://user_token"})
}

func (e *echoCommand) Handle(context.Context, *handler.Context) (*handler.Result, error) {
	return handler.Success(e.Msg), nil
}

type pushListener struct {
	name  string
	Token string
}

func (p *pushListener) Describe(b *handler.Builder) {
	b.Event(p.name, "", "OnPush", "subscription OnPush { Push { id } }")
	b.Secret(&p.Token, handler.Secret{URI: "github://org_token"})
}

func (p *pushListener) HandleEvent(context.Context, *handler.EventFired, *handler.Context) (*handler.Result, error) {
	return handler.Success(""), nil
}

type hookIngestor struct{}

func (h *hookIngestor) Describe(b *handler.Builder) { b.Ingestor("Hook", "", "webhook") }

func (h *hookIngestor) HandleEvent(context.Context, *handler.EventFired, *handler.Context) (*handler.Result, error) {
	return handler.Success(""), nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.RegisterCommand(func() handler.Describer { return &echoCommand{} }); err != nil {
		t.Fatalf("%s - RegisterCommand failed: %v", handlersTestPrefix, err)
	}
	for _, name := range []string{"PushA", "PushB"} {
		name := name
		if err := r.RegisterEvent(func() handler.Describer { return &pushListener{name: name} }); err != nil {
			t.Fatalf("%s - RegisterEvent failed: %v", handlersTestPrefix, err)
		}
	}
	if err := r.RegisterIngestor(func() handler.Describer { return &hookIngestor{} }); err != nil {
		t.Fatalf("%s - RegisterIngestor failed: %v", handlersTestPrefix, err)
	}
	return r
}

func TestRegistry_Lookup(t *testing.T) {
	r := newTestRegistry(t)

	reg, ok := r.Command("Echo")
	if !ok {
		t.Fatalf("%s - Echo not found", handlersTestPrefix)
	}
	if reg.Metadata.Name != "Echo" {
		t.Errorf("%s - Name = %q", handlersTestPrefix, reg.Metadata.Name)
	}
	if _, ok := r.Command("Missing"); ok {
		t.Errorf("%s - unexpected lookup hit", handlersTestPrefix)
	}

	events := r.EventsFor("OnPush")
	if len(events) != 2 || events[0].Metadata.Name != "PushA" || events[1].Metadata.Name != "PushB" {
		t.Errorf("%s - EventsFor should keep registration order, got %d", handlersTestPrefix, len(events))
	}
	if len(r.IngestorsFor("webhook")) != 1 {
		t.Errorf("%s - expected one ingestor for webhook", handlersTestPrefix)
	}
	if r.Len() != 4 {
		t.Errorf("%s - Len = %d, want 4", handlersTestPrefix, r.Len())
	}
}

func TestRegistry_FreshInstancePerCall(t *testing.T) {
	r := newTestRegistry(t)
	reg, _ := r.Command("Echo")
	a := reg.New().(*echoCommand)
	b := reg.New().(*echoCommand)
	a.Msg = "mutated"
	if b.Msg != "" {
		t.Errorf("%s - instances must not share state", handlersTestPrefix)
	}
}

func TestRegistry_RejectsMismatches(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(handler.KindEvent, func() handler.Describer { return &echoCommand{} }); err == nil {
		t.Errorf("%s - expected kind mismatch error", handlersTestPrefix)
	}
	if err := r.RegisterCommand(func() handler.Describer { return &echoCommand{} }); err != nil {
		t.Fatalf("%s - RegisterCommand failed: %v", handlersTestPrefix, err)
	}
	if err := r.RegisterCommand(func() handler.Describer { return &echoCommand{} }); err == nil {
		t.Errorf("%s - expected duplicate command error", handlersTestPrefix)
	}
	if err := r.RegisterCommand(nil); err == nil {
		t.Errorf("%s - expected nil factory error", handlersTestPrefix)
	}
}

func TestRegistry_Export(t *testing.T) {
	r := newTestRegistry(t)
	req, err := r.Export(ExportInfo{Name: "my-automation", Version: "1.2.3", Policy: PolicyDurable, TeamIDs: []string{"AW1"}})
	if err != nil {
		t.Fatalf("%s - Export failed: %v", handlersTestPrefix, err)
	}
	if len(req.Commands) != 1 || len(req.Events) != 2 || len(req.Ingesters) != 1 {
		t.Fatalf("%s - unexpected export counts %d/%d/%d", handlersTestPrefix, len(req.Commands), len(req.Events), len(req.Ingesters))
	}
	if got := req.Commands[0].Secrets; len(got) != 1 || got[0] != "github://user_token" {
		t.Errorf("%s - command secrets = %v", handlersTestPrefix, got)
	}
	if !strings.HasPrefix(req.Events[0].Subscription, "subscription OnPush") {
		t.Errorf("%s - event subscription = %q", handlersTestPrefix, req.Events[0].Subscription)
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("%s - marshal failed: %v", handlersTestPrefix, err)
	}
	if strings.Contains(string(data), "Token") {
		t.Errorf("%s - export must not contain bound secret fields: %s", handlersTestPrefix, data)
	}
}

func TestRegistry_ExportRejectsBadVersion(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Export(ExportInfo{Name: "x", Version: "not-a-version"}); err == nil {
		t.Errorf("%s - expected semver error", handlersTestPrefix)
	}
	if _, err := r.Export(ExportInfo{Name: "x", Version: "1.0.0", Policy: "forever"}); err == nil {
		t.Errorf("%s - expected policy error", handlersTestPrefix)
	}
}
