// Package handlers holds the handlers this client registers out of the box.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/registry"
)

const logPrefix = "handlers:handlers"

// Register adds the built-in handlers to reg.
func Register(reg *registry.Registry) error {
	if err := reg.RegisterCommand(handler.CommandFactory(func() *Echo { return &Echo{} })); err != nil {
		return fmt.Errorf("%s - failed to register Echo: %w", logPrefix, err)
	}
	if err := reg.RegisterEvent(handler.EventFactory(func() *PushNotifier { return &PushNotifier{} })); err != nil {
		return fmt.Errorf("%s - failed to register PushNotifier: %w", logPrefix, err)
	}
	if err := reg.RegisterIngestor(handler.EventFactory(func() *DeploymentIngestor { return &DeploymentIngestor{} })); err != nil {
		return fmt.Errorf("%s - failed to register DeploymentIngestor: %w", logPrefix, err)
	}
	return nil
}

// Echo replies with the message it was given.
type Echo struct {
	Msg     string
	Shout   bool
	Channel string
}

func (e *Echo) Describe(b *handler.Builder) {
	b.Command("Echo", "echo a message back", "echo").
		Tags("diagnostic").
		StringParameter(&e.Msg, handler.Parameter{Name: "msg", Description: "message to echo", Required: true, MaxLength: 1000}).
		BoolParameter(&e.Shout, handler.Parameter{Name: "shout", Description: "upper-case the reply"}).
		MappedParameter(&e.Channel, handler.MappedParameter{Name: "channel", URI: "atomist://slack/channel_name"})
}

func (e *Echo) Handle(ctx context.Context, hc *handler.Context) (*handler.Result, error) {
	reply := e.Msg
	if e.Shout {
		reply = strings.ToUpper(reply)
	}
	if err := hc.Messages.Respond(ctx, "echo: "+reply, nil); err != nil {
		return nil, err
	}
	return handler.Success("echoed"), nil
}

// Push is the subscription payload delivered to PushNotifier.
type Push struct {
	Push []struct {
		Branch string `json:"branch"`
		Repo   struct {
			Name    string `json:"name"`
			Owner   string `json:"owner"`
			Channel string `json:"channel"`
		} `json:"repo"`
		After struct {
			SHA     string `json:"sha"`
			Message string `json:"message"`
		} `json:"after"`
	} `json:"Push"`
}

const pushSubscription = `subscription OnPush {
  Push {
    branch
    repo { name owner channel }
    after { sha message }
  }
}`

// PushNotifier announces pushes in the repository's channel.
type PushNotifier struct {
	Token string
}

func (p *PushNotifier) Describe(b *handler.Builder) {
	b.Event("PushNotifier", "announce pushes in the repository channel", "OnPush", pushSubscription).
		Secret(&p.Token, handler.Secret{Name: "token", URI: "github://org_token"})
}

func (p *PushNotifier) HandleEvent(ctx context.Context, e *handler.EventFired, hc *handler.Context) (*handler.Result, error) {
	var push Push
	if err := e.Decode(&push); err != nil {
		return nil, fmt.Errorf("%s - malformed OnPush payload: %w", logPrefix, err)
	}
	for _, ps := range push.Push {
		if ps.Repo.Channel == "" {
			continue
		}
		msg := fmt.Sprintf("%s/%s@%s: %s", ps.Repo.Owner, ps.Repo.Name, ps.Branch, firstLine(ps.After.Message))
		dest := handler.Destination{TeamID: hc.TeamID, Channels: []string{ps.Repo.Channel}}
		if err := hc.Messages.Send(ctx, msg, dest, &handler.MessageOptions{ID: "push-" + ps.After.SHA}); err != nil {
			return nil, err
		}
	}
	return handler.Success(fmt.Sprintf("announced %d pushes", len(push.Push))), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Deployment is the payload accepted by DeploymentIngestor.
type Deployment struct {
	Environment string `json:"environment"`
	Status      string `json:"status"`
	Version     string `json:"version"`
}

// DeploymentIngestor accepts deployment notifications posted by external systems.
type DeploymentIngestor struct{}

func (d *DeploymentIngestor) Describe(b *handler.Builder) {
	b.Ingestor("DeploymentIngestor", "record deployment notifications", "deployment")
}

func (d *DeploymentIngestor) HandleEvent(ctx context.Context, e *handler.EventFired, _ *handler.Context) (*handler.Result, error) {
	var dep Deployment
	if err := e.Decode(&dep); err != nil {
		return nil, fmt.Errorf("%s - malformed deployment payload: %w", logPrefix, err)
	}
	if dep.Environment == "" {
		return handler.Failure(1, "deployment without environment"), nil
	}
	slog.Info(fmt.Sprintf("%s - [%s] Deployment of %s to %s: %s", logPrefix, correlation.CorrelationID(ctx), dep.Version, dep.Environment, dep.Status))
	return handler.Success("recorded"), nil
}
