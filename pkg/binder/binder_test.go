package binder

import (
	"context"
	"errors"
	"testing"

	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/secrets"
)

const binderTestPrefix = "binder:binder_test"

type deploy struct {
	Env      string
	Replicas int
	DryRun   bool
	Repo     string
	Token    string
	rejected bool
}

func (d *deploy) Describe(b *handler.Builder) {
	b.Command("Deploy", "deploy a service", "deploy").
		StringParameter(&d.Env, handler.Parameter{Name: "env", Required: true}).
		IntParameter(&d.Replicas, handler.Parameter{Name: "replicas"}).
		BoolParameter(&d.DryRun, handler.Parameter{Name: "dry_run"}).
		MappedParameter(&d.Repo, handler.MappedParameter{Name: "repo", URI: "atomist://github/repository", Required: true}).
		Secret(&d.Token, handler.Secret{Name: "token", URI: "github://user_token?scopes=repo", Required: true})
}

func (d *deploy) BindAndValidate() error {
	if d.rejected || d.Env == "forbidden" {
		return errors.New("forbidden environment")
	}
	return nil
}

func (d *deploy) Handle(context.Context, *handler.Context) (*handler.Result, error) {
	return handler.Success(""), nil
}

func metadataFor(t *testing.T, d handler.Describer) *handler.Metadata {
	t.Helper()
	m, err := handler.Describe(d).Metadata()
	if err != nil {
		t.Fatalf("%s - metadata: %v", binderTestPrefix, err)
	}
	return m
}

func TestBind_CoercesAndAssigns(t *testing.T) {
	d := &deploy{}
	in := Input{
		Args:             []handler.Arg{{Name: "env", Value: "prod"}, {Name: "replicas", Value: "100"}, {Name: "dry_run", Value: "true"}},
		MappedParameters: []handler.Arg{{Name: "repo", Value: "automation-client"}},
		Secrets:          []handler.Arg{{Name: "github://user_token?scopes=repo", Value: "s3cr3t"}},
	}
	if err := NewBinder(nil, nil).Bind(context.Background(), d, metadataFor(t, d), in); err != nil {
		t.Fatalf("%s - Bind: %v", binderTestPrefix, err)
	}
	if d.Env != "prod" || d.Replicas != 100 || !d.DryRun || d.Repo != "automation-client" || d.Token != "s3cr3t" {
		t.Errorf("%s - unexpected binding %+v", binderTestPrefix, d)
	}
}

func TestBind_InvalidBoolean(t *testing.T) {
	d := &deploy{}
	in := Input{
		Args:             []handler.Arg{{Name: "dry_run", Value: "yes"}},
		MappedParameters: []handler.Arg{{Name: "repo", Value: "r"}},
		Secrets:          []handler.Arg{{Name: "github://user_token?scopes=repo", Value: "t"}},
	}
	err := NewBinder(nil, nil).Bind(context.Background(), d, metadataFor(t, d), in)
	if handler.ErrorCode(err) != handler.CodeInvalidParameter {
		t.Errorf("%s - expected INVALID_PARAMETER, got %v", binderTestPrefix, err)
	}
}

func TestBind_MappedAllOrNothing(t *testing.T) {
	fallback := secrets.MapResolver{"atomist://github/repository": "from-fallback"}

	// Supplied list without the key: the fallback is not consulted.
	d := &deploy{}
	in := Input{
		MappedParameters: []handler.Arg{{Name: "other", Value: "x"}},
		Secrets:          []handler.Arg{{Name: "github://user_token?scopes=repo", Value: "t"}},
	}
	err := NewBinder(fallback, nil).Bind(context.Background(), d, metadataFor(t, d), in)
	if handler.ErrorCode(err) != handler.CodeUnresolvedMappedParameter {
		t.Errorf("%s - expected UNRESOLVED_MAPPED_PARAMETER, got %v", binderTestPrefix, err)
	}

	// Nothing supplied: the fallback fills the value.
	d = &deploy{}
	in.MappedParameters = nil
	if err := NewBinder(fallback, nil).Bind(context.Background(), d, metadataFor(t, d), in); err != nil {
		t.Fatalf("%s - Bind with fallback: %v", binderTestPrefix, err)
	}
	if d.Repo != "from-fallback" {
		t.Errorf("%s - Repo = %q, want from-fallback", binderTestPrefix, d.Repo)
	}
}

func TestBind_MissingRequiredSecret(t *testing.T) {
	d := &deploy{}
	in := Input{MappedParameters: []handler.Arg{{Name: "repo", Value: "r"}}}
	err := NewBinder(nil, secrets.MapResolver{}).Bind(context.Background(), d, metadataFor(t, d), in)
	if handler.ErrorCode(err) != handler.CodeUnresolvedSecret {
		t.Errorf("%s - expected UNRESOLVED_SECRET, got %v", binderTestPrefix, err)
	}
}

func TestBind_ValidationHook(t *testing.T) {
	d := &deploy{}
	in := Input{
		Args:             []handler.Arg{{Name: "env", Value: "forbidden"}},
		MappedParameters: []handler.Arg{{Name: "repo", Value: "r"}},
		Secrets:          []handler.Arg{{Name: "github://user_token?scopes=repo", Value: "t"}},
	}
	err := NewBinder(nil, nil).Bind(context.Background(), d, metadataFor(t, d), in)
	if handler.ErrorCode(err) != handler.CodeValidationFailed {
		t.Errorf("%s - expected VALIDATION_FAILED, got %v", binderTestPrefix, err)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		typ     handler.ParameterType
		raw     string
		want    interface{}
		wantErr bool
	}{
		{"one", handler.TypeNumber, "1", 1, false},
		{"hundred", handler.TypeNumber, "100", 100, false},
		{"negative", handler.TypeNumber, "-7", -7, false},
		{"truncates", handler.TypeNumber, "12.7", 12, false},
		{"not a number", handler.TypeNumber, "abc", nil, true},
		{"true", handler.TypeBoolean, "true", true, false},
		{"false", handler.TypeBoolean, "false", false, false},
		{"bad bool", handler.TypeBoolean, "TRUE", nil, true},
		{"string", handler.TypeString, "42", "42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.typ, tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("%s - Coerce(%q) err = %v, wantErr %v", binderTestPrefix, tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("%s - Coerce(%q) = %v, want %v", binderTestPrefix, tt.raw, got, tt.want)
			}
		})
	}
}
