// Package secrets provides fallback resolvers for secrets and mapped parameters
// that an invocation did not supply.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
)

const logPrefix = "secrets:resolver"

// ErrUnresolved is returned when a key cannot be resolved.
var ErrUnresolved = errors.New("unresolved")

// EnvResolver resolves keys from environment variables. A key such as
// "github://user_token?scopes=repo" maps to PREFIX + "GITHUB_USER_TOKEN_SCOPES_REPO".
type EnvResolver struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvResolver creates an EnvResolver reading the process environment.
func NewEnvResolver(prefix string) *EnvResolver {
	return &EnvResolver{Prefix: prefix, lookup: os.LookupEnv}
}

// VarName returns the environment variable consulted for key.
func (r *EnvResolver) VarName(key string) string {
	var b strings.Builder
	b.WriteString(r.Prefix)
	lastUnderscore := true
	for _, c := range key {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			b.WriteRune(unicode.ToUpper(c))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// Resolve looks up the variable for key.
func (r *EnvResolver) Resolve(_ context.Context, key string) (string, error) {
	lookup := r.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	name := r.VarName(key)
	if v, ok := lookup(name); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s - %s (env %s): %w", logPrefix, key, name, ErrUnresolved)
}

// MapResolver resolves keys from a fixed map.
type MapResolver map[string]string

// Resolve looks key up in the map.
func (m MapResolver) Resolve(_ context.Context, key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%s - %s: %w", logPrefix, key, ErrUnresolved)
}

// Resolver is the capability a ChainResolver composes.
type Resolver interface {
	Resolve(ctx context.Context, key string) (string, error)
}

// ChainResolver tries each resolver in order and returns the first value found.
type ChainResolver []Resolver

// Resolve consults the chain.
func (c ChainResolver) Resolve(ctx context.Context, key string) (string, error) {
	for _, r := range c {
		v, err := r.Resolve(ctx, key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrUnresolved) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s - %s: %w", logPrefix, key, ErrUnresolved)
}
