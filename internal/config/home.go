package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// EnvHome overrides the default home directory.
const EnvHome = "AGENTCOMMS_HOME"

type homeKey struct{}

// WithHome stores the hub home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the hub home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context, or panics if not set.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("agent-comms home missing from context")
}

// ResolveHome returns the home directory (override, AGENTCOMMS_HOME, or default ~/.agent-comms).
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv(EnvHome); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".agent-comms"), nil
}
