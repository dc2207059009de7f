package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider resolves a reference to a secret value.
//
// Implementations must be safe for concurrent use and must never log the
// values they return.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvProvider reads the environment variable named by ref.
type EnvProvider struct{}

func (EnvProvider) Name() string { return "env" }

func (EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("secret: environment variable %s is not set", ref)
	}
	return v, nil
}

// FileProvider reads the file at ref, dropping trailing newlines. Paths
// are relative to Dir when set.
type FileProvider struct {
	Dir string
}

func (FileProvider) Name() string { return "file" }

func (p FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	path := ref
	if p.Dir != "" && !strings.HasPrefix(ref, "/") {
		path = p.Dir + "/" + ref
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("secret: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}
