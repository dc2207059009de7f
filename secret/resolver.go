package secret

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const refPrefix = "secretref:"

// Resolver expands environment variables and secret references.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver registers providers by name. With no providers it uses
// EnvProvider and FileProvider.
func NewResolver(providers ...Provider) *Resolver {
	if len(providers) == 0 {
		providers = []Provider{EnvProvider{}, FileProvider{}}
	}
	r := &Resolver{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// ParseRef splits "secretref:<provider>:<ref>".
func ParseRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, refPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, ok = strings.Cut(rest, ":")
	if !ok || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

// Resolve replaces every secret reference in value. Environment variables
// are not expanded here; callers run ExpandEnvStrict over the whole
// document first. Resolving to an empty secret is an error.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if provider, ref, ok := ParseRef(value); ok {
		return r.lookup(ctx, provider, ref)
	}

	matches := inlineRef.FindAllStringSubmatchIndex(value, -1)
	out := value
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		v, err := r.lookup(ctx, out[m[2]:m[3]], out[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		out = out[:m[0]] + v + out[m[1]:]
	}
	return out, nil
}

// ResolveAll resolves each pointed-to string in place and stops at the
// first failure.
func (r *Resolver) ResolveAll(ctx context.Context, values ...*string) error {
	for _, p := range values {
		if p == nil || *p == "" {
			continue
		}
		v, err := r.Resolve(ctx, *p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

var inlineRef = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

func (r *Resolver) lookup(ctx context.Context, provider, ref string) (string, error) {
	p, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("secret: provider %q is not registered", provider)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("secret: provider %q returned an empty value for %q", provider, ref)
	}
	return v, nil
}
