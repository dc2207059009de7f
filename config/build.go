package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sightserver/querycache/auth"
	"github.com/sightserver/querycache/cache"
	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/semantic"
	"github.com/sightserver/querycache/store"
	"github.com/sightserver/querycache/store/filestore"
	"github.com/sightserver/querycache/store/memory"
	"github.com/sightserver/querycache/store/redisstore"
	"github.com/sightserver/querycache/store/sqlstore"
	"github.com/sightserver/querycache/store/tieredstore"
)

// SnapshotFileName is the default snapshot name inside a file cache.
const SnapshotFileName = "semantic_index.json"

// OpenStore opens the configured backend. The store is not yet loaded.
func OpenStore(ctx context.Context, c CacheConfig, log observe.Logger) (store.Store, error) {
	p := c.Policy()
	switch c.Backend {
	case BackendFile:
		return filestore.Open(filestore.Options{Dir: c.Dir, Policy: p, Logger: log})
	case BackendMemory:
		return memory.New(p), nil
	case BackendSQLite, BackendPostgres:
		return sqlstore.Open(ctx, sqlstore.Options{Driver: c.Backend, DSN: c.DSN, Policy: p, Logger: log})
	case BackendRedis:
		return redisstore.Open(ctx, redisstore.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
			Policy:   p,
			Logger:   log,
		})
	case BackendHybrid:
		return openHybrid(ctx, c, log)
	}
	return nil, fmt.Errorf("%w: unknown cache.backend %q", ErrInvalidConfig, c.Backend)
}

// openHybrid opens the shared primary tier in front of a file store
// under c.Dir.
func openHybrid(ctx context.Context, c CacheConfig, log observe.Logger) (store.Store, error) {
	switch c.Primary {
	case BackendSQLite, BackendPostgres, BackendRedis:
	default:
		return nil, fmt.Errorf("%w: hybrid backend needs a sqlite, postgres or redis primary, got %q", ErrInvalidConfig, c.Primary)
	}
	pc := c
	pc.Backend = c.Primary
	primary, err := OpenStore(ctx, pc, log)
	if err != nil {
		return nil, err
	}
	secondary, err := filestore.Open(filestore.Options{Dir: c.Dir, Policy: c.Policy(), Logger: log})
	if err != nil {
		return nil, errors.Join(err, primary.Close())
	}
	return tieredstore.New(tieredstore.Options{Primary: primary, Secondary: secondary, Logger: log})
}

// Snapshot returns the snapshot path, or "" for none.
func (c CacheConfig) Snapshot() string {
	if c.SnapshotPath != "" || (c.Backend != BackendFile && c.Backend != BackendHybrid) {
		return c.SnapshotPath
	}
	return filepath.Join(c.Dir, SnapshotFileName)
}

// Embedder returns the configured embedder, or nil when semantic search
// is disabled.
func (s SemanticConfig) Embedder() semantic.Embedder {
	if !s.Enabled {
		return nil
	}
	if s.Provider == ProviderOpenAI {
		return semantic.NewOpenAIEmbedder(semantic.OpenAIConfig{
			BaseURL:        s.BaseURL,
			APIKey:         s.APIKey,
			Model:          s.Model,
			Dimensions:     s.Dimensions,
			RequestTimeout: s.Timeout,
		})
	}
	return semantic.NgramEmbedder{Dim: s.NgramDim}
}

// IndexConfig returns the semantic index settings. Zero values take the
// index defaults.
func (s SemanticConfig) IndexConfig(log observe.Logger) semantic.Config {
	return semantic.Config{
		Threshold:     s.SimilarityThreshold,
		Timeout:       s.Timeout,
		InitTimeout:   s.InitTimeout,
		InitAttempts:  s.InitAttempts,
		MaxConcurrent: s.MaxConcurrent,
		RateLimit:     s.RateLimit,
		Logger:        log,
	}
}

// NewManager opens the store and builds a cache manager over it. The
// store is closed if the manager cannot be built.
func NewManager(ctx context.Context, cfg Config, in *observe.Instruments) (*cache.Manager, error) {
	if in == nil {
		in = observe.NopInstruments()
	}
	st, err := OpenStore(ctx, cfg.Cache, in.Logger)
	if err != nil {
		return nil, err
	}
	m, err := cache.NewManager(ctx, cache.Options{
		Store:          st,
		Embedder:       cfg.Semantic.Embedder(),
		Semantic:       cfg.Semantic.IndexConfig(in.Logger),
		SnapshotPath:   cfg.Cache.Snapshot(),
		ComputeTimeout: cfg.Cache.ComputeTimeout,
		Instruments:    in,
	})
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}
	return m, nil
}

// Authenticator builds the admin authenticator chain. It returns nil when
// authentication is disabled.
func (a AuthConfig) Authenticator() (auth.Authenticator, error) {
	if !a.Enabled {
		return nil, nil
	}
	var chain auth.Chain
	if len(a.APIKeys) > 0 {
		keys := make([]auth.APIKey, 0, len(a.APIKeys))
		for _, k := range a.APIKeys {
			roles := make([]auth.Role, 0, len(k.Roles))
			for _, r := range k.Roles {
				role, err := auth.ParseRole(r)
				if err != nil {
					return nil, fmt.Errorf("%w: api key %s: %v", ErrInvalidConfig, k.ID, err)
				}
				roles = append(roles, role)
			}
			hash := k.KeyHash
			if hash == "" {
				hash = auth.HashAPIKey(k.Key)
			}
			keys = append(keys, auth.APIKey{ID: k.ID, Hash: hash, Principal: k.Principal, Roles: roles})
		}
		chain = append(chain, auth.NewAPIKeyAuthenticator(a.Header, keys...))
	}
	if a.JWT.Secret != "" {
		j, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret:   []byte(a.JWT.Secret),
			Issuer:   a.JWT.Issuer,
			Audience: a.JWT.Audience,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, j)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: admin.auth is enabled without credentials", ErrInvalidConfig)
	}
	return chain, nil
}
