package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sightserver/querycache/auth"
	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/secret"
	"github.com/sightserver/querycache/semantic"
	"github.com/sightserver/querycache/store"
)

// ServiceName names the service in telemetry.
const ServiceName = "querycache"

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendHybrid   = "hybrid"
)

// Embedding providers.
const (
	ProviderNgram  = "ngram"
	ProviderOpenAI = "openai"
)

// Config is the complete configuration.
type Config struct {
	Cache    CacheConfig    `yaml:"cache"`
	Semantic SemanticConfig `yaml:"semantic"`
	Observe  observe.Config `yaml:"observe"`
	Admin    AdminConfig    `yaml:"admin"`
}

// CacheConfig selects the store and its retention policy.
type CacheConfig struct {
	Backend string      `yaml:"backend"` // file|memory|sqlite|postgres|redis|hybrid
	Dir     string      `yaml:"dir"`
	DSN     string      `yaml:"dsn"`
	Redis   RedisConfig `yaml:"redis"`

	// Primary is the shared tier of the hybrid backend: sqlite, postgres
	// or redis. The file store under Dir is the local tier.
	Primary string `yaml:"primary"`

	TTL          time.Duration `yaml:"ttl"`
	MaxEntries   int           `yaml:"max_entries"`
	MaxSizeBytes int64         `yaml:"max_size_bytes"`

	// SnapshotPath persists index vectors. Defaults to a file inside Dir
	// for the file and hybrid backends and to no snapshot otherwise.
	SnapshotPath string `yaml:"snapshot_path"`

	// ComputeTimeout bounds a result computation shared by concurrent
	// misses. Zero takes the cache default.
	ComputeTimeout time.Duration `yaml:"compute_timeout"`
}

// RedisConfig locates the Redis server for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SemanticConfig configures similarity lookups.
type SemanticConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // ngram|openai

	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Dimensions int64  `yaml:"dimensions"`
	NgramDim   int    `yaml:"ngram_dim"`

	Timeout             time.Duration `yaml:"timeout"`
	InitTimeout         time.Duration `yaml:"init_timeout"`
	InitAttempts        int           `yaml:"init_attempts"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	MaxConcurrent       int           `yaml:"max_concurrent"`
	RateLimit           float64       `yaml:"rate_limit"`
}

// AdminConfig configures the operator HTTP surface.
type AdminConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Auth            AuthConfig    `yaml:"auth"`
}

// AuthConfig configures admin authentication. When disabled every request
// is treated as an admin.
type AuthConfig struct {
	Enabled bool           `yaml:"enabled"`
	Header  string         `yaml:"header"`
	APIKeys []APIKeyConfig `yaml:"api_keys"`
	JWT     JWTConfig      `yaml:"jwt"`
}

// APIKeyConfig declares one API key. Exactly one of Key and KeyHash is set.
type APIKeyConfig struct {
	ID        string   `yaml:"id"`
	Key       string   `yaml:"key"`
	KeyHash   string   `yaml:"key_hash"`
	Principal string   `yaml:"principal"`
	Roles     []string `yaml:"roles"`
}

// JWTConfig enables bearer tokens when Secret is set.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := store.DefaultPolicy()
	return Config{
		Cache: CacheConfig{
			Backend:    BackendFile,
			Dir:        "cache",
			TTL:        p.TTL,
			MaxEntries: p.MaxEntries,
		},
		Semantic: SemanticConfig{
			Enabled:             true,
			Provider:            ProviderNgram,
			Timeout:             5 * time.Second,
			InitTimeout:         30 * time.Second,
			InitAttempts:        3,
			SimilarityThreshold: semantic.DefaultThreshold,
		},
		Observe: observe.DefaultConfig(ServiceName),
		Admin: AdminConfig{
			Addr:            "127.0.0.1:8090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

// Load reads path over Default, applies environment overrides, resolves
// secret references and validates the result. An empty path skips the
// file.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.resolveSecrets(ctx, secret.NewResolver()); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default without consulting the environment
// beyond ${VAR} expansion, then validates.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	expanded, err := secret.ExpandEnvStrict(string(data))
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) resolveSecrets(ctx context.Context, r *secret.Resolver) error {
	fields := []*string{
		&c.Cache.DSN,
		&c.Cache.Redis.Password,
		&c.Semantic.APIKey,
		&c.Admin.Auth.JWT.Secret,
	}
	for i := range c.Admin.Auth.APIKeys {
		fields = append(fields, &c.Admin.Auth.APIKeys[i].Key)
	}
	return r.ResolveAll(ctx, fields...)
}

// Policy returns the store retention policy.
func (c CacheConfig) Policy() store.Policy {
	return store.Policy{TTL: c.TTL, MaxEntries: c.MaxEntries, MaxBytes: c.MaxSizeBytes}
}

// Validate reports every problem found, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Cache.Backend {
	case BackendFile:
		if c.Cache.Dir == "" {
			add("cache.dir is required for the file backend")
		}
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if c.Cache.DSN == "" {
			add("cache.dsn is required for the %s backend", c.Cache.Backend)
		}
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			add("cache.redis.addr is required for the redis backend")
		}
	case BackendHybrid:
		if c.Cache.Dir == "" {
			add("cache.dir is required for the hybrid backend")
		}
		switch c.Cache.Primary {
		case BackendSQLite, BackendPostgres:
			if c.Cache.DSN == "" {
				add("cache.dsn is required for the %s primary", c.Cache.Primary)
			}
		case BackendRedis:
			if c.Cache.Redis.Addr == "" {
				add("cache.redis.addr is required for the redis primary")
			}
		default:
			add("cache.primary must be sqlite, postgres or redis for the hybrid backend, got %q", c.Cache.Primary)
		}
	default:
		add("unknown cache.backend %q", c.Cache.Backend)
	}
	if err := c.Cache.Policy().Validate(); err != nil {
		add("%v", err)
	}

	if s := c.Semantic; s.Enabled {
		switch s.Provider {
		case ProviderNgram, ProviderOpenAI:
		default:
			add("unknown semantic.provider %q", s.Provider)
		}
		if s.SimilarityThreshold <= 0 || s.SimilarityThreshold > 1 {
			add("semantic.similarity_threshold must be in (0, 1], got %v", s.SimilarityThreshold)
		}
		if s.Timeout < 0 || s.InitTimeout < 0 {
			add("semantic timeouts must not be negative")
		}
		if s.InitAttempts < 0 || s.MaxConcurrent < 0 || s.RateLimit < 0 || s.NgramDim < 0 || s.Dimensions < 0 {
			add("semantic limits must not be negative")
		}
	}

	if err := c.Observe.Validate(); err != nil {
		add("observe: %v", err)
	}

	if a := c.Admin.Auth; a.Enabled {
		if len(a.APIKeys) == 0 && a.JWT.Secret == "" {
			add("admin.auth is enabled but neither api_keys nor jwt.secret is set")
		}
		for i, k := range a.APIKeys {
			if k.ID == "" {
				add("admin.auth.api_keys[%d].id is required", i)
			}
			if (k.Key == "") == (k.KeyHash == "") {
				add("admin.auth.api_keys[%d]: exactly one of key and key_hash must be set", i)
			}
			for _, r := range k.Roles {
				if _, err := auth.ParseRole(r); err != nil {
					add("admin.auth.api_keys[%d]: %v", i, err)
				}
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
