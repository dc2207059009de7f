package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUERYCACHE"

type override struct {
	key   string
	apply func(c *Config, v string) error
}

// overrides maps QUERYCACHE_<KEY> to the field it sets.
var overrides = []override{
	{"cache_dir", func(c *Config, v string) error { c.Cache.Dir = v; return nil }},
	{"backend", func(c *Config, v string) error { c.Cache.Backend = v; return nil }},
	{"dsn", func(c *Config, v string) error { c.Cache.DSN = v; return nil }},
	{"primary", func(c *Config, v string) error { c.Cache.Primary = v; return nil }},
	{"redis_addr", func(c *Config, v string) error { c.Cache.Redis.Addr = v; return nil }},
	{"snapshot_path", func(c *Config, v string) error { c.Cache.SnapshotPath = v; return nil }},
	{"ttl_seconds", func(c *Config, v string) error { return setSeconds(&c.Cache.TTL, v) }},
	{"max_entries", func(c *Config, v string) error { return setInt(&c.Cache.MaxEntries, v) }},
	{"max_size_bytes", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		c.Cache.MaxSizeBytes = n
		return err
	}},
	{"enable_semantic_search", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Semantic.Enabled = b
		return err
	}},
	{"embedding_provider", func(c *Config, v string) error { c.Semantic.Provider = v; return nil }},
	{"embedding_model_name", func(c *Config, v string) error { c.Semantic.Model = v; return nil }},
	{"embedding_base_url", func(c *Config, v string) error { c.Semantic.BaseURL = v; return nil }},
	{"embedding_api_key", func(c *Config, v string) error { c.Semantic.APIKey = v; return nil }},
	{"embedding_timeout_seconds", func(c *Config, v string) error { return setSeconds(&c.Semantic.Timeout, v) }},
	{"similarity_threshold", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		c.Semantic.SimilarityThreshold = f
		return err
	}},
	{"log_level", func(c *Config, v string) error { c.Observe.Logging.Level = v; return nil }},
	{"admin_addr", func(c *Config, v string) error { c.Admin.Addr = v; return nil }},
}

// applyEnv applies QUERYCACHE_* variables that are set and non-empty.
func applyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for _, o := range overrides {
		if !v.IsSet(o.key) {
			continue
		}
		raw := v.GetString(o.key)
		if err := o.apply(cfg, raw); err != nil {
			return fmt.Errorf("%w: %s_%s=%q: %v", ErrInvalidConfig, EnvPrefix, strings.ToUpper(o.key), raw, err)
		}
	}
	return nil
}

func setSeconds(d *time.Duration, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*d = time.Duration(f * float64(time.Second))
	return nil
}

func setInt(n *int, v string) error {
	i, err := strconv.Atoi(v)
	*n = i
	return err
}
