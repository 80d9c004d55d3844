// Package config loads the environment configuration table from §6.3,
// using koanf (the route-beacon/rib-ingester manifest in the example pack
// is the source for this dependency; the teacher has no config library of
// its own — iporg's cmd/ tools take flags directly — so this is adopted
// wholesale rather than adapted from teacher code) layered over an
// optional YAML file and process environment, env taking precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"irrquery/pkg/model"
)

// Config is the fully-resolved environment configuration (§6.3). Every key
// is optional with a default, matching the spec's table exactly.
type Config struct {
	DatabaseURL         string
	IRRDEndpoint        string
	MinimumPrefixSizeV4 int
	MinimumPrefixSizeV6 int
	MaxQueryLength      int
	SetExpansionTimeout time.Duration
	SetSizeLimit        int
	RedisURL            string
}

// MinimumPrefixSize adapts the two flat fields to model.MinimumPrefixSize.
func (c Config) MinimumPrefixSize() model.MinimumPrefixSize {
	return model.MinimumPrefixSize{V4: c.MinimumPrefixSizeV4, V6: c.MinimumPrefixSizeV6}
}

// defaults mirrors §6.3's default column.
func defaults() *koanf.Koanf {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(map[string]interface{}{
		"database_url":             "",
		"irrd_endpoint":            "",
		"minimum_prefix_size_ipv4": model.DefaultMinimumPrefixSize.V4,
		"minimum_prefix_size_ipv6": model.DefaultMinimumPrefixSize.V6,
		"max_query_length":         255,
		"set_expansion_timeout":    30,
		"set_size_limit":           1000,
		"redis_url":                "",
	}, "."), nil)
	return k
}

// Load resolves Config from (in ascending precedence) built-in defaults,
// an optional YAML file at path (skipped if empty or missing), and the
// process environment. Environment keys are upper-cased, e.g. DATABASE_URL.
func Load(path string) (Config, error) {
	k := defaults()

	if path != "" {
		// A missing config file is not an error: every key has a default
		// (§6.3: "all optional with defaults").
		_ = k.Load(file.Provider(path), yaml.Parser())
	}

	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DatabaseURL:         k.String("database_url"),
		IRRDEndpoint:        k.String("irrd_endpoint"),
		MinimumPrefixSizeV4: k.Int("minimum_prefix_size_ipv4"),
		MinimumPrefixSizeV6: k.Int("minimum_prefix_size_ipv6"),
		MaxQueryLength:      k.Int("max_query_length"),
		SetExpansionTimeout: time.Duration(k.Int("set_expansion_timeout")) * time.Second,
		SetSizeLimit:        k.Int("set_size_limit"),
		RedisURL:            k.String("redis_url"),
	}
	return cfg, nil
}
