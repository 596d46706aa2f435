package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/yaml"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ELASTICGRID_"

// listKeys are split on commas when they arrive through the environment.
var listKeys = map[string]struct{}{
	"backend.etcd.endpoints":  {},
	"backend.cassandra.hosts": {},
}

// Load builds a Config from defaults, then path (skipped when empty), then
// the environment:
//
//	ELASTICGRID_BACKEND_KIND              -> backend.kind
//	ELASTICGRID_BACKEND_REDIS_ADDRESS     -> backend.redis.address
//	ELASTICGRID_SEQUENCE_MAX_ATTEMPTS     -> sequence.max_attempts
//	ELASTICGRID_BACKEND_ETCD_ENDPOINTS    -> backend.etcd.endpoints (comma separated)
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, errors.Wrapf(err, "setting default %s", key)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "loading config %s", path)
		}
	}

	// Env keys are matched against known koanf keys so that
	// ELASTICGRID_SEQUENCE_MAX_ATTEMPTS maps to sequence.max_attempts rather
	// than sequence.max.attempts.
	envLookup := buildEnvLookup(k.Keys())
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			koanfKey, ok := envLookup[key]
			if !ok {
				koanfKey = strings.ReplaceAll(key, "_", ".")
			}
			if _, isList := listKeys[koanfKey]; isList {
				return koanfKey, splitList(value)
			}
			return koanfKey, value
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "loading env vars")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshalling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return &cfg, nil
}

func buildEnvLookup(keys []string) map[string]string {
	lookup := make(map[string]string, len(keys))
	for _, key := range keys {
		lookup[strings.ReplaceAll(key, ".", "_")] = key
	}
	return lookup
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
