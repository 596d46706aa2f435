package config

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks all configuration values and returns aggregated errors.
func (c *Config) Validate() error {
	return errors.Join(
		c.Log.validate(),
		c.Backend.validate("backend"),
		c.Sequence.validate(),
		c.Gateway.validate(),
	)
}

func invalid(format string, args ...any) error {
	return errors.Wrap(ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func (l *LogConfig) validate() error {
	var errs []error
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, invalid("log.level must be one of: debug, info, warn, error; got %q", l.Level))
	}
	switch l.Format {
	case "json", "text":
	default:
		errs = append(errs, invalid("log.format must be one of: json, text; got %q", l.Format))
	}
	return errors.Join(errs...)
}

func (b *BackendConfig) validate(prefix string) error {
	switch b.Kind {
	case "memory":
		return nil
	case "mvcc":
		return b.MVCC.validate(prefix)
	case "bolt":
		if b.Bolt.Path == "" {
			return invalid("%s.bolt.path must not be empty", prefix)
		}
	case "pebble":
		if b.Pebble.Path == "" {
			return invalid("%s.pebble.path must not be empty", prefix)
		}
	case "sqlite":
		if b.SQLite.Path == "" {
			return invalid("%s.sqlite.path must not be empty", prefix)
		}
	case "redis":
		if b.Redis.Address == "" {
			return invalid("%s.redis.address must not be empty", prefix)
		}
	case "etcd":
		if len(b.Etcd.Endpoints) == 0 {
			return invalid("%s.etcd.endpoints must not be empty", prefix)
		}
	case "dynamodb":
		if b.DynamoDB.Table == "" || b.DynamoDB.SequenceTable == "" {
			return invalid("%s.dynamodb.table and sequence_table must not be empty", prefix)
		}
	case "cassandra":
		if len(b.Cassandra.Hosts) == 0 || b.Cassandra.Keyspace == "" {
			return invalid("%s.cassandra.hosts and keyspace must not be empty", prefix)
		}
	case "sharded":
		if len(b.Shards) == 0 {
			return invalid("%s.shards must not be empty", prefix)
		}
		errs := []error{b.MVCC.validate(prefix)}
		for i := range b.Shards {
			errs = append(errs, b.Shards[i].validate(fmt.Sprintf("%s.shards[%d]", prefix, i)))
		}
		return errors.Join(errs...)
	default:
		return invalid("%s.kind %q is not supported", prefix, b.Kind)
	}
	return nil
}

func (m *MVCCConfig) validate(prefix string) error {
	switch {
	case m.Retention < 0:
		return invalid("%s.mvcc.retention must not be negative", prefix)
	case m.Retention > 0 && m.CompactInterval <= 0:
		return invalid("%s.mvcc.compact_interval must be positive when retention is set", prefix)
	}
	return nil
}

func (s *SequenceConfig) validate() error {
	var errs []error
	if s.MaxAttempts < 1 {
		errs = append(errs, invalid("sequence.max_attempts must be >= 1, got %d", s.MaxAttempts))
	}
	if s.BaseBackoff <= 0 {
		errs = append(errs, invalid("sequence.base_backoff must be positive"))
	}
	if s.MaxBackoff < s.BaseBackoff {
		errs = append(errs, invalid("sequence.max_backoff must be >= sequence.base_backoff"))
	}
	if s.JitterPercent > 100 {
		errs = append(errs, invalid("sequence.jitter_percent must be <= 100, got %d", s.JitterPercent))
	}
	return errors.Join(errs...)
}

func (g *GatewayConfig) validate() error {
	if g.Listen == "" {
		return invalid("gateway.listen must not be empty")
	}
	return nil
}
