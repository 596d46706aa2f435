// Package config loads elasticgrid settings from built-in defaults, an
// optional YAML file and ELASTICGRID_ environment variables, in that order
// of precedence (lowest first).
package config

import "time"

// Config holds all configuration for the elasticgrid binary.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Backend  BackendConfig  `koanf:"backend"`
	Sequence SequenceConfig `koanf:"sequence"`
	Gateway  GatewayConfig  `koanf:"gateway"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// BackendConfig selects and configures the key/value store. Only the
// section matching Kind is read, except MVCC, which "serve" also applies to
// the mvcc shards of a sharded backend.
type BackendConfig struct {
	Kind      string          `koanf:"kind"`
	MVCC      MVCCConfig      `koanf:"mvcc"`
	Bolt      BoltConfig      `koanf:"bolt"`
	Pebble    PebbleConfig    `koanf:"pebble"`
	SQLite    SQLiteConfig    `koanf:"sqlite"`
	Redis     RedisConfig     `koanf:"redis"`
	Etcd      EtcdConfig      `koanf:"etcd"`
	DynamoDB  DynamoDBConfig  `koanf:"dynamodb"`
	Cassandra CassandraConfig `koanf:"cassandra"`
	// Shards is read when Kind is "sharded"; each entry is a full backend.
	Shards []BackendConfig `koanf:"shards"`
}

// MVCCConfig bounds how long superseded versions are kept. A zero
// Retention turns compaction off.
type MVCCConfig struct {
	Retention       time.Duration `koanf:"retention"`
	CompactInterval time.Duration `koanf:"compact_interval"`
}

type BoltConfig struct {
	Path string `koanf:"path"`
}

type PebbleConfig struct {
	Path string `koanf:"path"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type EtcdConfig struct {
	Endpoints   []string      `koanf:"endpoints"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Prefix      string        `koanf:"prefix"`
}

type DynamoDBConfig struct {
	Region        string `koanf:"region"`
	Endpoint      string `koanf:"endpoint"`
	Table         string `koanf:"table"`
	SequenceTable string `koanf:"sequence_table"`
}

type CassandraConfig struct {
	Hosts             []string      `koanf:"hosts"`
	Keyspace          string        `koanf:"keyspace"`
	Consistency       string        `koanf:"consistency"`
	Timeout           time.Duration `koanf:"timeout"`
	ReplicationFactor int           `koanf:"replication_factor"`
}

// SequenceConfig bounds the optimistic sequence retry loop.
type SequenceConfig struct {
	MaxAttempts   uint64        `koanf:"max_attempts"`
	BaseBackoff   time.Duration `koanf:"base_backoff"`
	MaxBackoff    time.Duration `koanf:"max_backoff"`
	JitterPercent uint64        `koanf:"jitter_percent"`
}

// GatewayConfig configures the RESP gateway started by "serve".
type GatewayConfig struct {
	Listen string `koanf:"listen"`
	// MetricsListen serves /metrics; empty disables it.
	MetricsListen string `koanf:"metrics_listen"`
}
