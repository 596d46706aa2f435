package config

const (
	defaultSequenceMaxAttempts   = 256
	defaultSequenceJitterPercent = 50
	defaultReplicationFactor     = 1
)

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "json",

		"backend.kind":                         "memory",
		"backend.mvcc.retention":               "10m",
		"backend.mvcc.compact_interval":        "1m",
		"backend.bolt.path":                    "elasticgrid.db",
		"backend.pebble.path":                  "elasticgrid.pebble",
		"backend.sqlite.path":                  "elasticgrid.sqlite",
		"backend.redis.address":                "localhost:6379",
		"backend.redis.db":                     0,
		"backend.etcd.endpoints":               []string{"localhost:2379"},
		"backend.etcd.dial_timeout":            "5s",
		"backend.etcd.prefix":                  "elasticgrid/",
		"backend.dynamodb.region":              "us-east-1",
		"backend.dynamodb.table":               "elasticgrid_kv",
		"backend.dynamodb.sequence_table":      "elasticgrid_sequences",
		"backend.cassandra.hosts":              []string{"127.0.0.1"},
		"backend.cassandra.keyspace":           "elasticgrid",
		"backend.cassandra.consistency":        "QUORUM",
		"backend.cassandra.timeout":            "5s",
		"backend.cassandra.replication_factor": defaultReplicationFactor,

		"sequence.max_attempts":   defaultSequenceMaxAttempts,
		"sequence.base_backoff":   "1ms",
		"sequence.max_backoff":    "50ms",
		"sequence.jitter_percent": defaultSequenceJitterPercent,

		"gateway.listen":         "127.0.0.1:6380",
		"gateway.metrics_listen": "127.0.0.1:9380",
	}
}
