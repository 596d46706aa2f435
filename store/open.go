package store

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/bootjp/elasticgrid/config"
	"github.com/cockroachdb/errors"
	"github.com/gocql/gocql"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var ErrUnknownBackend = errors.New("unknown backend")

// Open builds the backend described by cfg.
func Open(ctx context.Context, cfg config.BackendConfig, opts ...Option) (ConditionalStore, error) {
	switch cfg.Kind {
	case "memory":
		return NewRbMemoryStore(opts...), nil
	case "mvcc":
		return NewMVCCStore(opts...), nil
	case "bolt":
		return NewBoltStore(cfg.Bolt.Path, opts...)
	case "pebble":
		return NewPebbleStore(cfg.Pebble.Path, opts...)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLite.Path, opts...)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStore(rdb, opts...), nil
	case "etcd":
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
		})
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return NewEtcdStore(cli, cfg.Etcd.Prefix, opts...), nil
	case "dynamodb":
		return openDynamoDB(ctx, cfg.DynamoDB, opts...)
	case "cassandra":
		return openCassandra(ctx, cfg.Cassandra, opts...)
	case "sharded":
		return openSharded(ctx, cfg.Shards, opts...)
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Kind)
	}
}

func openDynamoDB(ctx context.Context, cfg config.DynamoDBConfig, opts ...Option) (ConditionalStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoDBStore(client, cfg.Table, cfg.SequenceTable, opts...), nil
}

// cassandraLogger routes gocql's printf-style logging through hclog, the
// same bridge used for other third-party loggers.
func cassandraLogger(o *options) gocql.StdLogger {
	level := hclog.Warn
	if o.log.Enabled(context.Background(), slog.LevelDebug) {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "gocql",
		JSONFormat: true,
		Level:      level,
	}).StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
}

func openCassandra(ctx context.Context, cfg config.CassandraConfig, opts ...Option) (ConditionalStore, error) {
	consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	logger := cassandraLogger(newOptions(opts))

	// The keyspace may not exist yet, so bootstrap with an unbound session.
	boot := gocql.NewCluster(cfg.Hosts...)
	boot.Timeout = cfg.Timeout
	boot.Logger = logger
	bootSession, err := boot.CreateSession()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	err = CreateCassandraKeyspace(ctx, bootSession, cfg.Keyspace, cfg.ReplicationFactor)
	bootSession.Close()
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = consistency
	cluster.Timeout = cfg.Timeout
	cluster.Logger = logger
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	st, err := NewCassandraStore(ctx, session, opts...)
	if err != nil {
		session.Close()
		return nil, err
	}
	return st, nil
}

func openSharded(ctx context.Context, cfgs []config.BackendConfig, opts ...Option) (ConditionalStore, error) {
	shards := make([]ConditionalStore, 0, len(cfgs))
	for _, c := range cfgs {
		sh, err := Open(ctx, c, opts...)
		if err != nil {
			for _, opened := range shards {
				err = errors.CombineErrors(err, opened.Close())
			}
			return nil, err
		}
		shards = append(shards, sh)
	}
	return NewShardedStore(shards...)
}
