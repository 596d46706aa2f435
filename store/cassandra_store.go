package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/gocql/gocql"
)

// CassandraStore keeps key/value pairs in table kv and counters in table
// sequences of one keyspace. Conditional primitives are lightweight
// transactions.
type CassandraStore interface {
	ConditionalStore
	BatchStore
	ReadSequence(ctx context.Context, name string) (int64, bool, error)
	InsertSequenceIfAbsent(ctx context.Context, name string, value int64) (bool, error)
	UpdateSequenceIfMatches(ctx context.Context, name string, expected, next int64) (bool, error)
}

type cassandraStore struct {
	session *gocql.Session
	log     *slog.Logger
}

var cassandraTables = []string{
	`CREATE TABLE IF NOT EXISTS kv (k blob PRIMARY KEY, v blob)`,
	`CREATE TABLE IF NOT EXISTS sequences (name text PRIMARY KEY, value bigint)`,
}

// CreateCassandraKeyspace creates keyspace with SimpleStrategy if it does
// not exist. It needs a session that is not bound to that keyspace.
func CreateCassandraKeyspace(ctx context.Context, session *gocql.Session, keyspace string, replicationFactor int) error {
	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class':'SimpleStrategy', 'replication_factor':%d}`,
		keyspace, replicationFactor)
	return errors.WithStack(session.Query(stmt).WithContext(ctx).Exec())
}

// NewCassandraStore creates the tables if needed. The session must be bound
// to the target keyspace.
func NewCassandraStore(ctx context.Context, session *gocql.Session, opts ...Option) (CassandraStore, error) {
	o := newOptions(opts)
	for _, stmt := range cassandraTables {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return nil, errors.Wrapf(err, "%s", stmt)
		}
	}
	return &cassandraStore{session: session, log: o.log}, nil
}

var _ CassandraStore = (*cassandraStore)(nil)

func (s *cassandraStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := s.session.Query(`SELECT v FROM kv WHERE k = ?`, key).WithContext(ctx).Scan(&v)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

func (s *cassandraStore) Put(ctx context.Context, key []byte, value []byte) error {
	return errors.WithStack(s.session.Query(`INSERT INTO kv (k, v) VALUES (?, ?)`, key, value).WithContext(ctx).Exec())
}

func (s *cassandraStore) Delete(ctx context.Context, key []byte) error {
	return errors.WithStack(s.session.Query(`DELETE FROM kv WHERE k = ?`, key).WithContext(ctx).Exec())
}

func (s *cassandraStore) cas(ctx context.Context, stmt string, args ...interface{}) (bool, error) {
	applied, err := s.session.Query(stmt, args...).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, errors.WithStack(err)
	}
	return applied, nil
}

func (s *cassandraStore) PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error) {
	return s.cas(ctx, `INSERT INTO kv (k, v) VALUES (?, ?) IF NOT EXISTS`, key, value)
}

func (s *cassandraStore) CompareAndSwap(ctx context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	return s.cas(ctx, `UPDATE kv SET v = ? WHERE k = ? IF v = ?`, value, key, expected)
}

func (s *cassandraStore) CompareAndDelete(ctx context.Context, key []byte, expected []byte) (bool, error) {
	return s.cas(ctx, `DELETE FROM kv WHERE k = ? IF v = ?`, key, expected)
}

// ApplyBatch uses a logged batch: Cassandra guarantees every statement is
// eventually applied once the batch log accepts it.
func (s *cassandraStore) ApplyBatch(ctx context.Context, mutations []*Mutation) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, mut := range mutations {
		switch mut.Op {
		case OpTypePut:
			batch.Query(`INSERT INTO kv (k, v) VALUES (?, ?)`, mut.Key, mut.Value)
		case OpTypeDelete:
			batch.Query(`DELETE FROM kv WHERE k = ?`, mut.Key)
		default:
			return errors.WithStack(ErrUnknownOp)
		}
	}
	s.log.DebugContext(ctx, "apply batch", slog.Int("mutations", len(mutations)))
	return errors.WithStack(s.session.ExecuteBatch(batch))
}

func (s *cassandraStore) ReadSequence(ctx context.Context, name string) (int64, bool, error) {
	var v int64
	err := s.session.Query(`SELECT value FROM sequences WHERE name = ?`, name).WithContext(ctx).Scan(&v)
	if errors.Is(err, gocql.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	return v, true, nil
}

func (s *cassandraStore) InsertSequenceIfAbsent(ctx context.Context, name string, value int64) (bool, error) {
	return s.cas(ctx, `INSERT INTO sequences (name, value) VALUES (?, ?) IF NOT EXISTS`, name, value)
}

func (s *cassandraStore) UpdateSequenceIfMatches(ctx context.Context, name string, expected, next int64) (bool, error) {
	return s.cas(ctx, `UPDATE sequences SET value = ? WHERE name = ? IF value = ?`, next, name, expected)
}

func (s *cassandraStore) Name() string {
	return "cassandra"
}

func (s *cassandraStore) Close() error {
	s.session.Close()
	return nil
}
