package store

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS sequences (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);`

type sqliteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// SQLiteStore is the sqlite backend. Besides the key/value primitives it
// keeps counters in a dedicated sequences table.
type SQLiteStore interface {
	ConditionalStore
	BatchStore
	ReadSequence(ctx context.Context, name string) (int64, bool, error)
	InsertSequenceIfAbsent(ctx context.Context, name string, value int64) (bool, error)
	UpdateSequenceIfMatches(ctx context.Context, name string, expected, next int64) (bool, error)
}

// NewSQLiteStore opens the database at path. ":memory:" is accepted; the
// pool is pinned to one connection so every caller sees the same database.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (SQLiteStore, error) {
	o := newOptions(opts)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, errors.CombineErrors(errors.Wrapf(err, "%s", p), db.Close())
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, errors.CombineErrors(errors.WithStack(err), db.Close())
	}
	return &sqliteStore{db: db, log: o.log}, nil
}

var _ SQLiteStore = (*sqliteStore)(nil)

func (s *sqliteStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

func (s *sqliteStore) Put(ctx context.Context, key []byte, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	return errors.WithStack(err)
}

func (s *sqliteStore) Delete(ctx context.Context, key []byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
	return errors.WithStack(err)
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.WithStack(err)
	}
	return n == 1, nil
}

func (s *sqliteStore) PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error) {
	return affected(s.db.ExecContext(ctx, `INSERT OR IGNORE INTO kv (k, v) VALUES (?, ?)`, key, value))
}

func (s *sqliteStore) CompareAndSwap(ctx context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	return affected(s.db.ExecContext(ctx, `UPDATE kv SET v = ? WHERE k = ? AND v = ?`, value, key, expected))
}

func (s *sqliteStore) CompareAndDelete(ctx context.Context, key []byte, expected []byte) (bool, error) {
	return affected(s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ? AND v = ?`, key, expected))
}

func (s *sqliteStore) ApplyBatch(ctx context.Context, mutations []*Mutation) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if err != nil {
			err = errors.CombineErrors(err, ignoreTxDone(tx.Rollback()))
		}
	}()

	for _, mut := range mutations {
		switch mut.Op {
		case OpTypePut:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, mut.Key, mut.Value)
		case OpTypeDelete:
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, mut.Key)
		default:
			err = ErrUnknownOp
		}
		if err != nil {
			return errors.WithStack(err)
		}
	}
	s.log.DebugContext(ctx, "apply batch", slog.Int("mutations", len(mutations)))
	return errors.WithStack(tx.Commit())
}

func ignoreTxDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return errors.WithStack(err)
}

func (s *sqliteStore) ReadSequence(ctx context.Context, name string) (int64, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sequences WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	return v, true, nil
}

func (s *sqliteStore) InsertSequenceIfAbsent(ctx context.Context, name string, value int64) (bool, error) {
	return affected(s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sequences (name, value) VALUES (?, ?)`, name, value))
}

func (s *sqliteStore) UpdateSequenceIfMatches(ctx context.Context, name string, expected, next int64) (bool, error) {
	return affected(s.db.ExecContext(ctx,
		`UPDATE sequences SET value = ? WHERE name = ? AND value = ?`, next, name, expected))
}

func (s *sqliteStore) Name() string {
	return "sqlite"
}

func (s *sqliteStore) Close() error {
	return errors.WithStack(s.db.Close())
}
