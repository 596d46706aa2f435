package compensation

import (
	"context"
	"sync"

	"github.com/bootjp/elasticgrid/grid"
	"github.com/bootjp/elasticgrid/store"
	"github.com/bootjp/elasticgrid/uow"
	"github.com/stretchr/testify/require"
)

// flakyDialect fails chosen methods once, then behaves normally.
type flakyDialect struct {
	grid.Dialect
	mu   sync.Mutex
	fail map[string]error
}

func (d *flakyDialect) failNext(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[method] = err
}

func (d *flakyDialect) take(method string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.fail[method]
	delete(d.fail, method)
	return err
}

func (d *flakyDialect) InsertTuple(ctx context.Context, key grid.EntityKey, tuple grid.Tuple) error {
	if err := d.take("InsertTuple"); err != nil {
		return err
	}
	return d.Dialect.InsertTuple(ctx, key, tuple)
}

func (d *flakyDialect) InsertOrUpdateTuple(ctx context.Context, key grid.EntityKey, tuple grid.Tuple) error {
	if err := d.take("InsertOrUpdateTuple"); err != nil {
		return err
	}
	return d.Dialect.InsertOrUpdateTuple(ctx, key, tuple)
}

func (d *flakyDialect) CreateTuple(ctx context.Context, key grid.EntityKey) (grid.Tuple, error) {
	if err := d.take("CreateTuple"); err != nil {
		return grid.Tuple{"partial": true}, err
	}
	return d.Dialect.CreateTuple(ctx, key)
}

func (d *flakyDialect) ExecuteBatch(ctx context.Context, queue []grid.Mutation) error {
	if err := d.take("ExecuteBatch"); err != nil {
		return err
	}
	return d.Dialect.ExecuteBatch(ctx, queue)
}

type fixture struct {
	dialect     *flakyDialect
	session     *uow.Session
	lifecycle   *Lifecycle
	interceptor *Interceptor

	mu        sync.Mutex
	verdict   Verdict
	failures  []FailureContext
	rollbacks []RollbackContext
}

func newFixture(t require.TestingT, verdict Verdict, opts ...Option) *fixture {
	kv, err := grid.NewKVDialect(store.NewRbMemoryStore())
	require.NoError(t, err)

	f := &fixture{
		dialect: &flakyDialect{Dialect: kv, fail: map[string]error{}},
		session: uow.NewSession(),
		verdict: verdict,
	}
	handler := HandlerFuncs{
		Failure: func(_ context.Context, fc FailureContext) Verdict {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.failures = append(f.failures, fc)
			return f.verdict
		},
		Rollback: func(_ context.Context, rc RollbackContext) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.rollbacks = append(f.rollbacks, rc)
			return nil
		},
	}
	f.lifecycle, err = NewLifecycle(f.session, handler, opts...)
	require.NoError(t, err)
	f.interceptor, err = NewInterceptor(f.dialect, handler, opts...)
	require.NoError(t, err)
	return f
}

// begin starts a unit of work and returns a context carrying it.
func (f *fixture) begin(t require.TestingT) context.Context {
	ctx := uow.WithCoordinator(context.Background(), f.lifecycle)
	require.NoError(t, f.lifecycle.Pulse(ctx))
	return ctx
}

func (f *fixture) applied(t require.TestingT) []Operation {
	log, ok := f.lifecycle.Log()
	require.True(t, ok)
	return log.AppliedOperations()
}

func userKey(id int64) grid.EntityKey {
	return grid.NewEntityKey("users", []string{"id"}, id)
}

func roleKey(userID int64) grid.AssociationKey {
	return grid.AssociationKey{
		Table:   "user_roles",
		Columns: []string{"user_id"},
		Values:  []any{userID},
		Owner:   userKey(userID),
	}
}
