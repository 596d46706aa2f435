package store

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type etcdStore struct {
	cli    *clientv3.Client
	prefix string
	log    *slog.Logger
}

// NewEtcdStore stores every key under prefix. Conditional primitives are
// single etcd transactions guarded by Compare.
func NewEtcdStore(cli *clientv3.Client, prefix string, opts ...Option) ConditionalStore {
	o := newOptions(opts)
	return &etcdStore{cli: cli, prefix: prefix, log: o.log}
}

var _ ConditionalStore = (*etcdStore)(nil)
var _ BatchStore = (*etcdStore)(nil)

func (s *etcdStore) key(k []byte) string {
	return s.prefix + string(k)
}

func (s *etcdStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	resp, err := s.cli.Get(ctx, s.key(key))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrKeyNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (s *etcdStore) Put(ctx context.Context, key []byte, value []byte) error {
	_, err := s.cli.Put(ctx, s.key(key), string(value))
	return errors.WithStack(err)
}

func (s *etcdStore) Delete(ctx context.Context, key []byte) error {
	_, err := s.cli.Delete(ctx, s.key(key))
	return errors.WithStack(err)
}

func (s *etcdStore) txn(ctx context.Context, cmp clientv3.Cmp, op clientv3.Op) (bool, error) {
	resp, err := s.cli.Txn(ctx).If(cmp).Then(op).Commit()
	if err != nil {
		return false, errors.WithStack(err)
	}
	return resp.Succeeded, nil
}

func (s *etcdStore) PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error) {
	k := s.key(key)
	return s.txn(ctx,
		clientv3.Compare(clientv3.CreateRevision(k), "=", 0),
		clientv3.OpPut(k, string(value)))
}

func (s *etcdStore) CompareAndSwap(ctx context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	k := s.key(key)
	return s.txn(ctx,
		clientv3.Compare(clientv3.Value(k), "=", string(expected)),
		clientv3.OpPut(k, string(value)))
}

func (s *etcdStore) CompareAndDelete(ctx context.Context, key []byte, expected []byte) (bool, error) {
	k := s.key(key)
	return s.txn(ctx,
		clientv3.Compare(clientv3.Value(k), "=", string(expected)),
		clientv3.OpDelete(k))
}

// ApplyBatch sends one etcd transaction. etcd rejects a txn that touches a
// key twice, so only the last mutation per key is sent.
func (s *etcdStore) ApplyBatch(ctx context.Context, mutations []*Mutation) error {
	last := make(map[string]int, len(mutations))
	for i, mut := range mutations {
		last[string(mut.Key)] = i
	}
	ops := make([]clientv3.Op, 0, len(last))
	for i, mut := range mutations {
		if last[string(mut.Key)] != i {
			continue
		}
		switch mut.Op {
		case OpTypePut:
			ops = append(ops, clientv3.OpPut(s.key(mut.Key), string(mut.Value)))
		case OpTypeDelete:
			ops = append(ops, clientv3.OpDelete(s.key(mut.Key)))
		default:
			return errors.WithStack(ErrUnknownOp)
		}
	}
	s.log.DebugContext(ctx, "apply batch", slog.Int("mutations", len(ops)))
	_, err := s.cli.Txn(ctx).Then(ops...).Commit()
	return errors.WithStack(err)
}

func (s *etcdStore) Name() string {
	return "etcd"
}

func (s *etcdStore) Close() error {
	return errors.WithStack(s.cli.Close())
}
