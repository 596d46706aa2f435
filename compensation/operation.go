// Package compensation records the mutating calls made through a grid
// dialect during one unit of work and lets an application policy decide what
// a failure means and what to undo on rollback.
package compensation

import (
	"fmt"
	"strings"

	"github.com/bootjp/elasticgrid/grid"
)

type OperationKind int

const (
	KindCreateTuple OperationKind = iota
	KindCreateTupleWithGeneratedKey
	KindInsertTuple
	KindInsertOrUpdateTuple
	KindRemoveTuple
	KindRemoveTupleWithOptimisticLock
	KindUpdateTupleWithOptimisticLock
	KindCreateAssociation
	KindInsertOrUpdateAssociation
	KindRemoveAssociation
	KindExecuteBatch
	KindFlushPendingOperations
)

var kindNames = [...]string{
	KindCreateTuple:                   "CreateTuple",
	KindCreateTupleWithGeneratedKey:   "CreateTupleWithGeneratedKey",
	KindInsertTuple:                   "InsertTuple",
	KindInsertOrUpdateTuple:           "InsertOrUpdateTuple",
	KindRemoveTuple:                   "RemoveTuple",
	KindRemoveTupleWithOptimisticLock: "RemoveTupleWithOptimisticLock",
	KindUpdateTupleWithOptimisticLock: "UpdateTupleWithOptimisticLock",
	KindCreateAssociation:             "CreateAssociation",
	KindInsertOrUpdateAssociation:     "InsertOrUpdateAssociation",
	KindRemoveAssociation:             "RemoveAssociation",
	KindExecuteBatch:                  "ExecuteBatch",
	KindFlushPendingOperations:        "FlushPendingOperations",
}

func (k OperationKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("OperationKind(%d)", int(k))
	}
	return kindNames[k]
}

// Operation is an immutable record of one mutating dialect call and the
// arguments it received. Accessors return copies.
type Operation interface {
	Kind() OperationKind
	String() string
}

type CreateTuple struct {
	key grid.EntityKey
}

func NewCreateTuple(key grid.EntityKey) CreateTuple {
	return CreateTuple{key: key.Clone()}
}

func (o CreateTuple) Kind() OperationKind       { return KindCreateTuple }
func (o CreateTuple) EntityKey() grid.EntityKey { return o.key.Clone() }
func (o CreateTuple) String() string            { return o.Kind().String() + "(" + o.key.String() + ")" }

type CreateTupleWithGeneratedKey struct {
	meta grid.EntityKeyMetadata
}

func NewCreateTupleWithGeneratedKey(meta grid.EntityKeyMetadata) CreateTupleWithGeneratedKey {
	return CreateTupleWithGeneratedKey{meta: grid.EntityKeyMetadata{
		Table:   meta.Table,
		Columns: append([]string(nil), meta.Columns...),
	}}
}

func (o CreateTupleWithGeneratedKey) Kind() OperationKind { return KindCreateTupleWithGeneratedKey }

func (o CreateTupleWithGeneratedKey) Metadata() grid.EntityKeyMetadata {
	return grid.EntityKeyMetadata{Table: o.meta.Table, Columns: append([]string(nil), o.meta.Columns...)}
}

func (o CreateTupleWithGeneratedKey) String() string {
	return o.Kind().String() + "(" + o.meta.Table + ")"
}

type InsertTuple struct {
	key   grid.EntityKey
	tuple grid.Tuple
}

func NewInsertTuple(key grid.EntityKey, tuple grid.Tuple) InsertTuple {
	return InsertTuple{key: key.Clone(), tuple: tuple.Clone()}
}

func (o InsertTuple) Kind() OperationKind       { return KindInsertTuple }
func (o InsertTuple) EntityKey() grid.EntityKey { return o.key.Clone() }
func (o InsertTuple) Tuple() grid.Tuple         { return o.tuple.Clone() }
func (o InsertTuple) String() string            { return o.Kind().String() + "(" + o.key.String() + ")" }

type InsertOrUpdateTuple struct {
	key   grid.EntityKey
	tuple grid.Tuple
}

func NewInsertOrUpdateTuple(key grid.EntityKey, tuple grid.Tuple) InsertOrUpdateTuple {
	return InsertOrUpdateTuple{key: key.Clone(), tuple: tuple.Clone()}
}

func (o InsertOrUpdateTuple) Kind() OperationKind       { return KindInsertOrUpdateTuple }
func (o InsertOrUpdateTuple) EntityKey() grid.EntityKey { return o.key.Clone() }
func (o InsertOrUpdateTuple) Tuple() grid.Tuple         { return o.tuple.Clone() }
func (o InsertOrUpdateTuple) String() string {
	return o.Kind().String() + "(" + o.key.String() + ")"
}

type RemoveTuple struct {
	key grid.EntityKey
}

func NewRemoveTuple(key grid.EntityKey) RemoveTuple {
	return RemoveTuple{key: key.Clone()}
}

func (o RemoveTuple) Kind() OperationKind       { return KindRemoveTuple }
func (o RemoveTuple) EntityKey() grid.EntityKey { return o.key.Clone() }
func (o RemoveTuple) String() string            { return o.Kind().String() + "(" + o.key.String() + ")" }

type RemoveTupleWithOptimisticLock struct {
	key          grid.EntityKey
	oldLockState grid.Tuple
}

func NewRemoveTupleWithOptimisticLock(key grid.EntityKey, oldLockState grid.Tuple) RemoveTupleWithOptimisticLock {
	return RemoveTupleWithOptimisticLock{key: key.Clone(), oldLockState: oldLockState.Clone()}
}

func (o RemoveTupleWithOptimisticLock) Kind() OperationKind {
	return KindRemoveTupleWithOptimisticLock
}
func (o RemoveTupleWithOptimisticLock) EntityKey() grid.EntityKey { return o.key.Clone() }
func (o RemoveTupleWithOptimisticLock) OldLockState() grid.Tuple  { return o.oldLockState.Clone() }
func (o RemoveTupleWithOptimisticLock) String() string {
	return o.Kind().String() + "(" + o.key.String() + ")"
}

type UpdateTupleWithOptimisticLock struct {
	key          grid.EntityKey
	oldLockState grid.Tuple
	newTuple     grid.Tuple
}

func NewUpdateTupleWithOptimisticLock(key grid.EntityKey, oldLockState, newTuple grid.Tuple) UpdateTupleWithOptimisticLock {
	return UpdateTupleWithOptimisticLock{
		key:          key.Clone(),
		oldLockState: oldLockState.Clone(),
		newTuple:     newTuple.Clone(),
	}
}

func (o UpdateTupleWithOptimisticLock) Kind() OperationKind {
	return KindUpdateTupleWithOptimisticLock
}
func (o UpdateTupleWithOptimisticLock) EntityKey() grid.EntityKey { return o.key.Clone() }
func (o UpdateTupleWithOptimisticLock) OldLockState() grid.Tuple  { return o.oldLockState.Clone() }
func (o UpdateTupleWithOptimisticLock) NewTuple() grid.Tuple      { return o.newTuple.Clone() }
func (o UpdateTupleWithOptimisticLock) String() string {
	return o.Kind().String() + "(" + o.key.String() + ")"
}

type CreateAssociation struct {
	key grid.AssociationKey
}

func NewCreateAssociation(key grid.AssociationKey) CreateAssociation {
	return CreateAssociation{key: key.Clone()}
}

func (o CreateAssociation) Kind() OperationKind                 { return KindCreateAssociation }
func (o CreateAssociation) AssociationKey() grid.AssociationKey { return o.key.Clone() }
func (o CreateAssociation) String() string {
	return o.Kind().String() + "(" + o.key.String() + ")"
}

type InsertOrUpdateAssociation struct {
	key   grid.AssociationKey
	assoc *grid.Association
}

func NewInsertOrUpdateAssociation(key grid.AssociationKey, assoc *grid.Association) InsertOrUpdateAssociation {
	return InsertOrUpdateAssociation{key: key.Clone(), assoc: assoc.Clone()}
}

func (o InsertOrUpdateAssociation) Kind() OperationKind                 { return KindInsertOrUpdateAssociation }
func (o InsertOrUpdateAssociation) AssociationKey() grid.AssociationKey { return o.key.Clone() }
func (o InsertOrUpdateAssociation) Association() *grid.Association      { return o.assoc.Clone() }
func (o InsertOrUpdateAssociation) String() string {
	return o.Kind().String() + "(" + o.key.String() + ")"
}

type RemoveAssociation struct {
	key grid.AssociationKey
}

func NewRemoveAssociation(key grid.AssociationKey) RemoveAssociation {
	return RemoveAssociation{key: key.Clone()}
}

func (o RemoveAssociation) Kind() OperationKind                 { return KindRemoveAssociation }
func (o RemoveAssociation) AssociationKey() grid.AssociationKey { return o.key.Clone() }
func (o RemoveAssociation) String() string {
	return o.Kind().String() + "(" + o.key.String() + ")"
}

// ExecuteBatch holds the queued writes of one batch, flattened to the order
// the store applies them. Entity and association groupings are not kept.
type ExecuteBatch struct {
	ops []Operation
}

func NewExecuteBatch(queue []grid.Mutation) ExecuteBatch {
	return ExecuteBatch{ops: fromQueue(queue)}
}

func (o ExecuteBatch) Kind() OperationKind     { return KindExecuteBatch }
func (o ExecuteBatch) Operations() []Operation { return append([]Operation(nil), o.ops...) }
func (o ExecuteBatch) String() string          { return o.Kind().String() + listString(o.ops) }

// FlushPendingOperations is ExecuteBatch scoped to the queue of one entity.
type FlushPendingOperations struct {
	key grid.EntityKey
	ops []Operation
}

func NewFlushPendingOperations(key grid.EntityKey, queue []grid.Mutation) FlushPendingOperations {
	return FlushPendingOperations{key: key.Clone(), ops: fromQueue(queue)}
}

func (o FlushPendingOperations) Kind() OperationKind       { return KindFlushPendingOperations }
func (o FlushPendingOperations) EntityKey() grid.EntityKey { return o.key.Clone() }
func (o FlushPendingOperations) Operations() []Operation   { return append([]Operation(nil), o.ops...) }
func (o FlushPendingOperations) String() string {
	return o.Kind().String() + listString(o.ops)
}

// fromQueue maps queued grid mutations to operations. Unknown mutation
// types cannot occur because grid.Mutation is a closed set.
func fromQueue(queue []grid.Mutation) []Operation {
	flat := grid.Flatten(queue, grid.GroupMembers)
	ops := make([]Operation, 0, len(flat))
	for _, m := range flat {
		switch x := m.(type) {
		case grid.InsertOrUpdateTupleMutation:
			ops = append(ops, NewInsertOrUpdateTuple(x.Key, x.Tuple))
		case grid.RemoveTupleMutation:
			ops = append(ops, NewRemoveTuple(x.Key))
		case grid.InsertOrUpdateAssociationMutation:
			ops = append(ops, NewInsertOrUpdateAssociation(x.Key, x.Association))
		case grid.RemoveAssociationMutation:
			ops = append(ops, NewRemoveAssociation(x.Key))
		}
	}
	return ops
}

func listString(ops []Operation) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
