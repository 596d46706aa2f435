package store

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamoDB understands exactly the condition expressions the store
// sends, which keeps it small enough to trust.
type fakeDynamoDB struct {
	mu           sync.Mutex
	tables       map[string]map[string]map[string]types.AttributeValue
	transactions int
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

var _ DynamoDBAPI = (*fakeDynamoDB)(nil)

func itemID(key map[string]types.AttributeValue) string {
	if v, ok := key[dynamoKeyAttr].(*types.AttributeValueMemberB); ok {
		return "b:" + string(v.Value)
	}
	if v, ok := key[dynamoSeqNameAttr].(*types.AttributeValueMemberS); ok {
		return "s:" + v.Value
	}
	panic("unexpected key shape")
}

func sameAttr(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberB:
		y, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(x.Value, y.Value)
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	default:
		return false
	}
}

func (f *fakeDynamoDB) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		f.tables[name] = t
	}
	return t
}

func (f *fakeDynamoDB) check(cur map[string]types.AttributeValue, cond *string, names map[string]string, values map[string]types.AttributeValue) error {
	if cond == nil {
		return nil
	}
	expr := aws.ToString(cond)
	fail := &types.ConditionalCheckFailedException{Message: aws.String(expr)}
	switch {
	case strings.HasPrefix(expr, "attribute_not_exists("):
		if cur != nil {
			return fail
		}
	case strings.HasPrefix(expr, "#v = :expected"):
		got, ok := cur[names["#v"]]
		if !ok || !sameAttr(got, values[":expected"]) {
			return fail
		}
	default:
		return errors.Newf("unsupported condition %q", expr)
	}
	return nil
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.table(aws.ToString(in.TableName))[itemID(in.Key)]}, nil
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(aws.ToString(in.TableName))
	id := itemID(in.Item)
	if err := f.check(t[id], in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	t[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(aws.ToString(in.TableName))
	id := itemID(in.Key)
	cur := t[id]
	if err := f.check(cur, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	if aws.ToString(in.UpdateExpression) != "SET #v = :next" {
		return nil, errors.Newf("unsupported update %q", aws.ToString(in.UpdateExpression))
	}
	next := make(map[string]types.AttributeValue, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	for k, v := range in.Key {
		next[k] = v
	}
	next[in.ExpressionAttributeNames["#v"]] = in.ExpressionAttributeValues[":next"]
	t[id] = next
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamoDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(aws.ToString(in.TableName))
	id := itemID(in.Key)
	if err := f.check(t[id], in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	delete(t, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamoDB) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions++
	seen := map[string]bool{}
	for _, item := range in.TransactItems {
		var id string
		switch {
		case item.Put != nil:
			id = itemID(item.Put.Item)
		case item.Delete != nil:
			id = itemID(item.Delete.Key)
		}
		if seen[id] {
			return nil, errors.Newf("multiple operations on one item: %s", id)
		}
		seen[id] = true
	}
	for _, item := range in.TransactItems {
		switch {
		case item.Put != nil:
			f.table(aws.ToString(item.Put.TableName))[itemID(item.Put.Item)] = item.Put.Item
		case item.Delete != nil:
			delete(f.table(aws.ToString(item.Delete.TableName)), itemID(item.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func TestDynamoDBStore_Contract(t *testing.T) {
	t.Parallel()
	runConditionalStoreContract(t, func(t *testing.T) ConditionalStore {
		return NewDynamoDBStore(newFakeDynamoDB(), "kv", "sequences")
	})
}

func TestDynamoDBStore_BatchIsOneTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeDynamoDB()
	st := NewDynamoDBStore(fake, "kv", "sequences")

	require.NoError(t, st.ApplyBatch(ctx, []*Mutation{
		{Op: OpTypePut, Key: []byte("a"), Value: []byte("1")},
		{Op: OpTypePut, Key: []byte("a"), Value: []byte("2")},
	}))
	assert.Equal(t, 1, fake.transactions)
	v, err := st.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, st.ApplyBatch(ctx, nil))
	assert.Equal(t, 1, fake.transactions, "empty batches are not sent")

	big := make([]*Mutation, 0, dynamoMaxTransactItems+1)
	for i := 0; i <= dynamoMaxTransactItems; i++ {
		big = append(big, &Mutation{Op: OpTypePut, Key: []byte(fmt.Sprintf("k%03d", i)), Value: []byte("v")})
	}
	require.ErrorIs(t, st.ApplyBatch(ctx, big), ErrBatchTooLarge)
}

func TestDynamoDBStore_Sequences(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewDynamoDBStore(newFakeDynamoDB(), "kv", "sequences")

	_, ok, err := st.ReadSequence(ctx, "order_id")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.InsertSequenceIfAbsent(ctx, "order_id", 100)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.InsertSequenceIfAbsent(ctx, "order_id", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.UpdateSequenceIfMatches(ctx, "order_id", 99, 105)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = st.UpdateSequenceIfMatches(ctx, "order_id", 100, 105)
	require.NoError(t, err)
	assert.True(t, ok)

	v, ok, err := st.ReadSequence(ctx, "order_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(105), v)
}
