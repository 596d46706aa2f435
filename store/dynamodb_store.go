package store

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
)

const (
	dynamoKeyAttr      = "k"
	dynamoValueAttr    = "v"
	dynamoSeqNameAttr  = "name"
	dynamoSeqValueAttr = "value"

	// TransactWriteItems accepts at most this many actions.
	dynamoMaxTransactItems = 100
)

var ErrBatchTooLarge = errors.New("batch too large")

// DynamoDBAPI is the subset of *dynamodb.Client the store calls.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoDBStore keeps key/value pairs in one table (binary hash key "k",
// binary attribute "v") and counters in another (string hash key "name",
// number attribute "value").
type DynamoDBStore interface {
	ConditionalStore
	BatchStore
	ReadSequence(ctx context.Context, name string) (int64, bool, error)
	InsertSequenceIfAbsent(ctx context.Context, name string, value int64) (bool, error)
	UpdateSequenceIfMatches(ctx context.Context, name string, expected, next int64) (bool, error)
}

type dynamoDBStore struct {
	client   DynamoDBAPI
	table    string
	seqTable string
	log      *slog.Logger
}

func NewDynamoDBStore(client DynamoDBAPI, table, sequenceTable string, opts ...Option) DynamoDBStore {
	o := newOptions(opts)
	return &dynamoDBStore{client: client, table: table, seqTable: sequenceTable, log: o.log}
}

var _ DynamoDBStore = (*dynamoDBStore)(nil)

func binaryKey(key []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberB{Value: key},
	}
}

func seqKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoSeqNameAttr: &types.AttributeValueMemberS{Value: name},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// conditional maps a failed condition check to "not applied".
func conditional(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if isConditionFailed(err) {
		return false, nil
	}
	return false, errors.WithStack(err)
}

func (s *dynamoDBStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            binaryKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	v, ok := out.Item[dynamoValueAttr].(*types.AttributeValueMemberB)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v.Value, nil
}

func (s *dynamoDBStore) item(key, value []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr:   &types.AttributeValueMemberB{Value: key},
		dynamoValueAttr: &types.AttributeValueMemberB{Value: value},
	}
}

func (s *dynamoDBStore) Put(ctx context.Context, key []byte, value []byte) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      s.item(key, value),
	})
	return errors.WithStack(err)
}

func (s *dynamoDBStore) Delete(ctx context.Context, key []byte) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       binaryKey(key),
	})
	return errors.WithStack(err)
}

func (s *dynamoDBStore) PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error) {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     s.item(key, value),
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": dynamoKeyAttr},
	})
	return conditional(err)
}

func (s *dynamoDBStore) CompareAndSwap(ctx context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     s.item(key, value),
		ConditionExpression:      aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": dynamoValueAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberB{Value: expected},
		},
	})
	return conditional(err)
}

func (s *dynamoDBStore) CompareAndDelete(ctx context.Context, key []byte, expected []byte) (bool, error) {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.table),
		Key:                      binaryKey(key),
		ConditionExpression:      aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": dynamoValueAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberB{Value: expected},
		},
	})
	return conditional(err)
}

// ApplyBatch uses TransactWriteItems, which also refuses two actions on the
// same item, so only the last mutation per key is sent.
func (s *dynamoDBStore) ApplyBatch(ctx context.Context, mutations []*Mutation) error {
	last := make(map[string]int, len(mutations))
	for i, mut := range mutations {
		last[string(mut.Key)] = i
	}
	if len(last) > dynamoMaxTransactItems {
		return errors.Wrapf(ErrBatchTooLarge, "%d items, limit %d", len(last), dynamoMaxTransactItems)
	}
	if len(last) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(last))
	for i, mut := range mutations {
		if last[string(mut.Key)] != i {
			continue
		}
		switch mut.Op {
		case OpTypePut:
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName: aws.String(s.table),
				Item:      s.item(mut.Key, mut.Value),
			}})
		case OpTypeDelete:
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(s.table),
				Key:       binaryKey(mut.Key),
			}})
		default:
			return errors.WithStack(ErrUnknownOp)
		}
	}
	s.log.DebugContext(ctx, "apply batch", slog.Int("items", len(items)))
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return errors.WithStack(err)
}

func (s *dynamoDBStore) ReadSequence(ctx context.Context, name string) (int64, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.seqTable),
		Key:            seqKey(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	n, ok := out.Item[dynamoSeqValueAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "sequence %s", name)
	}
	return v, true, nil
}

func (s *dynamoDBStore) InsertSequenceIfAbsent(ctx context.Context, name string, value int64) (bool, error) {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.seqTable),
		Item: map[string]types.AttributeValue{
			dynamoSeqNameAttr:  &types.AttributeValueMemberS{Value: name},
			dynamoSeqValueAttr: &types.AttributeValueMemberN{Value: strconv.FormatInt(value, 10)},
		},
		ConditionExpression:      aws.String("attribute_not_exists(#n)"),
		ExpressionAttributeNames: map[string]string{"#n": dynamoSeqNameAttr},
	})
	return conditional(err)
}

func (s *dynamoDBStore) UpdateSequenceIfMatches(ctx context.Context, name string, expected, next int64) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.seqTable),
		Key:                      seqKey(name),
		UpdateExpression:         aws.String("SET #v = :next"),
		ConditionExpression:      aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": dynamoSeqValueAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":     &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	return conditional(err)
}

func (s *dynamoDBStore) Name() string {
	return "dynamodb"
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *dynamoDBStore) Close() error {
	return nil
}
