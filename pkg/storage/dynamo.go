package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the narrow slice of the DynamoDB client the strategy uses
type DynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(context.Context, *dynamodb.BatchWriteItemInput, ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// dynamoItem is the stored item shape: one item per entity, partitioned by
// entity type
type dynamoItem struct {
	EntityType string `dynamodbav:"entity_type"`
	ID         string `dynamodbav:"id"`
	Blob       string `dynamodbav:"blob"`
}

// DynamoStrategy persists one entity type as one DynamoDB item per entity.
// Batch operations map to BatchWriteItem; transactions buffer writes
// client-side and flush on commit. Overlapping transactions queue on the
// transaction gate.
type DynamoStrategy struct {
	client     DynamoAPI
	table      string
	entityType string

	// txGate serializes transactions; held from BeginTransaction until the
	// matching commit or rollback
	txGate sync.Mutex

	mu        sync.Mutex
	inTx      bool
	txPuts    map[string][]byte
	txDeletes map[string]bool
}

// NewDynamoStrategy wraps a DynamoDB client for one entity type. The table
// must use entity_type as partition key and id as sort key.
func NewDynamoStrategy(client DynamoAPI, table, entityType string) *DynamoStrategy {
	return &DynamoStrategy{
		client:     client,
		table:      table,
		entityType: entityType,
	}
}

func (s *DynamoStrategy) key(id string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		"entity_type": &dbtypes.AttributeValueMemberS{Value: s.entityType},
		"id":          &dbtypes.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoStrategy) putItem(ctx context.Context, id string, blob []byte) error {
	item, err := attributevalue.MarshalMap(dynamoItem{
		EntityType: s.entityType,
		ID:         id,
		Blob:       string(blob),
	})
	if err != nil {
		return fmt.Errorf("encoding item %s: %w", id, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return err
}

func (s *DynamoStrategy) Save(ctx context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		s.txPuts[id] = append([]byte{}, blob...)
		delete(s.txDeletes, id)
		return nil
	}
	return s.putItem(ctx, id, blob)
}

func (s *DynamoStrategy) FindByID(ctx context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	if s.inTx {
		if blob, ok := s.txPuts[id]; ok {
			s.mu.Unlock()
			return append([]byte{}, blob...), true, nil
		}
		if s.txDeletes[id] {
			s.mu.Unlock()
			return nil, false, nil
		}
	}
	s.mu.Unlock()
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(id),
	})
	if err != nil {
		return nil, false, err
	}
	if out.Item == nil {
		return nil, false, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, fmt.Errorf("decoding item %s: %w", id, err)
	}
	return []byte(item.Blob), true, nil
}

func (s *DynamoStrategy) FindAll(ctx context.Context) (map[string][]byte, error) {
	out := map[string][]byte{}
	var startKey map[string]dbtypes.AttributeValue
	for {
		page, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    aws.String("entity_type = :t"),
			ExpressionAttributeValues: map[string]dbtypes.AttributeValue{":t": &dbtypes.AttributeValueMemberS{Value: s.entityType}},
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("decoding item: %w", err)
			}
			out[item.ID] = []byte(item.Blob)
		}
		if page.LastEvaluatedKey == nil {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	// overlay buffered transaction state
	s.mu.Lock()
	if s.inTx {
		for id, blob := range s.txPuts {
			out[id] = append([]byte{}, blob...)
		}
		for id := range s.txDeletes {
			delete(out, id)
		}
	}
	s.mu.Unlock()
	return out, nil
}

func (s *DynamoStrategy) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		delete(s.txPuts, id)
		s.txDeletes[id] = true
		return nil
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(id),
	})
	return err
}

func (s *DynamoStrategy) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.FindByID(ctx, id)
	return ok, err
}

func (s *DynamoStrategy) FindByCriteria(ctx context.Context, criteria []Criterion) ([][]byte, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterByCriteria(all, criteria), nil
}

func (s *DynamoStrategy) SaveBatch(ctx context.Context, blobs map[string][]byte) error {
	s.mu.Lock()
	if s.inTx {
		for id, blob := range blobs {
			s.txPuts[id] = append([]byte{}, blob...)
			delete(s.txDeletes, id)
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	var writes []dbtypes.WriteRequest
	for id, blob := range blobs {
		item, err := attributevalue.MarshalMap(dynamoItem{
			EntityType: s.entityType,
			ID:         id,
			Blob:       string(blob),
		})
		if err != nil {
			return fmt.Errorf("encoding item %s: %w", id, err)
		}
		writes = append(writes, dbtypes.WriteRequest{PutRequest: &dbtypes.PutRequest{Item: item}})
	}
	return s.batchWrite(ctx, writes)
}

func (s *DynamoStrategy) DeleteBatch(ctx context.Context, ids []string) error {
	s.mu.Lock()
	if s.inTx {
		for _, id := range ids {
			delete(s.txPuts, id)
			s.txDeletes[id] = true
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	var writes []dbtypes.WriteRequest
	for _, id := range ids {
		writes = append(writes, dbtypes.WriteRequest{DeleteRequest: &dbtypes.DeleteRequest{Key: s.key(id)}})
	}
	return s.batchWrite(ctx, writes)
}

// batchWrite flushes write requests in BatchWriteItem-sized chunks
func (s *DynamoStrategy) batchWrite(ctx context.Context, writes []dbtypes.WriteRequest) error {
	const maxBatch = 25
	for len(writes) > 0 {
		n := len(writes)
		if n > maxBatch {
			n = maxBatch
		}
		chunk := writes[:n]
		writes = writes[n:]
		pending := map[string][]dbtypes.WriteRequest{s.table: chunk}
		for len(pending) > 0 {
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return err
			}
			if len(out.UnprocessedItems) == 0 {
				break
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// BeginTransaction starts buffering writes. Blocks while another
// transaction is in flight.
func (s *DynamoStrategy) BeginTransaction(ctx context.Context) error {
	s.txGate.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = true
	s.txPuts = map[string][]byte{}
	s.txDeletes = map[string]bool{}
	return nil
}

func (s *DynamoStrategy) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	if !s.inTx {
		s.mu.Unlock()
		return fmt.Errorf("no transaction in progress")
	}
	puts := s.txPuts
	deletes := s.txDeletes
	s.inTx = false
	s.txPuts = nil
	s.txDeletes = nil
	s.mu.Unlock()
	defer s.txGate.Unlock()

	if len(puts) > 0 {
		if err := s.SaveBatch(ctx, puts); err != nil {
			return err
		}
	}
	if len(deletes) > 0 {
		ids := make([]string, 0, len(deletes))
		for id := range deletes {
			ids = append(ids, id)
		}
		if err := s.DeleteBatch(ctx, ids); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStrategy) RollbackTransaction(ctx context.Context) error {
	s.mu.Lock()
	if !s.inTx {
		s.mu.Unlock()
		return fmt.Errorf("no transaction in progress")
	}
	s.inTx = false
	s.txPuts = nil
	s.txDeletes = nil
	s.mu.Unlock()
	s.txGate.Unlock()
	return nil
}

func (s *DynamoStrategy) Close() error { return nil }
