package redaction

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/raaihank/doc-sentinel/internal/config"
)

// BatchWriteItem accepts at most 25 requests
const dynamoBatchSize = 25

const maxUnprocessedRetries = 5

type dynamoAPI interface {
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// MappingItem is one token row of the mapping table. exportId is the
// partition key and token the sort key.
type MappingItem struct {
	ExportID     string   `dynamodbav:"exportId"`
	Token        string   `dynamodbav:"token"`
	Type         string   `dynamodbav:"type"`
	Original     string   `dynamodbav:"original"`
	DocID        string   `dynamodbav:"docId"`
	BlockID      string   `dynamodbav:"blockId"`
	DocumentName string   `dynamodbav:"documentName"`
	Merged       []string `dynamodbav:"merged,omitempty,stringset"`
	GeneratedAt  string   `dynamodbav:"generatedAt"` // RFC3339
}

// DynamoMappingWriter stores mappings one item per token so the table can
// carry its own access policy.
type DynamoMappingWriter struct {
	client dynamoAPI
	table  string
	sleep  func(time.Duration)
}

// NewDynamoMappingWriter builds a DynamoDB client
func NewDynamoMappingWriter(ctx context.Context, cfg config.DynamoDBConfig) (*DynamoMappingWriter, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.Region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &DynamoMappingWriter{client: client, table: cfg.Table, sleep: time.Sleep}, nil
}

func toMappingItems(exportID string, m *Mapping) []MappingItem {
	names := make(map[string]string, len(m.Documents))
	for _, d := range m.Documents {
		names[d.DocID] = d.OriginalName
	}

	items := make([]MappingItem, 0, len(m.Entities))
	for _, e := range m.Entities {
		items = append(items, MappingItem{
			ExportID:     exportID,
			Token:        e.Token,
			Type:         string(e.Type),
			Original:     e.Original,
			DocID:        e.DocID,
			BlockID:      e.BlockID,
			DocumentName: names[e.DocID],
			Merged:       e.Merged,
			GeneratedAt:  m.GeneratedAt,
		})
	}
	return items
}

func (w *DynamoMappingWriter) WriteMapping(ctx context.Context, exportID, _ string, m *Mapping) (string, error) {
	items := toMappingItems(exportID, m)

	for start := 0; start < len(items); start += dynamoBatchSize {
		end := start + dynamoBatchSize
		if end > len(items) {
			end = len(items)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for i := start; i < end; i++ {
			av, err := attributevalue.MarshalMap(items[i])
			if err != nil {
				return "", fmt.Errorf("failed to marshal mapping item: %w", err)
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}

		if err := w.writeBatch(ctx, requests); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("dynamodb://%s/%s", w.table, exportID), nil
}

// DeleteMapping removes the items written for exportID
func (w *DynamoMappingWriter) DeleteMapping(ctx context.Context, exportID, _ string, m *Mapping) error {
	items := toMappingItems(exportID, m)

	for start := 0; start < len(items); start += dynamoBatchSize {
		end := start + dynamoBatchSize
		if end > len(items) {
			end = len(items)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for i := start; i < end; i++ {
			key, err := attributevalue.MarshalMap(struct {
				ExportID string `dynamodbav:"exportId"`
				Token    string `dynamodbav:"token"`
			}{items[i].ExportID, items[i].Token})
			if err != nil {
				return fmt.Errorf("failed to marshal mapping key: %w", err)
			}
			requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
		}

		if err := w.writeBatch(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func (w *DynamoMappingWriter) writeBatch(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{w.table: requests}

	for attempt := 0; len(pending[w.table]) > 0; attempt++ {
		if attempt > maxUnprocessedRetries {
			return fmt.Errorf("mapping batch: %d items left unprocessed", len(pending[w.table]))
		}
		if attempt > 0 {
			w.sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}

		out, err := w.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("failed to write mapping batch: %w", err)
		}
		pending = out.UnprocessedItems
		if pending == nil {
			pending = map[string][]types.WriteRequest{}
		}
	}
	return nil
}
