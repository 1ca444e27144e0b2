package reidstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// pageItem is one page of a document, keyed by docId (partition) and
// pageNumber (sort).
type pageItem struct {
	DocID        string      `dynamodbav:"docId"`
	PageNumber   int         `dynamodbav:"pageNumber"`
	DocName      string      `dynamodbav:"docName,omitempty"`
	Replacements []entryItem `dynamodbav:"replacements"`
	UpdatedAt    string      `dynamodbav:"updatedAt"`
}

type entryItem struct {
	EntityID         string `dynamodbav:"entityId"`
	EntityType       string `dynamodbav:"entityType"`
	OriginalText     string `dynamodbav:"originalText"`
	ReplacementToken string `dynamodbav:"replacementToken"`
	OrderIndex       int    `dynamodbav:"orderIndex"`
	Start            int    `dynamodbav:"start"`
	End              int    `dynamodbav:"end"`
}

// DynamoStore keeps one item per page, so a page update is a single PutItem.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string) *DynamoStore {
	if client == nil {
		panic("reidstore: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("reidstore: table name cannot be empty")
	}
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

// PutPage implements Store.
func (s *DynamoStore) PutPage(ctx context.Context, page redact.PageSet) error {
	if err := validatePage(page); err != nil {
		return err
	}
	item := pageItem{
		DocID:        page.DocID,
		PageNumber:   page.PageNumber,
		DocName:      page.DocName,
		Replacements: make([]entryItem, 0, len(page.Replacements)),
		UpdatedAt:    s.now().UTC().Format(time.RFC3339Nano),
	}
	for _, e := range page.Replacements {
		item.Replacements = append(item.Replacements, entryItem{
			EntityID:         e.EntityID,
			EntityType:       string(e.EntityType),
			OriginalText:     e.OriginalText,
			ReplacementToken: e.ReplacementToken,
			OrderIndex:       e.OrderIndex,
			Start:            e.Start,
			End:              e.End,
		})
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("reidstore: marshal page item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("reidstore: put page %d of %s: %w", page.PageNumber, page.DocID, err)
	}
	return nil
}

// Load implements Store.
func (s *DynamoStore) Load(ctx context.Context, docID string) (*reid.DocumentMap, error) {
	if err := ValidateDocID(docID); err != nil {
		return nil, err
	}
	m := reid.NewDocumentMap(docID, "")
	var start map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("docId = :d"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":d": &types.AttributeValueMemberS{Value: docID},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("reidstore: query pages of %s: %w", docID, err)
		}
		var items []pageItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("reidstore: unmarshal pages of %s: %w", docID, err)
		}
		for _, it := range items {
			if m.DocName == "" {
				m.DocName = it.DocName
			}
			m.Pages[it.PageNumber] = it.page()
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	if len(m.Pages) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

func (it pageItem) page() reid.Page {
	p := reid.Page{Replacements: make([]redact.Entry, 0, len(it.Replacements))}
	for _, e := range it.Replacements {
		p.Replacements = append(p.Replacements, redact.Entry{
			EntityID:         e.EntityID,
			EntityType:       ensemble.EntityType(e.EntityType),
			OriginalText:     e.OriginalText,
			ReplacementToken: e.ReplacementToken,
			OrderIndex:       e.OrderIndex,
			Start:            e.Start,
			End:              e.End,
		})
	}
	return p
}
