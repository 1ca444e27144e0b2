package reidstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
)

const redisKeyPrefix = "reid:map:"

func redisMapKey(docID string) string  { return redisKeyPrefix + docID }
func redisNameKey(docID string) string { return redisKeyPrefix + docID + ":name" }

// RedisStore keeps a hash per document with one field per page, so a page
// update is a single HSET and never touches other pages.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("reidstore: redis client required")
	}
	return &RedisStore{client: client}
}

// PutPage implements Store.
func (s *RedisStore) PutPage(ctx context.Context, page redact.PageSet) error {
	if err := validatePage(page); err != nil {
		return err
	}
	data, err := marshalPage(page)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisMapKey(page.DocID), strconv.Itoa(page.PageNumber), data)
	if page.DocName != "" {
		pipe.Set(ctx, redisNameKey(page.DocID), page.DocName, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reidstore: redis put page %d of %s: %w", page.PageNumber, page.DocID, err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, docID string) (*reid.DocumentMap, error) {
	if err := ValidateDocID(docID); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, redisMapKey(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reidstore: redis load %s: %w", docID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	name, err := s.client.Get(ctx, redisNameKey(docID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reidstore: redis load name of %s: %w", docID, err)
	}

	m := reid.NewDocumentMap(docID, name)
	for field, raw := range fields {
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("reidstore: redis page field %q of %s: %w", field, docID, err)
		}
		p, err := unmarshalPage([]byte(raw))
		if err != nil {
			return nil, err
		}
		m.Pages[n] = p
	}
	return m, nil
}
