package reidstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), client, mr
}

func TestRedisStore(t *testing.T) {
	s, _, _ := newTestRedisStore(t)
	storeContract(t, s)
}

func TestRedisStoreKeyLayout(t *testing.T) {
	s, client, mr := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutPage(ctx, samplePage("doc", 7, "Ravi")))

	assert.True(t, mr.Exists("reid:map:doc"))
	fields, err := client.HKeys(ctx, "reid:map:doc").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, fields)
	name, err := client.Get(ctx, "reid:map:doc:name").Result()
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", name)
}

func TestRedisStoreRejectsBadPageField(t *testing.T) {
	s, client, _ := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, client.HSet(ctx, "reid:map:doc", "seven", `{"replacements":[]}`).Err())
	_, err := s.Load(ctx, "doc")
	assert.Error(t, err)
}

func TestRedisStoreLoadFailsWhenServerDown(t *testing.T) {
	s, _, mr := newTestRedisStore(t)
	mr.Close()
	_, err := s.Load(context.Background(), "doc")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewRedisStorePanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewRedisStore(nil) })
}
