package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

func newTestRedisRepository(t *testing.T) (*RedisSessionRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisSessionRepository(client, "test"), mr
}

func TestRedisSessionRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedisRepository(t)

	now := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	s := model.NewSession("s1", 30*time.Minute, now)
	s.Messages = append(s.Messages,
		schema.UserMessage("I want to fly business"),
		schema.AssistantMessage("Business it is.", nil),
	)
	s.Variables["cabin"] = "Business"
	s.Variables["passengers"] = float64(2)
	s.Variables["profile"] = map[string]any{"tier": "gold"}

	require.NoError(t, r.Save(ctx, s))
	assert.True(t, mr.Exists("test:session:s1:meta"))
	assert.Equal(t, 30*time.Minute, mr.TTL("test:session:s1:messages"))

	got, err := r.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Equal(t, 1800, got.TTLSeconds)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, schema.User, got.Messages[0].Role)
	assert.Equal(t, "Business it is.", got.Messages[1].Content)
	assert.Equal(t, "Business", got.Variables["cabin"])
	assert.Equal(t, float64(2), got.Variables["passengers"])
	assert.Equal(t, map[string]any{"tier": "gold"}, got.Variables["profile"])
}

func TestRedisSessionRepositorySaveReplacesState(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedisRepository(t)

	s := model.NewSession("s1", time.Minute, time.Now())
	s.Messages = append(s.Messages, schema.UserMessage("hello"))
	s.Variables["name"] = "Ada"
	require.NoError(t, r.Save(ctx, s))

	s.Reset()
	require.NoError(t, r.Save(ctx, s))

	got, err := r.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
	assert.Empty(t, got.Variables)
}

func TestRedisSessionRepositoryMissing(t *testing.T) {
	r, _ := newTestRedisRepository(t)

	_, err := r.Load(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
}

func TestRedisSessionRepositoryExpires(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedisRepository(t)

	require.NoError(t, r.Save(ctx, model.NewSession("s1", time.Second, time.Now())))
	mr.FastForward(2 * time.Second)

	_, err := r.Load(ctx, "s1")
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
}

func TestRedisSessionRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedisRepository(t)

	require.NoError(t, r.Save(ctx, model.NewSession("s1", time.Minute, time.Now())))
	require.NoError(t, r.Delete(ctx, "s1"))
	assert.False(t, mr.Exists("test:session:s1:meta"))
	require.NoError(t, r.Delete(ctx, "s1"))
}

func TestRedisSessionLease(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedisRepository(t)

	ok, err := r.TryAcquireLease(ctx, "s1", "replica-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryAcquireLease(ctx, "s1", "replica-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not take a held lease")

	ok, err = r.TryAcquireLease(ctx, "s1", "replica-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "owner may refresh its lease")

	require.NoError(t, r.ReleaseLease(ctx, "s1", "replica-b"))
	assert.True(t, mr.Exists("test:session:s1:lease"), "foreign release is ignored")

	require.NoError(t, r.ReleaseLease(ctx, "s1", "replica-a"))
	assert.False(t, mr.Exists("test:session:s1:lease"))
	require.NoError(t, r.ReleaseLease(ctx, "s1", "replica-a"))

	ok, err = r.TryAcquireLease(ctx, "s1", "replica-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	mr.FastForward(2 * time.Minute)
	ok, err = r.TryAcquireLease(ctx, "s1", "replica-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is free")
}
