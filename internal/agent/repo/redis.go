package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

const (
	fieldCreatedAt    = "created_at"
	fieldLastActiveAt = "last_active_at"
	fieldTTLSeconds   = "ttl_seconds"
)

// RedisSessionRepository stores a session under three keys: a meta hash,
// a message list and a variable hash. All three share the session TTL.
type RedisSessionRepository struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisSessionRepository(rdb redis.Cmdable, prefix string) *RedisSessionRepository {
	return &RedisSessionRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisSessionRepository) key(sessionID, part string) string {
	if r.prefix == "" {
		return fmt.Sprintf("session:%s:%s", sessionID, part)
	}
	return fmt.Sprintf("%s:session:%s:%s", r.prefix, sessionID, part)
}

func (r *RedisSessionRepository) keys(sessionID string) (meta, messages, variables string) {
	return r.key(sessionID, "meta"), r.key(sessionID, "messages"), r.key(sessionID, "variables")
}

func (r *RedisSessionRepository) Load(ctx context.Context, sessionID string) (*model.Session, error) {
	metaKey, msgKey, varKey := r.keys(sessionID)

	pipe := r.rdb.Pipeline()
	metaCmd := pipe.HGetAll(ctx, metaKey)
	msgCmd := pipe.LRange(ctx, msgKey, 0, -1)
	varCmd := pipe.HGetAll(ctx, varKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session from redis")
		return nil, errx.WrapRedis(err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return nil, errx.SessionNotFound(sessionID)
	}

	s := &model.Session{ID: sessionID, Messages: []*schema.Message{}, Variables: map[string]any{}}
	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, meta[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("parse %s of session %s: %w", fieldCreatedAt, sessionID, err)
	}
	if s.LastActiveAt, err = time.Parse(time.RFC3339Nano, meta[fieldLastActiveAt]); err != nil {
		return nil, fmt.Errorf("parse %s of session %s: %w", fieldLastActiveAt, sessionID, err)
	}
	if s.TTLSeconds, err = strconv.Atoi(meta[fieldTTLSeconds]); err != nil {
		return nil, fmt.Errorf("parse %s of session %s: %w", fieldTTLSeconds, sessionID, err)
	}

	for i, row := range msgCmd.Val() {
		var m schema.Message
		if err := json.Unmarshal([]byte(row), &m); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		s.Messages = append(s.Messages, &m)
	}
	for id, raw := range varCmd.Val() {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			logx.Warn().Err(err).Str("session_id", sessionID).Str("variable_id", id).Msg("dropping undecodable variable")
			continue
		}
		s.Variables[id] = v
	}
	return s, nil
}

func (r *RedisSessionRepository) Save(ctx context.Context, s *model.Session) error {
	metaKey, msgKey, varKey := r.keys(s.ID)

	msgs := make([]any, 0, len(s.Messages))
	for _, m := range s.Messages {
		b, err := json.Marshal(m)
		if err != nil {
			logx.Error().Err(err).Str("session_id", s.ID).Msg("failed to marshal message")
			return fmt.Errorf("marshal message: %w", err)
		}
		msgs = append(msgs, b)
	}
	vars := make(map[string]any, len(s.Variables))
	for id, v := range s.Variables {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal variable %q: %w", id, err)
		}
		vars[id] = string(b)
	}

	ttl := s.TTL()
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, msgKey, varKey)
		pipe.HSet(ctx, metaKey, map[string]any{
			fieldCreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339Nano),
			fieldLastActiveAt: s.LastActiveAt.UTC().Format(time.RFC3339Nano),
			fieldTTLSeconds:   strconv.Itoa(s.TTLSeconds),
		})
		if len(msgs) > 0 {
			pipe.RPush(ctx, msgKey, msgs...)
		}
		if len(vars) > 0 {
			pipe.HSet(ctx, varKey, vars)
		}
		// extend TTL on touch
		if ttl > 0 {
			pipe.Expire(ctx, metaKey, ttl)
			pipe.Expire(ctx, msgKey, ttl)
			pipe.Expire(ctx, varKey, ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("session_id", s.ID).Msg("failed to save session to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, sessionID string) error {
	metaKey, msgKey, varKey := r.keys(sessionID)
	if err := r.rdb.Del(ctx, metaKey, msgKey, varKey).Err(); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisSessionRepository) Close() error {
	return nil
}

var _ model.SessionRepository = (*RedisSessionRepository)(nil)
