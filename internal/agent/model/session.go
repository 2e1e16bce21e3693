package model

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// DefaultSessionTTL applies when neither the request nor the config sets one.
const DefaultSessionTTL = 30 * time.Minute

// Session is the durable conversational context keyed by ID.
// Expiry is derived from LastActiveAt and TTLSeconds.
type Session struct {
	ID           string            `json:"session_id"`
	Messages     []*schema.Message `json:"messages"`
	Variables    map[string]any    `json:"variables"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
	TTLSeconds   int               `json:"ttl_seconds"`
}

// NewSession returns an empty session stamped at now.
func NewSession(id string, ttl time.Duration, now time.Time) *Session {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Session{
		ID:           id,
		Messages:     []*schema.Message{},
		Variables:    map[string]any{},
		CreatedAt:    now,
		LastActiveAt: now,
		TTLSeconds:   int(ttl / time.Second),
	}
}

func (s *Session) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

func (s *Session) ExpiresAt() time.Time {
	return s.LastActiveAt.Add(s.TTL())
}

// Expired reports now > last_active_at + ttl.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt())
}

// Touch refreshes the activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.LastActiveAt = now
}

// Reset empties messages and variables while keeping id and TTL.
func (s *Session) Reset() {
	s.Messages = []*schema.Message{}
	s.Variables = map[string]any{}
}

// Clone returns a copy whose slices and maps can be mutated independently.
// Message pointers are copied shallowly; messages are never edited in place.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]*schema.Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	c.Variables = make(map[string]any, len(s.Variables))
	for k, v := range s.Variables {
		c.Variables[k] = v
	}
	return &c
}

// TrimMessages keeps at most max trailing messages. Leading system messages
// are preserved so the conversation keeps its base instructions.
func (s *Session) TrimMessages(max int) {
	if max <= 0 || len(s.Messages) <= max {
		return
	}
	var head []*schema.Message
	for _, m := range s.Messages {
		if m == nil || m.Role != schema.System {
			break
		}
		head = append(head, m)
	}
	if len(head) >= max {
		s.Messages = head[:max]
		return
	}
	tail := s.Messages[len(s.Messages)-(max-len(head)):]
	out := make([]*schema.Message, 0, max)
	out = append(out, head...)
	out = append(out, tail...)
	s.Messages = out
}

// LastAssistantContent returns the most recent assistant text, or "".
func (s *Session) LastAssistantContent() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if m := s.Messages[i]; m != nil && m.Role == schema.Assistant {
			return m.Content
		}
	}
	return ""
}
