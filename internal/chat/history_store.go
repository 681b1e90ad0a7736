package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const conversationTTL = 24 * time.Hour

// Message is one turn of a conversation as stored and exposed over the API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryStore persists conversation transcripts. Implementations keep at
// most 24 hours of history per conversation.
type HistoryStore interface {
	Save(ctx context.Context, conversationID string, history []Message) error
	Load(ctx context.Context, conversationID string) ([]Message, error)
}

type redisHistoryStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewRedisHistoryStore builds a HistoryStore backed by redis with a 24h TTL
// per conversation.
func NewRedisHistoryStore(client *redis.Client, tracer trace.Tracer) HistoryStore {
	if client == nil {
		panic("chat: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("apptbooking.internal.chat.history")
	}
	return &redisHistoryStore{redis: client, tracer: tracer}
}

func (s *redisHistoryStore) Save(ctx context.Context, conversationID string, history []Message) error {
	ctx, span := s.tracer.Start(ctx, "chat.save_history")
	defer span.End()

	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: failed to marshal history: %w", err)
	}
	if err := s.redis.Set(ctx, conversationKey(conversationID), data, conversationTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: failed to persist history: %w", err)
	}
	return nil
}

// Load returns the stored transcript, or nil when the conversation is
// unknown or expired.
func (s *redisHistoryStore) Load(ctx context.Context, conversationID string) ([]Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.load_history")
	defer span.End()

	data, err := s.redis.Get(ctx, conversationKey(conversationID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("chat: failed to load history: %w", err)
	}

	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: failed to decode history: %w", err)
	}
	return history, nil
}

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}
