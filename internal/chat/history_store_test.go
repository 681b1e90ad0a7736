package chat

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (HistoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisHistoryStore(client, nil), mr
}

func TestRedisHistoryStore_RoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	history := []Message{
		{Role: "user", Content: "anything thursday?"},
		{Role: "assistant", Content: "Thursday at 9:00 AM is open."},
	}
	if err := store.Save(ctx, "conv-1", history); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[1].Content != history[1].Content {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRedisHistoryStore_UnknownConversation(t *testing.T) {
	store, _ := newTestRedisStore(t)

	got, err := store.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unknown conversation must not error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil history, got %+v", got)
	}
}

func TestRedisHistoryStore_ExpiresAfterTTL(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "conv-1", []Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL(conversationKey("conv-1")); ttl != conversationTTL {
		t.Fatalf("TTL = %s, want %s", ttl, conversationTTL)
	}

	mr.FastForward(25 * time.Hour)
	got, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatal("expected history to expire")
	}
}
