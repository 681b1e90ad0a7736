package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// scriptedClient plays back canned completions in order and records every
// request it sees.
type scriptedClient struct {
	replies []string
	err     error
	calls   []openai.ChatCompletionRequest
}

func (c *scriptedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.calls = append(c.calls, req)
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	i := len(c.calls) - 1
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: c.replies[i],
			},
		}},
	}, nil
}

func userTurn(content string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: content}}
}

func TestCompleteJSON_RepromptsOnceOnMalformedOutput(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"sure, here you go!",
		`{"value":"ok"}`,
	}}
	caller := newLLMCaller(client, "test-model", time.Second, 3)

	var out struct {
		Value string `json:"value"`
	}
	err := caller.completeJSON(context.Background(), "test", "system", userTurn("hi"), &out, func() error { return nil })
	if err != nil {
		t.Fatalf("completeJSON: %v", err)
	}
	if out.Value != "ok" {
		t.Fatalf("out.Value = %q, want ok", out.Value)
	}
	if len(client.calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", len(client.calls))
	}

	second := client.calls[1].Messages
	last := second[len(second)-1]
	if last.Role != openai.ChatMessageRoleUser || !strings.Contains(last.Content, "rejected") {
		t.Fatalf("second request must end with a correction notice, got %+v", last)
	}
	prev := second[len(second)-2]
	if prev.Role != openai.ChatMessageRoleAssistant || prev.Content != "sure, here you go!" {
		t.Fatalf("correction must quote the bad reply, got %+v", prev)
	}
}

func TestCompleteJSON_RepromptsOnFailedCheck(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"value":""}`,
		`{"value":"ok"}`,
	}}
	caller := newLLMCaller(client, "test-model", time.Second, 3)

	var out struct {
		Value string `json:"value"`
	}
	check := func() error {
		if out.Value == "" {
			return errors.New("value must not be empty")
		}
		return nil
	}
	if err := caller.completeJSON(context.Background(), "test", "system", userTurn("hi"), &out, check); err != nil {
		t.Fatalf("completeJSON: %v", err)
	}
	if len(client.calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", len(client.calls))
	}
}

func TestCompleteJSON_CorrectedReplyMayOmitRejectedField(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"is_availability_request":true,"start_date":"March 5"}`,
		`{"is_availability_request":true}`,
	}}
	caller := newLLMCaller(client, "test-model", time.Second, 3)

	var intent AvailabilityIntent
	check := func() error { return intent.validate() }
	if err := caller.completeJSON(context.Background(), "test", "system", userTurn("any day works"), &intent, check); err != nil {
		t.Fatalf("completeJSON: %v", err)
	}
	if len(client.calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", len(client.calls))
	}
	if !intent.IsAvailabilityRequest {
		t.Fatal("is_availability_request lost from the corrected reply")
	}
	if intent.StartDate != "" {
		t.Fatalf("start_date = %q, want empty: the rejected value must not survive the re-prompt", intent.StartDate)
	}
}

func TestCompleteJSON_ExhaustsAttempts(t *testing.T) {
	client := &scriptedClient{replies: []string{"not json"}}
	caller := newLLMCaller(client, "test-model", time.Second, 3)

	var out struct{}
	err := caller.completeJSON(context.Background(), "test", "system", userTurn("hi"), &out, func() error { return nil })
	if !errors.Is(err, ErrSchemaAttempts) {
		t.Fatalf("expected ErrSchemaAttempts, got %v", err)
	}
	if len(client.calls) != 3 {
		t.Fatalf("expected the attempt ceiling of 3 calls, got %d", len(client.calls))
	}
}

func TestCompleteJSON_NoRetryOnTransportError(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	caller := newLLMCaller(client, "test-model", time.Second, 3)

	var out struct{}
	err := caller.completeJSON(context.Background(), "test", "system", userTurn("hi"), &out, func() error { return nil })
	if err == nil || errors.Is(err, ErrSchemaAttempts) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("transport errors must not be retried, got %d calls", len(client.calls))
	}
}

func TestCompleteJSON_SetsDeterministicRequest(t *testing.T) {
	client := &scriptedClient{replies: []string{`{}`}}
	caller := newLLMCaller(client, "test-model", time.Second, 3)

	var out struct{}
	if err := caller.completeJSON(context.Background(), "test", "system", userTurn("hi"), &out, func() error { return nil }); err != nil {
		t.Fatalf("completeJSON: %v", err)
	}
	req := client.calls[0]
	if req.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", req.Temperature)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Error("expected JSON object response format")
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Error("expected system prompt first")
	}
}

func TestDecodeInto(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"plain", `{"value":"ok"}`},
		{"fenced", "```json\n{\"value\":\"ok\"}\n```"},
		{"bare fence", "```\n{\"value\":\"ok\"}\n```"},
		{"prose wrapped", `Here is the result: {"value":"ok"} hope that helps`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out struct {
				Value string `json:"value"`
			}
			if err := decodeInto(tc.raw, &out); err != nil {
				t.Fatalf("decodeInto: %v", err)
			}
			if out.Value != "ok" {
				t.Fatalf("value = %q, want ok", out.Value)
			}
		})
	}

	var out struct{}
	if err := decodeInto("no braces here", &out); err == nil {
		t.Fatal("expected error for non-JSON input")
	}
}

func TestDecodeInto_ClearsPreviousDecode(t *testing.T) {
	var out struct {
		Value string `json:"value"`
		Extra string `json:"extra"`
	}
	if err := decodeInto(`{"value":"stale","extra":"keep?"}`, &out); err != nil {
		t.Fatalf("decodeInto: %v", err)
	}
	if err := decodeInto(`{"value":"fresh"}`, &out); err != nil {
		t.Fatalf("decodeInto: %v", err)
	}
	if out.Value != "fresh" {
		t.Fatalf("value = %q, want fresh", out.Value)
	}
	if out.Extra != "" {
		t.Fatalf("extra = %q, want empty after a decode that omits it", out.Extra)
	}
}
