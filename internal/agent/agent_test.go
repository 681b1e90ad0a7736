package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dtnewman/appt-booking/internal/chat"
	"github.com/dtnewman/appt-booking/pkg/logging"
)

type scriptedClient struct {
	replies []string
	calls   []openai.ChatCompletionRequest
}

func (c *scriptedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.calls = append(c.calls, req)
	i := len(c.calls) - 1
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: c.replies[i]},
		}},
	}, nil
}

type scriptedChat struct {
	replies []*chat.Response
	calls   []chat.Request
	err     error
}

func (s *scriptedChat) Respond(ctx context.Context, req chat.Request) (*chat.Response, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.calls) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

func newTestCustomer(client chatClient) *Customer {
	return NewCustomer(client, "test-model", time.Second, 3)
}

func TestNextTurn_ParsesCustomerTurn(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"message":"Hi, anything open Tuesday afternoon?","is_conversation_complete":false,"next_action":"ask_availability"}`,
	}}
	c := newTestCustomer(client)

	turn, err := c.NextTurn(context.Background(), nil)
	if err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	if turn.NextAction != ActionAskAvailability {
		t.Fatalf("next_action = %q", turn.NextAction)
	}
	if turn.ConversationComplete {
		t.Fatal("opening turn must not be complete")
	}
}

func TestNextTurn_RepromptsOnBadAction(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"message":"hello","is_conversation_complete":false,"next_action":"do_something_weird"}`,
		`{"message":"hello","is_conversation_complete":false,"next_action":"ask_availability"}`,
	}}
	c := newTestCustomer(client)

	turn, err := c.NextTurn(context.Background(), nil)
	if err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	if len(client.calls) != 2 {
		t.Fatalf("expected one re-prompt, got %d calls", len(client.calls))
	}
	if turn.NextAction != ActionAskAvailability {
		t.Fatalf("next_action = %q", turn.NextAction)
	}
}

func TestNextTurn_ExhaustsAttempts(t *testing.T) {
	client := &scriptedClient{replies: []string{"not json"}}
	c := newTestCustomer(client)

	_, err := c.NextTurn(context.Background(), nil)
	if !errors.Is(err, ErrBadAgentOutput) {
		t.Fatalf("expected ErrBadAgentOutput, got %v", err)
	}
	if len(client.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(client.calls))
	}
}

func TestNextTurn_FlipsTranscriptRoles(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"message":"The 9 AM works.","is_conversation_complete":false,"next_action":"respond_to_slots"}`,
	}}
	c := newTestCustomer(client)

	transcript := []chat.Message{
		{Role: openai.ChatMessageRoleUser, Content: "anything thursday?"},
		{Role: openai.ChatMessageRoleAssistant, Content: "Thursday at 9:00 AM is open."},
	}
	if _, err := c.NextTurn(context.Background(), transcript); err != nil {
		t.Fatalf("NextTurn: %v", err)
	}

	msgs := client.calls[0].Messages
	// The customer's own words become assistant turns for the model; the
	// booking service's words become user turns.
	if msgs[1].Role != openai.ChatMessageRoleAssistant || msgs[1].Content != "anything thursday?" {
		t.Fatalf("customer turn not flipped: %+v", msgs[1])
	}
	if msgs[2].Role != openai.ChatMessageRoleUser {
		t.Fatalf("service turn not flipped: %+v", msgs[2])
	}
}

func TestRunner_CompletesConversation(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"message":"Hi, anything Thursday?","is_conversation_complete":false,"next_action":"ask_availability"}`,
		`{"message":"The 9 AM slot works. I'm Daniel Newman, drillbitexample@dtnewman.com.","is_conversation_complete":false,"next_action":"provide_details"}`,
		`{"message":"Thanks for booking me in!","is_conversation_complete":true,"next_action":"end_conversation"}`,
	}}
	chatSvc := &scriptedChat{replies: []*chat.Response{
		{ConversationID: "conv-1", Message: "Thursday at 9:00 AM is open.", Slots: []chat.OfferedSlot{{SlotID: "s1"}}},
		{ConversationID: "conv-1", Message: "You're all set for Thursday at 9:00 AM.",
			Booking: &chat.BookingDetails{HasBookingDetails: true, Name: "Daniel Newman", Email: "drillbitexample@dtnewman.com"}},
	}}
	r := NewRunner(newTestCustomer(client), chatSvc, logging.Default(), 10)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Completed {
		t.Fatal("expected completed conversation")
	}
	if len(chatSvc.calls) != 2 {
		t.Fatalf("expected 2 assistant turns, got %d", len(chatSvc.calls))
	}
	if chatSvc.calls[1].ConversationID != "conv-1" {
		t.Fatal("follow-up turns must reuse the conversation id")
	}
	if result.Booking == nil || result.Booking.Email != "drillbitexample@dtnewman.com" {
		t.Fatalf("booking details not captured: %+v", result.Booking)
	}
}

func TestRunner_StopsAtTurnCeiling(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"message":"Anything at all?","is_conversation_complete":false,"next_action":"ask_availability"}`,
	}}
	chatSvc := &scriptedChat{replies: []*chat.Response{
		{ConversationID: "conv-1", Message: "Nothing open, sorry."},
	}}
	r := NewRunner(newTestCustomer(client), chatSvc, logging.Default(), 3)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Completed {
		t.Fatal("ceiling-limited run must not report completion")
	}
	if len(chatSvc.calls) != 3 {
		t.Fatalf("expected exactly maxTurns assistant calls, got %d", len(chatSvc.calls))
	}
}

func TestRunner_Stop(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"message":"Anything?","is_conversation_complete":false,"next_action":"ask_availability"}`,
	}}
	chatSvc := &scriptedChat{replies: []*chat.Response{{ConversationID: "c", Message: "hi"}}}
	r := NewRunner(newTestCustomer(client), chatSvc, logging.Default(), 10)
	r.Stop()

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Exchanges) != 0 {
		t.Fatal("stopped runner must not exchange turns")
	}
}

func TestRunner_CanceledContext(t *testing.T) {
	r := NewRunner(newTestCustomer(&scriptedClient{replies: []string{`{}`}}), &scriptedChat{}, logging.Default(), 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPChat_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chat.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(chat.Response{ConversationID: "conv-1", Message: "echo: " + req.Message})
	}))
	defer srv.Close()

	hc := NewHTTPChat(srv.URL, srv.Client())
	resp, err := hc.Respond(context.Background(), chat.Request{Message: "hello"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(resp.Message, "hello") {
		t.Fatalf("unexpected reply: %+v", resp)
	}
}

func TestHTTPChat_SurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"upstream_error"}}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	hc := NewHTTPChat(srv.URL, srv.Client())
	if _, err := hc.Respond(context.Background(), chat.Request{Message: "hello"}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
