// Package agent drives a simulated customer against the conversational
// booking endpoint. It exists for end-to-end exercising of the assistant;
// nothing in the serving path depends on it.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dtnewman/appt-booking/internal/chat"
)

// Next actions the simulated customer can declare for its turn.
const (
	ActionAskAvailability = "ask_availability"
	ActionRespondToSlots  = "respond_to_slots"
	ActionProvideDetails  = "provide_details"
	ActionConfirmBooking  = "confirm_booking"
	ActionEndConversation = "end_conversation"
)

// The fixed identity the simulated customer always books under, so test
// bookings are recognizable in the data.
const (
	customerName  = "Daniel Newman"
	customerEmail = "drillbitexample@dtnewman.com"
)

// ErrBadAgentOutput is returned when the model cannot produce a valid
// customer turn within the attempt ceiling.
var ErrBadAgentOutput = errors.New("agent: model output failed schema validation after all attempts")

// Turn is one utterance of the simulated customer.
type Turn struct {
	Message              string `json:"message"`
	ConversationComplete bool   `json:"is_conversation_complete"`
	NextAction           string `json:"next_action"`
}

func (t Turn) validate() error {
	if strings.TrimSpace(t.Message) == "" {
		return fmt.Errorf("message must not be empty")
	}
	switch t.NextAction {
	case ActionAskAvailability, ActionRespondToSlots, ActionProvideDetails,
		ActionConfirmBooking, ActionEndConversation:
		return nil
	default:
		return fmt.Errorf("next_action %q is not one of the allowed actions", t.NextAction)
	}
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Customer produces the simulated customer's side of a conversation.
type Customer struct {
	client   chatClient
	model    string
	timeout  time.Duration
	attempts int
}

func NewCustomer(client chatClient, model string, timeout time.Duration, attempts int) *Customer {
	if client == nil {
		panic("agent: llm client required")
	}
	if model == "" {
		model = "gpt-4o"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if attempts <= 0 {
		attempts = 3
	}
	return &Customer{client: client, model: model, timeout: timeout, attempts: attempts}
}

const customerPrompt = `You are SIMULATING A CUSTOMER who wants to book an appointment. You must ONLY respond as the customer, never as the booking system or receptionist.

Respond with ONLY a JSON object:
{
  "message": "your response as a customer seeking an appointment",
  "is_conversation_complete": boolean (true once the booking is confirmed and you have said thanks),
  "next_action": one of "ask_availability", "respond_to_slots", "provide_details", "confirm_booking", "end_conversation"
}

Guidelines:
1. If starting the conversation, request an appointment for a specific day or time, for example "Hi, I'd like to book an appointment for next Tuesday afternoon".
2. When shown available time slots, ONLY choose from the slots presented to you.
3. When asked for details, give your name as ` + customerName + ` and your email as ` + customerEmail + `.
4. After the booking is confirmed, say thank you.
5. Keep responses natural and customer-like.
6. If nothing is available and the suggested alternatives do not work, politely end the conversation.
7. Do not ask for the same time slot twice. If it is unavailable, pick a different presented slot or end the conversation.
8. NEVER ask for a time slot that was not presented to you.`

// NextTurn produces the customer's reply to the conversation so far. The
// transcript is in booking-service perspective; roles are flipped so the
// model answers as the customer.
func (c *Customer) NextTurn(ctx context.Context, transcript []chat.Message) (Turn, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(transcript)+1+2*c.attempts)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: customerPrompt,
	})
	for _, m := range transcript {
		role := openai.ChatMessageRoleUser
		if m.Role == openai.ChatMessageRoleUser {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	if len(transcript) == 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: "Start the conversation by asking about an appointment.",
		})
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: 0.7,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		cancel()
		if err != nil {
			return Turn{}, fmt.Errorf("agent: completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return Turn{}, fmt.Errorf("agent: completion returned no choices")
		}

		raw := strings.TrimSpace(resp.Choices[0].Message.Content)
		var turn Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			lastErr = fmt.Errorf("not valid JSON: %w", err)
		} else if err := turn.validate(); err != nil {
			lastErr = err
		} else {
			return turn, nil
		}

		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: raw},
			openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Your previous reply was rejected: %v. Respond again with ONLY a JSON object matching the schema.", lastErr),
			},
		)
	}
	return Turn{}, fmt.Errorf("agent: after %d attempts (%v): %w", c.attempts, lastErr, ErrBadAgentOutput)
}
