package agent

import (
	"context"
	"fmt"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dtnewman/appt-booking/internal/chat"
	"github.com/dtnewman/appt-booking/pkg/logging"
)

const defaultMaxTurns = 12

// ChatService is the booking assistant the simulated customer talks to.
// *chat.Service satisfies it in-process; HTTPChat satisfies it over the
// wire.
type ChatService interface {
	Respond(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// Exchange is one customer/assistant round recorded by a run.
type Exchange struct {
	Customer  Turn
	Assistant *chat.Response
}

// RunResult is the outcome of a simulated conversation.
type RunResult struct {
	ConversationID string
	Exchanges      []Exchange
	Completed      bool
	Booking        *chat.BookingDetails
}

// Runner alternates the simulated customer with the booking assistant
// until the customer declares the conversation complete, the turn ceiling
// is hit, or the runner is stopped.
type Runner struct {
	customer *Customer
	chat     ChatService
	logger   *logging.Logger
	maxTurns int
	stopped  atomic.Bool
}

func NewRunner(customer *Customer, chatSvc ChatService, logger *logging.Logger, maxTurns int) *Runner {
	if customer == nil {
		panic("agent: customer is required")
	}
	if chatSvc == nil {
		panic("agent: chat service is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Runner{customer: customer, chat: chatSvc, logger: logger, maxTurns: maxTurns}
}

// Stop requests a cooperative halt; the current exchange finishes first.
func (r *Runner) Stop() {
	r.stopped.Store(true)
}

// Run drives the conversation and returns the recorded exchanges. A hit
// turn ceiling or a Stop call is not an error; the result simply reports
// Completed=false.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}
	var transcript []chat.Message

	for turn := 0; turn < r.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("agent: run canceled: %w", err)
		}
		if r.stopped.Load() {
			r.logger.Info("agent run stopped", "turns", turn)
			return result, nil
		}

		customerTurn, err := r.customer.NextTurn(ctx, transcript)
		if err != nil {
			return result, err
		}
		r.logger.Info("customer turn",
			"turn", turn, "action", customerTurn.NextAction, "message", customerTurn.Message)

		if customerTurn.ConversationComplete || customerTurn.NextAction == ActionEndConversation {
			result.Exchanges = append(result.Exchanges, Exchange{Customer: customerTurn})
			result.Completed = customerTurn.ConversationComplete
			return result, nil
		}

		reply, err := r.chat.Respond(ctx, chat.Request{
			ConversationID: result.ConversationID,
			Message:        customerTurn.Message,
		})
		if err != nil {
			return result, fmt.Errorf("agent: assistant turn failed: %w", err)
		}
		result.ConversationID = reply.ConversationID
		result.Exchanges = append(result.Exchanges, Exchange{Customer: customerTurn, Assistant: reply})
		if reply.Booking != nil {
			result.Booking = reply.Booking
		}
		r.logger.Info("assistant turn", "turn", turn, "message", reply.Message, "slots", len(reply.Slots))

		transcript = append(transcript,
			chat.Message{Role: openai.ChatMessageRoleUser, Content: customerTurn.Message},
			chat.Message{Role: openai.ChatMessageRoleAssistant, Content: reply.Message},
		)
	}

	r.logger.Warn("agent run hit turn ceiling", "max_turns", r.maxTurns)
	return result, nil
}
