package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dtnewman/appt-booking/internal/scheduling"
	"github.com/dtnewman/appt-booking/pkg/logging"
)

var chatTracer = otel.Tracer("apptbooking.internal.chat")

var conversationTurnsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "apptbooking",
		Subsystem: "chat",
		Name:      "conversation_turns_total",
		Help:      "Conversation turns processed, by detected intent",
	},
	[]string{"intent"},
)

func init() {
	prometheus.MustRegister(conversationTurnsTotal)
}

// ErrEmptyMessage is returned when a turn carries no user message to answer.
var ErrEmptyMessage = errors.New("chat: no user message to respond to")

// Scheduler is the slice of the scheduling service the conversation layer
// queries. It never books; bookings go through the booking endpoint.
type Scheduler interface {
	Availability(ctx context.Context, f scheduling.Filter) ([]scheduling.Slot, error)
}

// Request is one inbound conversation turn. Clients either reference a
// server-held transcript by conversation_id or carry their own transcript
// in messages; message is the new user turn in both cases.
type Request struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	Message        string    `json:"message"`
	Messages       []Message `json:"messages,omitempty"`
}

// Response is the assistant's turn. Slots is set when the turn presented
// concrete availability; Booking is set when the customer has supplied
// everything needed to book, without implying the booking happened.
type Response struct {
	ConversationID string          `json:"conversation_id"`
	Message        string          `json:"message"`
	Slots          []OfferedSlot   `json:"slots,omitempty"`
	Booking        *BookingDetails `json:"booking,omitempty"`
}

// Service drives the conversational layer: classify the turn, query
// availability when asked, curate what to offer, and surface booking
// details once the customer commits.
type Service struct {
	intents        *IntentClient
	scheduler      Scheduler
	history        HistoryStore
	logger         *logging.Logger
	candidateLimit int
	presentLimit   int
	now            func() time.Time
}

func NewService(intents *IntentClient, scheduler Scheduler, history HistoryStore, logger *logging.Logger, candidateLimit, presentLimit int) *Service {
	if intents == nil {
		panic("chat: intent client is required")
	}
	if scheduler == nil {
		panic("chat: scheduler is required")
	}
	if history == nil {
		panic("chat: history store is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if candidateLimit <= 0 {
		candidateLimit = 20
	}
	if presentLimit <= 0 {
		presentLimit = 8
	}
	return &Service{
		intents:        intents,
		scheduler:      scheduler,
		history:        history,
		logger:         logger,
		candidateLimit: candidateLimit,
		presentLimit:   presentLimit,
		now:            time.Now,
	}
}

// Respond processes one conversation turn and returns the assistant reply.
func (s *Service) Respond(ctx context.Context, req Request) (*Response, error) {
	ctx, span := chatTracer.Start(ctx, "chat.respond")
	defer span.End()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	transcript, err := s.transcript(ctx, req, conversationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	history := toOpenAI(transcript)
	now := s.now()

	intent, err := s.intents.ClassifyAvailability(ctx, history, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	resp := &Response{ConversationID: conversationID}
	if intent.IsAvailabilityRequest {
		conversationTurnsTotal.WithLabelValues("availability").Inc()
		if err := s.respondAvailability(ctx, resp, history, intent, now); err != nil {
			span.RecordError(err)
			return nil, err
		}
	} else {
		conversationTurnsTotal.WithLabelValues("general").Inc()
		if err := s.respondGeneral(ctx, resp, history, now); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	transcript = append(transcript, Message{Role: openai.ChatMessageRoleAssistant, Content: resp.Message})
	if err := s.history.Save(ctx, conversationID, transcript); err != nil {
		// The reply already exists; losing one turn of persistence is
		// better than failing the turn.
		s.logger.Warn("failed to persist conversation history",
			"conversation_id", conversationID, "error", err)
	}
	return resp, nil
}

// transcript assembles the prior turns plus the new user message. A
// client-supplied transcript wins over the stored one.
func (s *Service) transcript(ctx context.Context, req Request, conversationID string) ([]Message, error) {
	var transcript []Message
	if len(req.Messages) > 0 {
		transcript = append(transcript, req.Messages...)
	} else if req.ConversationID != "" {
		stored, err := s.history.Load(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		transcript = stored
	}

	if msg := strings.TrimSpace(req.Message); msg != "" {
		transcript = append(transcript, Message{Role: openai.ChatMessageRoleUser, Content: msg})
	}
	if len(transcript) == 0 || transcript[len(transcript)-1].Role != openai.ChatMessageRoleUser {
		return nil, ErrEmptyMessage
	}
	return transcript, nil
}

func (s *Service) respondAvailability(ctx context.Context, resp *Response, history []openai.ChatCompletionMessage, intent AvailabilityIntent, now time.Time) error {
	candidates, err := s.query(ctx, intent)
	if err != nil {
		return err
	}

	if len(candidates) == 0 {
		alt, err := s.intents.SuggestAlternative(ctx, history, intent, now)
		if err != nil {
			return err
		}
		resp.Message = alt.Message
		if !alt.HasSuggestion {
			return nil
		}
		// One retry with the loosened constraints; a second miss stands.
		candidates, err = s.query(ctx, alt.intent())
		if err != nil || len(candidates) == 0 {
			return err
		}
	}

	cur, err := s.intents.CurateSlots(ctx, history, candidates, s.presentLimit, now)
	if err != nil {
		return err
	}
	resp.Message = cur.Message
	resp.Slots = cur.Slots
	return nil
}

func (s *Service) respondGeneral(ctx context.Context, resp *Response, history []openai.ChatCompletionMessage, now time.Time) error {
	details, err := s.intents.DetectBookingDetails(ctx, history, now)
	if err != nil {
		return err
	}
	reply, err := s.intents.Reply(ctx, history, now)
	if err != nil {
		return err
	}
	resp.Message = reply
	if details.HasBookingDetails {
		resp.Booking = &details
	}
	return nil
}

// query runs an availability lookup and caps the candidate list handed to
// curation. Constraint combinations the model produced that the scheduling
// layer rejects read as "nothing matched" rather than a failed turn.
func (s *Service) query(ctx context.Context, intent AvailabilityIntent) ([]scheduling.Slot, error) {
	slots, err := s.scheduler.Availability(ctx, intent.Filter())
	if err != nil {
		if scheduling.IsValidation(err) {
			s.logger.Warn("availability constraints rejected", "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("chat: availability lookup failed: %w", err)
	}
	if len(slots) > s.candidateLimit {
		slots = slots[:s.candidateLimit]
	}
	return slots, nil
}

func toOpenAI(transcript []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(transcript))
	for _, m := range transcript {
		role := m.Role
		switch role {
		case openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant, openai.ChatMessageRoleSystem:
		default:
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
