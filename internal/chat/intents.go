package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dtnewman/appt-booking/internal/scheduling"
)

// AvailabilityIntent is the structured verdict on whether the latest user
// turn asks about appointment availability, and the constraints it carries.
// All fields except the flag are optional; dates are YYYY-MM-DD and times
// 24-hour HH:mm.
type AvailabilityIntent struct {
	IsAvailabilityRequest bool   `json:"is_availability_request"`
	StartDate             string `json:"start_date,omitempty"`
	EndDate               string `json:"end_date,omitempty"`
	StartTime             string `json:"start_time,omitempty"`
	EndTime               string `json:"end_time,omitempty"`
}

// Filter converts the extracted constraints into a scheduling filter.
func (in AvailabilityIntent) Filter() scheduling.Filter {
	return scheduling.Filter{
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
	}
}

func (in AvailabilityIntent) validate() error {
	if in.StartDate != "" {
		if _, err := time.Parse(scheduling.DateLayout, in.StartDate); err != nil {
			return fmt.Errorf("start_date %q is not YYYY-MM-DD", in.StartDate)
		}
	}
	if in.EndDate != "" {
		if _, err := time.Parse(scheduling.DateLayout, in.EndDate); err != nil {
			return fmt.Errorf("end_date %q is not YYYY-MM-DD", in.EndDate)
		}
	}
	if in.StartTime != "" {
		if _, err := time.Parse(scheduling.TimeOfDayLayout, in.StartTime); err != nil {
			return fmt.Errorf("start_time %q is not 24-hour HH:mm", in.StartTime)
		}
	}
	if in.EndTime != "" {
		if _, err := time.Parse(scheduling.TimeOfDayLayout, in.EndTime); err != nil {
			return fmt.Errorf("end_time %q is not 24-hour HH:mm", in.EndTime)
		}
	}
	return nil
}

// OfferedSlot is a concrete slot presented to the customer inside a reply.
type OfferedSlot struct {
	SlotID     string `json:"slot_id"`
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

// Curation is the model's selection from the candidate slot list plus the
// natural-language reply that presents it.
type Curation struct {
	Message string        `json:"message"`
	Slots   []OfferedSlot `json:"slots"`
}

// Alternative is the model's fallback when a query matched nothing: a reply
// for the customer and, optionally, one loosened set of constraints to try.
type Alternative struct {
	Message       string `json:"message"`
	HasSuggestion bool   `json:"has_suggestion"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
}

func (a Alternative) intent() AvailabilityIntent {
	return AvailabilityIntent{
		IsAvailabilityRequest: true,
		StartDate:             a.StartDate,
		EndDate:               a.EndDate,
		StartTime:             a.StartTime,
		EndTime:               a.EndTime,
	}
}

// BookingDetails carries the identity fields extracted from the
// conversation once the customer commits to a slot.
type BookingDetails struct {
	HasBookingDetails bool   `json:"has_booking_details"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	SlotStart         string `json:"slot_start,omitempty"`
}

// IntentClient runs the structured LLM calls behind the conversation
// service. Every call is schema-constrained through completeJSON.
type IntentClient struct {
	llm *llmCaller
	loc *time.Location
}

func NewIntentClient(client chatClient, model string, timeout time.Duration, attempts int, loc *time.Location) *IntentClient {
	if loc == nil {
		loc = time.UTC
	}
	return &IntentClient{llm: newLLMCaller(client, model, timeout, attempts), loc: loc}
}

func (ic *IntentClient) datePreamble(now time.Time) string {
	local := now.In(ic.loc)
	return fmt.Sprintf("Today is %s (%s). The business operates in the %s timezone.",
		local.Format("Monday, January 2, 2006"), local.Format(scheduling.DateLayout), ic.loc.String())
}

// ClassifyAvailability decides whether the latest user turn is an
// availability request and extracts its date and time-of-day constraints.
func (ic *IntentClient) ClassifyAvailability(ctx context.Context, history []openai.ChatCompletionMessage, now time.Time) (AvailabilityIntent, error) {
	system := ic.datePreamble(now) + `

You classify the latest customer message in a scheduling conversation.
Decide whether the customer is asking about appointment availability
(open time slots), and extract any date or time-of-day constraints they
stated, resolving relative phrases like "tomorrow" or "next week"
against today's date.

Respond with ONLY a JSON object:
{
  "is_availability_request": boolean,
  "start_date": "YYYY-MM-DD" or omit,
  "end_date": "YYYY-MM-DD" or omit,
  "start_time": "HH:mm" 24-hour or omit,
  "end_time": "HH:mm" 24-hour or omit
}

Omit any constraint the customer did not state. "Morning" means
start_time 08:00 and end_time 12:00, "afternoon" 12:00 to 17:00,
"evening" 17:00 to 20:00. A single day means start_date and end_date
equal.`

	var intent AvailabilityIntent
	check := func() error { return intent.validate() }
	if err := ic.llm.completeJSON(ctx, "classify_availability", system, history, &intent, check); err != nil {
		return AvailabilityIntent{}, err
	}
	return intent, nil
}

// CurateSlots picks at most limit slots from the candidates and writes the
// reply presenting them. The candidate list must be non-empty; callers
// handle the empty case through SuggestAlternative.
func (ic *IntentClient) CurateSlots(ctx context.Context, history []openai.ChatCompletionMessage, candidates []scheduling.Slot, limit int, now time.Time) (Curation, error) {
	if len(candidates) == 0 {
		return Curation{}, fmt.Errorf("chat: curate called with no candidate slots")
	}
	if limit <= 0 {
		limit = 8
	}

	valid := make(map[string]scheduling.Slot, len(candidates))
	var list strings.Builder
	for _, s := range candidates {
		valid[s.ID.String()] = s
		local := s.StartTime.In(ic.loc)
		fmt.Fprintf(&list, "- slot_id=%s provider_id=%s date=%s time=%s\n",
			s.ID, s.ProviderID, local.Format(scheduling.DateLayout), local.Format(scheduling.TimeOfDayLayout))
	}

	system := fmt.Sprintf(`%s

You are a friendly scheduling assistant. From the candidate slots below,
pick the ones that best fit what the customer asked for (at most %d) and
write a short reply offering them. Mention concrete dates and times in
the reply. Never invent slots that are not in the list, and never tell
the customer anything is booked.

Candidate slots:
%s
Respond with ONLY a JSON object:
{
  "message": "reply to the customer",
  "slots": [{"slot_id": "...", "provider_id": "...", "date": "YYYY-MM-DD", "time": "HH:mm"}]
}`, ic.datePreamble(now), limit, list.String())

	var cur Curation
	check := func() error {
		if strings.TrimSpace(cur.Message) == "" {
			return fmt.Errorf("message must not be empty")
		}
		if len(cur.Slots) == 0 {
			return fmt.Errorf("at least one slot must be selected")
		}
		if len(cur.Slots) > limit {
			return fmt.Errorf("at most %d slots may be selected, got %d", limit, len(cur.Slots))
		}
		for _, s := range cur.Slots {
			if _, ok := valid[s.SlotID]; !ok {
				return fmt.Errorf("slot_id %q is not in the candidate list", s.SlotID)
			}
		}
		return nil
	}
	if err := ic.llm.completeJSON(ctx, "curate_slots", system, history, &cur, check); err != nil {
		return Curation{}, err
	}

	// Normalize presented fields from the store rather than trusting the
	// model's echo.
	for i := range cur.Slots {
		s := valid[cur.Slots[i].SlotID]
		local := s.StartTime.In(ic.loc)
		cur.Slots[i].ProviderID = s.ProviderID.String()
		cur.Slots[i].Date = local.Format(scheduling.DateLayout)
		cur.Slots[i].Time = local.Format(scheduling.TimeOfDayLayout)
	}
	return cur, nil
}

// SuggestAlternative writes the reply for a query that matched nothing and
// may propose one loosened set of constraints to retry.
func (ic *IntentClient) SuggestAlternative(ctx context.Context, history []openai.ChatCompletionMessage, asked AvailabilityIntent, now time.Time) (Alternative, error) {
	system := fmt.Sprintf(`%s

You are a friendly scheduling assistant. The customer asked for
availability with these constraints and nothing matched:
start_date=%q end_date=%q start_time=%q end_time=%q

Write a short apologetic reply. If a sensibly loosened search would help
(a wider date range, dropping the time-of-day window), set
has_suggestion to true and include the loosened constraints; otherwise
set it to false and invite the customer to try different dates.

Respond with ONLY a JSON object:
{
  "message": "reply to the customer",
  "has_suggestion": boolean,
  "start_date": "YYYY-MM-DD" or omit,
  "end_date": "YYYY-MM-DD" or omit,
  "start_time": "HH:mm" or omit,
  "end_time": "HH:mm" or omit
}`, ic.datePreamble(now), asked.StartDate, asked.EndDate, asked.StartTime, asked.EndTime)

	var alt Alternative
	check := func() error {
		if strings.TrimSpace(alt.Message) == "" {
			return fmt.Errorf("message must not be empty")
		}
		return alt.intent().validate()
	}
	if err := ic.llm.completeJSON(ctx, "suggest_alternative", system, history, &alt, check); err != nil {
		return Alternative{}, err
	}
	return alt, nil
}

// DetectBookingDetails extracts the customer's name and email once they
// have committed to a specific slot. The extraction never asserts that a
// booking happened; persistence stays with the booking transaction.
func (ic *IntentClient) DetectBookingDetails(ctx context.Context, history []openai.ChatCompletionMessage, now time.Time) (BookingDetails, error) {
	system := ic.datePreamble(now) + `

You inspect a scheduling conversation. Determine whether the customer
has committed to a specific appointment slot AND provided both their
full name and email address. Only report details the customer actually
stated.

Respond with ONLY a JSON object:
{
  "has_booking_details": boolean,
  "name": "customer full name" or omit,
  "email": "customer email" or omit,
  "slot_start": "YYYY-MM-DD HH:mm" of the chosen slot or omit
}`

	var det BookingDetails
	check := func() error {
		if !det.HasBookingDetails {
			return nil
		}
		if strings.TrimSpace(det.Name) == "" || !strings.Contains(det.Email, "@") {
			return fmt.Errorf("has_booking_details requires both name and a valid email")
		}
		if det.SlotStart != "" {
			if _, err := time.Parse(scheduling.StartLayout, det.SlotStart); err != nil {
				return fmt.Errorf("slot_start %q is not YYYY-MM-DD HH:mm", det.SlotStart)
			}
		}
		return nil
	}
	if err := ic.llm.completeJSON(ctx, "detect_booking_details", system, history, &det, check); err != nil {
		return BookingDetails{}, err
	}
	return det, nil
}

// Reply produces the free-form assistant turn for messages that are
// neither availability requests nor complete booking instructions.
func (ic *IntentClient) Reply(ctx context.Context, history []openai.ChatCompletionMessage, now time.Time) (string, error) {
	system := ic.datePreamble(now) + `

You are a friendly assistant for an appointment booking service. Help
the customer find and book appointments. Keep replies short and
conversational. You can look up open slots when the customer asks about
availability, and book one once they confirm a slot and share their
name and email. Never claim an appointment is booked; confirmations are
sent separately once a booking goes through.`
	return ic.llm.complete(ctx, "reply", system, history)
}
