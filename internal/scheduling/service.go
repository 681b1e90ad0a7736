package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dtnewman/appt-booking/internal/notify"
	"github.com/dtnewman/appt-booking/pkg/logging"
)

var schedulingTracer = otel.Tracer("apptbooking.internal.scheduling")

var availabilityQueriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "apptbooking",
		Subsystem: "scheduling",
		Name:      "availability_queries_total",
		Help:      "Availability queries by outcome",
	},
	[]string{"status"}, // ok, validation_error, error
)

var bookingsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "apptbooking",
		Subsystem: "scheduling",
		Name:      "bookings_total",
		Help:      "Booking attempts by outcome",
	},
	[]string{"status"}, // confirmed, conflict, not_found, validation_error, error
)

func init() {
	prometheus.MustRegister(availabilityQueriesTotal)
	prometheus.MustRegister(bookingsTotal)
}

// RegisterMetrics registers scheduling metrics with a custom registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(availabilityQueriesTotal, bookingsTotal)
}

// SlotStore is the persistence capability the service needs.
type SlotStore interface {
	ListOpenSlots(ctx context.Context, q Query) ([]Slot, error)
	FindOpenSlotByStart(ctx context.Context, start time.Time) (*Slot, error)
	Book(ctx context.Context, slotID uuid.UUID, clientName, clientEmail string) (*Appointment, error)
}

// Service implements the availability query and booking transaction on top
// of the slot store, with a best-effort confirmation email after booking.
type Service struct {
	store  SlotStore
	sender notify.EmailSender
	loc    *time.Location
	logger *logging.Logger
	now    func() time.Time
}

// NewService constructs a scheduling service. A nil sender disables
// confirmation emails (every booking reports NotificationSent=false).
func NewService(store SlotStore, sender notify.EmailSender, loc *time.Location, logger *logging.Logger) *Service {
	if store == nil {
		panic("scheduling: store required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:  store,
		sender: sender,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// Location returns the business timezone the service filters in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Availability validates the filter and returns matching open slots in
// chronological order. An empty result is not an error.
func (s *Service) Availability(ctx context.Context, f Filter) ([]Slot, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.availability")
	defer span.End()

	q, err := f.Validate(s.now().In(s.loc), s.loc)
	if err != nil {
		availabilityQueriesTotal.WithLabelValues("validation_error").Inc()
		span.RecordError(err)
		return nil, err
	}

	slots, err := s.store.ListOpenSlots(ctx, q)
	if err != nil {
		availabilityQueriesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, err
	}
	availabilityQueriesTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("apptbooking.slots.matched", len(slots)))
	return slots, nil
}

// BookingRequest identifies the target slot either directly by ID or by an
// exact start timestamp ("2006-01-02 15:04" in the business timezone).
type BookingRequest struct {
	SlotID      string `json:"slot_id,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
}

// BookingResult reports the created appointment and whether the
// confirmation email went out. NotificationSent=false with a non-nil
// appointment is the degraded-success case: the booking is committed.
type BookingResult struct {
	Appointment      *Appointment `json:"appointment"`
	NotificationSent bool         `json:"notification_sent"`
}

// Book atomically converts an open slot into a confirmed appointment and
// then sends the confirmation email best-effort.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.book")
	defer span.End()

	slotID, err := s.resolveSlotID(ctx, req)
	if err != nil {
		bookingsTotal.WithLabelValues(bookingOutcome(err)).Inc()
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("apptbooking.slot_id", slotID.String()))

	appt, err := s.store.Book(ctx, slotID, strings.TrimSpace(req.ClientName), strings.TrimSpace(req.ClientEmail))
	if err != nil {
		bookingsTotal.WithLabelValues(bookingOutcome(err)).Inc()
		span.RecordError(err)
		return nil, err
	}
	bookingsTotal.WithLabelValues("confirmed").Inc()
	s.logger.Info("slot booked",
		"slot_id", slotID,
		"appointment_id", appt.ID,
		"provider_id", appt.ProviderID,
		"start_time", appt.StartTime,
	)

	result := &BookingResult{Appointment: appt}
	if s.sender != nil {
		msg := notify.BookingConfirmation(appt.ClientName, appt.ClientEmail, appt.StartTime, appt.EndTime, s.loc)
		if err := s.sender.Send(ctx, msg); err != nil {
			// The booking is committed; notification failure is degraded
			// success, never a rollback.
			s.logger.Warn("booking confirmed but confirmation email failed",
				"appointment_id", appt.ID, "error", err)
		} else {
			result.NotificationSent = true
		}
	}
	return result, nil
}

func (s *Service) resolveSlotID(ctx context.Context, req BookingRequest) (uuid.UUID, error) {
	if strings.TrimSpace(req.ClientName) == "" {
		return uuid.Nil, &ValidationError{Field: "client_name", Reason: "required"}
	}
	email := strings.TrimSpace(req.ClientEmail)
	if email == "" || !strings.Contains(email, "@") {
		return uuid.Nil, &ValidationError{Field: "client_email", Reason: "must be an email address"}
	}

	switch {
	case req.SlotID != "":
		id, err := uuid.Parse(req.SlotID)
		if err != nil {
			return uuid.Nil, &ValidationError{Field: "slot_id", Reason: "must be a UUID"}
		}
		return id, nil
	case req.StartTime != "":
		start, err := time.ParseInLocation(StartLayout, req.StartTime, s.loc)
		if err != nil {
			return uuid.Nil, &ValidationError{Field: "start_time", Reason: fmt.Sprintf("must match %s", StartLayout)}
		}
		slot, err := s.store.FindOpenSlotByStart(ctx, start)
		if err != nil {
			return uuid.Nil, err
		}
		return slot.ID, nil
	default:
		return uuid.Nil, &ValidationError{Field: "slot_id", Reason: "slot_id or start_time required"}
	}
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, ErrSlotUnavailable):
		return "conflict"
	case errors.Is(err, ErrSlotNotFound):
		return "not_found"
	case IsValidation(err):
		return "validation_error"
	default:
		return "error"
	}
}
