package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it, which keeps the transaction paths testable without a live database.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides persistence for slots and appointments.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("scheduling: db required")
	}
	return &Repository{db: db}
}

const slotColumns = "id, provider_id, start_time, end_time, is_available, appointment_id, created_at"

// ListOpenSlots returns open slots matching the query, ascending by start
// time. Openness, provider, and the start-time window are filtered in SQL;
// the time-of-day window is applied on the scanned rows because it depends
// on the business timezone.
func (r *Repository) ListOpenSlots(ctx context.Context, q Query) ([]Slot, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT " + slotColumns + " FROM slots WHERE is_available AND appointment_id IS NULL")

	args = append(args, q.From)
	fmt.Fprintf(&sb, " AND start_time >= $%d", len(args))
	if q.To != nil {
		args = append(args, *q.To)
		fmt.Fprintf(&sb, " AND start_time < $%d", len(args))
	}
	if q.ProviderID != nil {
		args = append(args, *q.ProviderID)
		fmt.Fprintf(&sb, " AND provider_id = $%d", len(args))
	}
	sb.WriteString(" ORDER BY start_time ASC")

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list open slots: %w", err)
	}
	defer rows.Close()

	slots := []Slot{}
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.StartTime, &s.EndTime, &s.IsAvailable, &s.AppointmentID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scheduling: scan slot: %w", err)
		}
		if q.MatchesTimeOfDay(s.StartTime) {
			slots = append(slots, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: list open slots: %w", err)
	}
	return slots, nil
}

// GetSlot loads a slot by ID.
func (r *Repository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	var s Slot
	err := r.db.QueryRow(ctx, "SELECT "+slotColumns+" FROM slots WHERE id = $1", id).
		Scan(&s.ID, &s.ProviderID, &s.StartTime, &s.EndTime, &s.IsAvailable, &s.AppointmentID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get slot: %w", err)
	}
	return &s, nil
}

// FindOpenSlotByStart resolves an exact start timestamp to an open slot.
func (r *Repository) FindOpenSlotByStart(ctx context.Context, start time.Time) (*Slot, error) {
	var s Slot
	err := r.db.QueryRow(ctx,
		"SELECT "+slotColumns+" FROM slots WHERE is_available AND appointment_id IS NULL AND start_time = $1 ORDER BY start_time LIMIT 1",
		start).
		Scan(&s.ID, &s.ProviderID, &s.StartTime, &s.EndTime, &s.IsAvailable, &s.AppointmentID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: find slot by start: %w", err)
	}
	return &s, nil
}

// Book converts an open slot into a confirmed appointment. The slot row is
// locked and re-checked inside the transaction, so of two concurrent
// attempts exactly one commits and the other observes ErrSlotUnavailable.
// On any failure the transaction rolls back and the slot is untouched.
func (r *Repository) Book(ctx context.Context, slotID uuid.UUID, clientName, clientEmail string) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: begin booking: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		providerID    uuid.UUID
		startTime     time.Time
		endTime       time.Time
		isAvailable   bool
		appointmentID *uuid.UUID
	)
	err = tx.QueryRow(ctx,
		"SELECT provider_id, start_time, end_time, is_available, appointment_id FROM slots WHERE id = $1 FOR UPDATE",
		slotID).
		Scan(&providerID, &startTime, &endTime, &isAvailable, &appointmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: lock slot: %w", err)
	}
	if !isAvailable || appointmentID != nil {
		return nil, ErrSlotUnavailable
	}

	appt := Appointment{
		ID:          uuid.New(),
		ProviderID:  providerID,
		ClientName:  clientName,
		ClientEmail: clientEmail,
		StartTime:   startTime,
		EndTime:     endTime,
		Status:      AppointmentStatusScheduled,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO appointments (id, provider_id, client_name, client_email, start_time, end_time, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		appt.ID, appt.ProviderID, appt.ClientName, appt.ClientEmail, appt.StartTime, appt.EndTime, appt.Status, appt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scheduling: insert appointment: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE slots SET is_available = false, appointment_id = $1 WHERE id = $2",
		appt.ID, slotID)
	if err != nil {
		return nil, fmt.Errorf("scheduling: consume slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("scheduling: commit booking: %w", err)
	}
	return &appt, nil
}

// CountAppointments returns the total appointment count. Used by tests and
// the seed tool.
func (r *Repository) CountAppointments(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, "SELECT count(*) FROM appointments").Scan(&n); err != nil {
		return 0, fmt.Errorf("scheduling: count appointments: %w", err)
	}
	return n, nil
}
