package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentStatusScheduled is the only status the booking flow produces.
// There is no cancellation or reschedule flow.
const AppointmentStatusScheduled = "scheduled"

// Provider is an entity offering appointment slots. Providers are created by
// the seed/admin process and never mutated here.
type Provider struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Slot is a single bookable time window. A slot is open iff IsAvailable is
// true and AppointmentID is nil; the booking transaction flips both together.
type Slot struct {
	ID            uuid.UUID  `json:"id"`
	ProviderID    uuid.UUID  `json:"provider_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	IsAvailable   bool       `json:"is_available"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Open reports whether the slot can still be booked.
func (s Slot) Open() bool {
	return s.IsAvailable && s.AppointmentID == nil
}

// Appointment is a confirmed booking consuming exactly one slot. Its time
// range mirrors the slot that produced it.
type Appointment struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  uuid.UUID `json:"provider_id"`
	ClientName  string    `json:"client_name"`
	ClientEmail string    `json:"client_email"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
