// Package seed populates the database with a sample provider and a random
// spread of open slots for local development and agent runs.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dtnewman/appt-booking/internal/scheduling"
	"github.com/dtnewman/appt-booking/pkg/logging"
)

const (
	seedDays     = 28
	providerName = "Dan the Builder"
)

// Seeder wipes and repopulates scheduling data.
type Seeder struct {
	db     scheduling.DB
	logger *logging.Logger
	rng    *rand.Rand
	now    func() time.Time
}

func New(db scheduling.DB, logger *logging.Logger, rng *rand.Rand) *Seeder {
	if db == nil {
		panic("seed: database is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Seeder{db: db, logger: logger, rng: rng, now: time.Now}
}

// Run clears existing data and inserts a sample provider with open slots
// over the next four weeks.
func (s *Seeder) Run(ctx context.Context, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	for _, table := range []string{"slots", "appointments", "providers"} {
		if _, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("seed: failed to clear %s: %w", table, err)
		}
	}

	providerID := uuid.New()
	if _, err := s.db.Exec(ctx,
		"INSERT INTO providers (id, name, created_at) VALUES ($1, $2, $3)",
		providerID, providerName, s.now(),
	); err != nil {
		return fmt.Errorf("seed: failed to create provider: %w", err)
	}

	slots := s.generate(providerID, loc)
	for _, slot := range slots {
		if _, err := s.db.Exec(ctx,
			"INSERT INTO slots (id, provider_id, start_time, end_time, is_available, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
			slot.ID, slot.ProviderID, slot.StartTime, slot.EndTime, slot.IsAvailable, s.now(),
		); err != nil {
			return fmt.Errorf("seed: failed to insert slot: %w", err)
		}
	}

	s.logger.Info("seed data created", "provider", providerName, "slots", len(slots))
	return nil
}

// generate builds a random weekday availability pattern: each of the next
// 28 weekdays has a 50% chance of carrying one to four slots, each
// starting on the hour between 08:00 and 17:00 and lasting one or two
// hours. Slots come back in chronological order.
func (s *Seeder) generate(providerID uuid.UUID, loc *time.Location) []scheduling.Slot {
	var slots []scheduling.Slot
	now := s.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	for i := 0; i < seedDays; i++ {
		day := today.AddDate(0, 0, i)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if s.rng.Float64() < 0.5 {
			continue
		}

		n := 1 + s.rng.Intn(4)
		for j := 0; j < n; j++ {
			startHour := 8 + s.rng.Intn(10)
			duration := 1 + s.rng.Intn(2)
			start := day.Add(time.Duration(startHour) * time.Hour)
			slots = append(slots, scheduling.Slot{
				ID:          uuid.New(),
				ProviderID:  providerID,
				StartTime:   start,
				EndTime:     start.Add(time.Duration(duration) * time.Hour),
				IsAvailable: true,
			})
		}
	}

	sort.Slice(slots, func(a, b int) bool {
		return slots[a].StartTime.Before(slots[b].StartTime)
	})
	return slots
}
