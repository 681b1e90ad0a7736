package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wire formats for filter inputs. These are the only places formatted
// strings appear; everything past Validate works on time.Time.
const (
	DateLayout      = "2006-01-02"
	TimeOfDayLayout = "15:04"
	StartLayout     = "2006-01-02 15:04"
)

// Filter carries raw availability filter inputs as received on the wire.
// All fields are optional; empty strings mean "no bound".
type Filter struct {
	ProviderID string `json:"provider_id,omitempty"`
	StartDate  string `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate    string `json:"end_date,omitempty"`   // YYYY-MM-DD
	StartTime  string `json:"start_time,omitempty"` // HH:mm
	EndTime    string `json:"end_time,omitempty"`   // HH:mm
}

// Query is a validated, chronological form of Filter. Date bounds become
// instants in the business timezone; time-of-day bounds become minutes of
// the local day (-1 when unset).
type Query struct {
	ProviderID  *uuid.UUID
	From        time.Time
	To          *time.Time // exclusive upper bound (start of the day after EndDate)
	StartMinute int
	EndMinute   int
	Location    *time.Location
}

// Validate parses the filter against the business timezone. When no start
// date is supplied the query floors at now so past slots are never offered.
func (f Filter) Validate(now time.Time, loc *time.Location) (Query, error) {
	if loc == nil {
		loc = time.UTC
	}
	q := Query{StartMinute: -1, EndMinute: -1, Location: loc}

	if f.ProviderID != "" {
		id, err := uuid.Parse(f.ProviderID)
		if err != nil {
			return Query{}, &ValidationError{Field: "provider_id", Reason: "must be a UUID"}
		}
		q.ProviderID = &id
	}

	var startDay, endDay time.Time
	if f.StartDate != "" {
		d, err := time.ParseInLocation(DateLayout, f.StartDate, loc)
		if err != nil {
			return Query{}, &ValidationError{Field: "start_date", Reason: fmt.Sprintf("must match %s", DateLayout)}
		}
		startDay = d
		q.From = d
	} else {
		q.From = now
	}
	if f.EndDate != "" {
		d, err := time.ParseInLocation(DateLayout, f.EndDate, loc)
		if err != nil {
			return Query{}, &ValidationError{Field: "end_date", Reason: fmt.Sprintf("must match %s", DateLayout)}
		}
		endDay = d
		// inclusive calendar day: everything strictly before the next day
		to := d.AddDate(0, 0, 1)
		q.To = &to
	}
	if !startDay.IsZero() && !endDay.IsZero() && endDay.Before(startDay) {
		return Query{}, &ValidationError{Field: "end_date", Reason: "must not precede start_date"}
	}

	if f.StartTime != "" {
		m, err := parseMinuteOfDay(f.StartTime)
		if err != nil {
			return Query{}, &ValidationError{Field: "start_time", Reason: fmt.Sprintf("must match %s", TimeOfDayLayout)}
		}
		q.StartMinute = m
	}
	if f.EndTime != "" {
		m, err := parseMinuteOfDay(f.EndTime)
		if err != nil {
			return Query{}, &ValidationError{Field: "end_time", Reason: fmt.Sprintf("must match %s", TimeOfDayLayout)}
		}
		q.EndMinute = m
	}
	if q.StartMinute >= 0 && q.EndMinute >= 0 && q.EndMinute < q.StartMinute {
		return Query{}, &ValidationError{Field: "end_time", Reason: "must not precede start_time"}
	}

	return q, nil
}

// MatchesTimeOfDay reports whether ts falls inside the query's inclusive
// time-of-day window, evaluated in the business timezone. The comparison is
// on minutes of day, never on formatted strings.
func (q Query) MatchesTimeOfDay(ts time.Time) bool {
	if q.StartMinute < 0 && q.EndMinute < 0 {
		return true
	}
	local := ts.In(q.Location)
	minute := local.Hour()*60 + local.Minute()
	if q.StartMinute >= 0 && minute < q.StartMinute {
		return false
	}
	if q.EndMinute >= 0 && minute > q.EndMinute {
		return false
	}
	return true
}

func parseMinuteOfDay(s string) (int, error) {
	t, err := time.Parse(TimeOfDayLayout, s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
