// Package clock provides timestamps in both machine and display form, id
// generation, and the time-of-day window predicate used by the breakfast flag.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DisplayLayout is the locale display format used on receipts and screens.
const DisplayLayout = "02/01/2006 15:04"

// Timestamp carries both forms of one instant.
type Timestamp struct {
	ISO     string `json:"iso"`
	Display string `json:"display"`
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator returns collision-free identifiers.
type IDGenerator interface {
	NewID() string
}

// System is the wall clock. Successive calls never go backwards, so timestamp
// order matches append order inside one process.
type System struct {
	Location *time.Location

	mu   sync.Mutex
	last time.Time
}

// Now returns the current time, clamped to be strictly after the previous call.
func (s *System) Now() time.Time {
	now := time.Now()
	if s.Location != nil {
		now = now.In(s.Location)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// UUIDs generates v4 uuids.
type UUIDs struct{}

// NewID returns a new random uuid string.
func (UUIDs) NewID() string { return uuid.NewString() }

// Stamp converts t to a Timestamp.
func Stamp(t time.Time) Timestamp {
	return Timestamp{ISO: t.Format(time.RFC3339), Display: t.Format(DisplayLayout)}
}

// Fixed is a Clock that always returns T; tests advance it explicitly.
type Fixed struct {
	mu sync.Mutex
	T  time.Time
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.T
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.T = f.T.Add(d)
	f.mu.Unlock()
}

// Sequence generates predictable ids ("<prefix>-1", "<prefix>-2", ...).
type Sequence struct {
	Prefix string

	mu sync.Mutex
	n  int
}

func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.Prefix, s.n)
}

// TimeOfDay is a wall-clock time without date.
type TimeOfDay struct {
	Hour, Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Window is a half-open daily interval [Start, End).
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// IsWithin reports whether now's time of day falls in [w.Start, w.End).
// A window whose End precedes Start wraps past midnight.
func IsWithin(w Window, now time.Time) bool {
	m := now.Hour()*60 + now.Minute()
	start, end := w.Start.minutes(), w.End.minutes()
	if start <= end {
		return m >= start && m < end
	}
	return m >= start || m < end
}
