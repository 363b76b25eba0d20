// Package model defines the calendar event record, its validation rules and
// the id-indexed in-memory collection shared by the sync engine and the grid.
package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DateLayout is the wire format of Event.Date (calendar date, no zone).
	DateLayout = "2006-01-02"
	// TimeLayout is the wire format of Event.Time (clock time, no zone).
	TimeLayout = "15:04"
)

// ErrInvalidEvent is wrapped by every ValidationError.
var ErrInvalidEvent = errors.New("invalid event")

// Event is the sole persisted entity. Field names on the wire match the
// local store contract exactly.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	Time        string    `json:"time,omitempty"`
	Description string    `json:"description,omitempty"`
	Member      string    `json:"member"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

// Validate reports which required fields are missing or malformed.
func (e Event) Validate() error {
	var bad []string
	if strings.TrimSpace(e.ID) == "" {
		bad = append(bad, "id")
	}
	if strings.TrimSpace(e.Title) == "" {
		bad = append(bad, "title")
	}
	if _, err := ParseDate(e.Date); err != nil {
		bad = append(bad, "date")
	}
	if e.Time != "" {
		if _, err := time.Parse(TimeLayout, e.Time); err != nil {
			bad = append(bad, "time")
		}
	}
	if strings.TrimSpace(e.Member) == "" {
		bad = append(bad, "member")
	}
	if len(bad) > 0 {
		return &ValidationError{Fields: bad}
	}
	return nil
}

// IsValid is true iff Validate returns nil.
func (e Event) IsValid() bool {
	return e.Validate() == nil
}

// Equal compares all fields; timestamps compare by instant.
func (e Event) Equal(o Event) bool {
	return e.ID == o.ID &&
		e.Title == o.Title &&
		e.Date == o.Date &&
		e.Time == o.Time &&
		e.Description == o.Description &&
		e.Member == o.Member &&
		e.CreatedAt.Equal(o.CreatedAt) &&
		e.UpdatedAt.Equal(o.UpdatedAt)
}

// EqualEvents is structural, order-sensitive equality of two snapshots.
func EqualEvents(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// ParseDate parses a YYYY-MM-DD string into midnight UTC of that date.
// Normalized overflow such as 2024-02-30 is rejected.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// FormatDate renders the calendar date of t (in t's own location).
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NewID returns a fresh event id: a UUIDv7, i.e. a millisecond timestamp
// prefix followed by random bits.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
