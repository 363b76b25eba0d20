package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() Event {
	return Event{
		ID:     "e1",
		Title:  "Dentist",
		Date:   "2024-03-15",
		Time:   "10:00",
		Member: "A",
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Event)
		fields []string
	}{
		{name: "valid", mutate: func(*Event) {}},
		{name: "no time is fine", mutate: func(e *Event) { e.Time = "" }},
		{name: "missing id", mutate: func(e *Event) { e.ID = "" }, fields: []string{"id"}},
		{name: "blank title", mutate: func(e *Event) { e.Title = "   " }, fields: []string{"title"}},
		{name: "bad date", mutate: func(e *Event) { e.Date = "2024/03/15" }, fields: []string{"date"}},
		{name: "impossible date", mutate: func(e *Event) { e.Date = "2023-02-29" }, fields: []string{"date"}},
		{name: "bad time", mutate: func(e *Event) { e.Time = "25:00" }, fields: []string{"time"}},
		{name: "missing member", mutate: func(e *Event) { e.Member = "" }, fields: []string{"member"}},
		{
			name:   "several",
			mutate: func(e *Event) { e.ID = ""; e.Member = ""; e.Date = "" },
			fields: []string{"id", "date", "member"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := validEvent()
			tt.mutate(&ev)

			err := ev.Validate()
			if tt.fields == nil {
				assert.NoError(t, err)
				assert.True(t, ev.IsValid())
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEvent))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.fields, verr.Fields)
			assert.False(t, ev.IsValid())
		})
	}
}

func TestLeapDay(t *testing.T) {
	t.Parallel()
	ev := validEvent()
	ev.Date = "2024-02-29"
	assert.True(t, ev.IsValid())
}

func TestJSONFieldNames(t *testing.T) {
	t.Parallel()
	ev := validEvent()
	ev.CreatedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ev.UpdatedAt = ev.CreatedAt

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, k := range []string{"id", "title", "date", "time", "member", "createdAt", "updatedAt"} {
		assert.Contains(t, raw, k)
	}
	assert.NotContains(t, raw, "description")
}

func TestEqualEvents(t *testing.T) {
	t.Parallel()
	a := validEvent()
	b := validEvent()
	b.ID = "e2"

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	a1 := a
	a1.CreatedAt = ts
	a2 := a
	a2.CreatedAt = ts.In(time.FixedZone("JST", 9*3600))

	assert.True(t, EqualEvents(nil, []Event{}))
	assert.True(t, EqualEvents([]Event{a1, b}, []Event{a2, b}))
	assert.False(t, EqualEvents([]Event{a, b}, []Event{b, a}))
	assert.False(t, EqualEvents([]Event{a}, []Event{a, b}))
}

func TestNewID(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true

		u, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), u.Version())
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()
	d, err := ParseDate("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, "2024-03-15", FormatDate(d))

	_, err = ParseDate("not-a-date")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not-a-date"))
}
