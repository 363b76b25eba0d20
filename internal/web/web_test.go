package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcal/internal/config"
	"famcal/internal/engine"
	"famcal/internal/kv"
	"famcal/internal/local"
	"famcal/internal/model"
	"famcal/internal/netstatus"
)

var testNow = time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)

type fixture struct {
	srv *httptest.Server
	eng *engine.Engine
	net *netstatus.Monitor
	cfg *config.Config
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DeviceID = "device-1"
	if mutate != nil {
		mutate(cfg)
	}

	mon := netstatus.NewMonitor(false)
	eng := engine.New(local.New(kv.NewMemoryStore(), local.DefaultKey), nil, mon, engine.Options{
		DriftSchedule: "@every 1h",
		Now:           func() time.Time { return testNow },
	})
	require.NoError(t, eng.Start(context.Background()))

	s := NewServer(cfg, eng, mon)
	s.now = func() time.Time { return testNow }
	srv := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		srv.Close()
		_ = eng.Close(context.Background())
	})
	return &fixture{srv: srv, eng: eng, net: mon, cfg: cfg}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestEventLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/api/events", `{"title":"Dentist","date":"2024-03-15","time":"10:30","member":"けんじ"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[model.Event](t, resp)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Dentist", created.Title)
	assert.Equal(t, testNow, created.CreatedAt)

	resp = f.do(t, http.MethodGet, "/api/events/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[model.Event](t, resp).ID)

	resp = f.do(t, http.MethodPut, "/api/events/"+created.ID, `{"title":"Dentist (moved)","date":"2024-03-16","member":"けんじ"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[model.Event](t, resp)
	assert.Equal(t, "Dentist (moved)", updated.Title)
	assert.Equal(t, "2024-03-16", updated.Date)
	assert.Empty(t, updated.Time)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	resp = f.do(t, http.MethodGet, "/api/events?date=2024-03-16", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Event](t, resp), 1)

	resp = f.do(t, http.MethodDelete, "/api/events/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// A retried delete is a no-op, not an error.
	resp = f.do(t, http.MethodDelete, "/api/events/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/api/events/never-existed", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]model.Event](t, resp))
}

func TestCreateRejectsInvalidEvent(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/api/events", `{"title":"","date":"2024-02-30","member":"あい"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.ElementsMatch(t, []any{"title", "date"}, body["fields"])
	assert.Zero(t, f.eng.Len())

	resp = f.do(t, http.MethodPost, "/api/events", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateUnknownEvent(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodPut, "/api/events/nope", `{"title":"x","date":"2024-03-01","member":"あい"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/events/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGrid(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.eng.Create(context.Background(), model.Event{ID: "e1", Title: "Party", Date: "2024-03-15", Member: "あい"})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/grid", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g := decode[gridResponse](t, resp)
	assert.Equal(t, 2024, g.Year)
	assert.Equal(t, 3, g.Month)
	assert.Equal(t, "2024-03-10", g.Today)
	require.Len(t, g.Cells, 42)

	// March 2024 starts on a Friday: five leading February cells.
	assert.Equal(t, "2024-02-25", g.Cells[0].Date)
	assert.True(t, g.Cells[0].OtherMonth)
	assert.Equal(t, "2024-03-01", g.Cells[5].Date)

	var today, party int
	for _, c := range g.Cells {
		if c.IsToday {
			today++
			assert.Equal(t, "2024-03-10", c.Date)
		}
		if c.Date == "2024-03-15" {
			require.Len(t, c.Events, 1)
			party++
		} else {
			assert.Empty(t, c.Events)
		}
	}
	assert.Equal(t, 1, today)
	assert.Equal(t, 1, party)

	resp = f.do(t, http.MethodGet, "/api/grid?month=2024-04", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g = decode[gridResponse](t, resp)
	assert.Equal(t, 4, g.Month)
	for _, c := range g.Cells {
		assert.False(t, c.IsToday)
	}

	resp = f.do(t, http.MethodGet, "/api/grid?month=April", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGridMondayStart(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.WeekStart = "monday" })
	resp := f.do(t, http.MethodGet, "/api/grid?month=2024-03", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g := decode[gridResponse](t, resp)
	assert.Equal(t, "2024-02-26", g.Cells[0].Date)
}

func TestStatusAndConnectivity(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[statusResponse](t, resp)
	assert.Equal(t, engine.StateOffline, st.State)
	assert.False(t, st.Online)
	assert.Equal(t, "device-1", st.DeviceID)

	resp = f.do(t, http.MethodPost, "/api/connectivity", `{"online":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cr := decode[connectivityResponse](t, resp)
	assert.True(t, cr.Online)
	assert.True(t, cr.Changed)

	resp = f.do(t, http.MethodPost, "/api/connectivity", `{"online":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[connectivityResponse](t, resp).Changed)

	resp = f.do(t, http.MethodPost, "/api/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMembers(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/members", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"けんじ", "あい", "二人"}, decode[[]string](t, resp))
}

func TestExportAndImport(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.eng.Create(context.Background(), model.Event{ID: "e1", Title: "Party", Date: "2024-03-15", Time: "18:00", Member: "あい"})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/calendar.ics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "UID:e1@famcal")

	// Re-importing our own export finds the event already present.
	resp = f.do(t, http.MethodPost, "/api/import", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ir := decode[importResponse](t, resp)
	assert.Equal(t, 0, ir.Imported)
	assert.Equal(t, 1, ir.Existing)

	feed := strings.ReplaceAll(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:school@example.com
DTSTAMP:20240101T000000Z
SUMMARY:School trip
DTSTART;VALUE=DATE:20240320
END:VEVENT
END:VCALENDAR
`, "\n", "\r\n")

	resp = f.do(t, http.MethodPost, "/api/import?member="+url.QueryEscape("けんじ"), feed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ir = decode[importResponse](t, resp)
	assert.Equal(t, 1, ir.Imported)

	resp = f.do(t, http.MethodPost, "/api/import?member="+url.QueryEscape("けんじ"), feed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ir = decode[importResponse](t, resp)
	assert.Equal(t, 0, ir.Imported)
	assert.Equal(t, 1, ir.Existing)

	require.Equal(t, 2, f.eng.Len())
	var trip model.Event
	for _, ev := range f.eng.Events() {
		if ev.Title == "School trip" {
			trip = ev
		}
	}
	assert.Equal(t, "2024-03-20", trip.Date)
	assert.Equal(t, "けんじ", trip.Member)

	resp = f.do(t, http.MethodPost, "/api/import", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "fam", Password: "secret"}
	})

	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.SetBasicAuth("fam", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
