package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"famcal/internal/config"
	"famcal/internal/engine"
	"famcal/internal/grid"
	"famcal/internal/ics"
	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// maxBodyBytes bounds JSON and ICS request bodies.
const maxBodyBytes = 8 << 20

// Calendar is the engine surface the HTTP API drives.
type Calendar interface {
	State() engine.State
	Events() []model.Event
	Get(id string) (model.Event, bool)
	Create(ctx context.Context, ev model.Event) (model.Event, error)
	Update(ctx context.Context, ev model.Event) (model.Event, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Connectivity is the settable online flag.
type Connectivity interface {
	Online() bool
	Set(online bool) bool
}

// Server provides the host shell HTTP API: event CRUD, the month grid, ICS
// export/import and connectivity control.
type Server struct {
	cfg *config.Config
	cal Calendar
	net Connectivity
	loc *time.Location
	mux *http.ServeMux

	now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, cal Calendar, net Connectivity) *Server {
	s := &Server{
		cfg: cfg,
		cal: cal,
		net: net,
		loc: resolveLocationOrLocal(cfg.Timezone),
		mux: http.NewServeMux(),
		now: time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials mean disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="famcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/members", s.handleMembers)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	s.mux.HandleFunc("GET /api/grid", s.handleGrid)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleExport)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
	s.mux.HandleFunc("POST /api/connectivity", s.handleConnectivity)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	State    engine.State `json:"state"`
	Online   bool         `json:"online"`
	Count    int          `json:"count"`
	DeviceID string       `json:"device_id"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		State:    s.cal.State(),
		Online:   s.net.Online(),
		Count:    len(s.cal.Events()),
		DeviceID: s.cfg.DeviceID,
	})
}

func (s *Server) handleMembers(w http.ResponseWriter, _ *http.Request) {
	members := s.cfg.Members
	if members == nil {
		members = []string{}
	}
	writeJSON(w, http.StatusOK, members)
}

// eventInput is the writable part of an event.
type eventInput struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Description string `json:"description"`
	Member      string `json:"member"`
}

func (in eventInput) apply(ev model.Event) model.Event {
	ev.Title = strings.TrimSpace(in.Title)
	ev.Date = strings.TrimSpace(in.Date)
	ev.Time = strings.TrimSpace(in.Time)
	ev.Description = in.Description
	ev.Member = strings.TrimSpace(in.Member)
	return ev
}

// handleListEvents returns the collection in order.
//
// GET /api/events?date=YYYY-MM-DD
//   - date: optional filter on Event.Date
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events := s.cal.Events()
	if date := r.URL.Query().Get("date"); date != "" {
		filtered := make([]model.Event, 0)
		for _, ev := range events {
			if ev.Date == date {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.cal.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var in eventInput
	if !readJSON(w, r, &in) {
		return
	}

	ev := in.apply(model.Event{ID: model.NewID()})
	created, err := s.cal.Create(r.Context(), ev)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var in eventInput
	if !readJSON(w, r, &in) {
		return
	}

	current, ok := s.cal.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	updated, found, err := s.cal.Update(r.Context(), in.apply(current))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !found {
		// Removed by another writer between Get and Update.
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteEvent answers 204 whether or not the id was present, so a
// retried DELETE succeeds like the first one.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := s.cal.Delete(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !removed {
		appLog.Debug("api delete: event already absent", "id", id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// gridResponse is the JSON response shape for /api/grid.
type gridResponse struct {
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	WeekStart string    `json:"week_start"`
	Today     string    `json:"today"`
	Cells     []cellDTO `json:"cells"`
}

// cellDTO is a JSON-friendly view of a grid cell.
type cellDTO struct {
	Date       string        `json:"date"`
	Day        int           `json:"day"`
	OtherMonth bool          `json:"other_month"`
	IsToday    bool          `json:"is_today"`
	Events     []model.Event `json:"events"`
}

// handleGrid returns the 42-cell month grid.
//
// GET /api/grid?month=YYYY-MM
//   - month: defaults to the current month in the configured timezone
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	today := s.now().In(s.loc)
	year, month := today.Year(), today.Month()

	if q := r.URL.Query().Get("month"); q != "" {
		t, err := time.Parse("2006-01", q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		year, month = t.Year(), t.Month()
	}

	cells := grid.Build(year, month, s.cal.Events(), grid.Options{
		Today:     today,
		WeekStart: grid.ParseWeekStart(s.cfg.WeekStart),
	})

	dtos := make([]cellDTO, 0, len(cells))
	for _, c := range cells {
		dtos = append(dtos, cellDTO{
			Date:       c.Key(),
			Day:        c.Day(),
			OtherMonth: c.OtherMonth,
			IsToday:    c.IsToday,
			Events:     c.Events,
		})
	}

	writeJSON(w, http.StatusOK, gridResponse{
		Year:      year,
		Month:     int(month),
		WeekStart: s.cfg.WeekStart,
		Today:     today.Format(model.DateLayout),
		Cells:     dtos,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	body := ics.Export(s.cal.Events(), ics.ExportOptions{
		Name:     "famcal",
		Location: s.loc,
		Now:      s.now,
	})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="famcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// importResponse is the JSON response shape for /api/import.
type importResponse struct {
	Imported  int      `json:"imported"`
	Existing  int      `json:"existing"`
	Skipped   int      `json:"skipped"`
	Truncated []string `json:"truncated_uids,omitempty"`
}

// handleImport creates events from an ICS body. Events whose id is
// already present are left as they are.
//
// POST /api/import?member=...
//   - member: label for VEVENTs without CATEGORIES; defaults to the last
//     configured member
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	member := r.URL.Query().Get("member")
	if member == "" && len(s.cfg.Members) > 0 {
		member = s.cfg.Members[len(s.cfg.Members)-1]
	}

	res, err := ics.Import(body, ics.ImportOptions{
		Feed:     "upload",
		Member:   member,
		Location: s.loc,
		Now:      s.now,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ICS: "+err.Error())
		return
	}

	resp := importResponse{Skipped: res.Skipped, Truncated: res.Truncated}
	for _, ev := range res.Events {
		if _, ok := s.cal.Get(ev.ID); ok {
			resp.Existing++
			continue
		}
		if _, err := s.cal.Create(r.Context(), ev); err != nil {
			if errors.Is(err, engine.ErrDuplicateID) {
				resp.Existing++
				continue
			}
			writeEngineError(w, err)
			return
		}
		resp.Imported++
	}

	appLog.Info("api import completed", "imported", resp.Imported, "existing", resp.Existing, "skipped", resp.Skipped)
	writeJSON(w, http.StatusOK, resp)
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

type connectivityResponse struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	changed := s.net.Set(*req.Online)
	writeJSON(w, http.StatusOK, connectivityResponse{Online: s.net.Online(), Changed: changed})
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeEngineError maps engine and validation errors onto status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		type fieldsResp struct {
			Error  string   `json:"error"`
			Fields []string `json:"fields"`
		}
		writeJSON(w, http.StatusBadRequest, fieldsResp{Error: "invalid event", Fields: verr.Fields})
	case errors.Is(err, engine.ErrDuplicateID):
		writeError(w, http.StatusConflict, "duplicate event id")
	case errors.Is(err, engine.ErrClosed), errors.Is(err, engine.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "calendar unavailable")
	default:
		appLog.Error("api: calendar operation failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
