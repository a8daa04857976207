package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"santecal/internal/config"
	"santecal/internal/layout"
	appLog "santecal/internal/log"
	"santecal/internal/model"
	"santecal/internal/store"
)

// Store is the appointment book the server reads and writes.
type Store interface {
	List(from, to time.Time) []model.Event
	Get(id string) (model.Event, error)
	Create(ev model.Event) (model.Event, error)
	Update(id string, ev model.Event) (model.Event, error)
	Delete(id string) error
}

// Server exposes the appointment book and its computed day layout over HTTP.
type Server struct {
	cfg       *config.Config
	engine    *layout.Engine
	book      Store
	weekStart time.Weekday
	mux       *http.ServeMux
	tmpl      *template.Template
}

//go:embed templates/*.html
var templateFS embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, engine *layout.Engine, book Store) *Server {
	s := &Server{
		cfg:       cfg,
		engine:    engine,
		book:      book,
		weekStart: layout.ParseWeekStart(cfg.WeekStart),
		mux:       http.NewServeMux(),
		tmpl:      template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in Basic Auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
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
			w.Header().Set("WWW-Authenticate", `Basic realm="santecal", charset="UTF-8"`)
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

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("GET /api/layout", s.handleLayout)

	s.mux.HandleFunc("GET /calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last snapshot written by `santecal snapshot`.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.cfg.PreviewPath)
}

// eventsResponse is the JSON response shape for GET /api/events.
type eventsResponse struct {
	Mode            model.Mode    `json:"mode"`
	RangeStart      time.Time     `json:"range_start"`
	RangeEnd        time.Time     `json:"range_end"`
	DisplayTimeZone string        `json:"display_timezone"`
	WeekStart       string        `json:"week_start"`
	Events          []model.Event `json:"events"`
}

// layoutResponse is the JSON response shape for GET /api/layout.
type layoutResponse struct {
	Date            string             `json:"date"`
	RowHeight       float64            `json:"row_height"`
	DisplayTimeZone string             `json:"display_timezone"`
	Placements      []layout.Placement `json:"placements"`
}

// handleListEvents returns the events visible in one view.
//
// GET /api/events?date=2025-03-10&mode=week
//   - date: any day inside the view (default today)
//   - mode: day (default), week or month
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	day, err := s.parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := model.ModeDay
	if m := q.Get("mode"); m != "" {
		var ok bool
		if mode, ok = model.ParseMode(m); !ok {
			writeError(w, http.StatusBadRequest, "mode must be day, week or month")
			return
		}
	}

	start, end := s.engine.Range(mode, day, s.weekStart)
	events := s.book.List(start, end)

	appLog.Debug("api events request",
		"mode", mode,
		"range_start", start.Format(time.RFC3339),
		"range_end", end.Format(time.RFC3339),
		"count", len(events),
	)

	writeJSON(w, http.StatusOK, eventsResponse{
		Mode:            mode,
		RangeStart:      start,
		RangeEnd:        end,
		DisplayTimeZone: s.engine.Location().String(),
		WeekStart:       s.cfg.WeekStart,
		Events:          events,
	})
}

// handleLayout returns every event of one day with its position.
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, layoutResponse{
		Date:            day.Format(time.DateOnly),
		RowHeight:       s.engine.RowHeight(),
		DisplayTimeZone: s.engine.Location().String(),
		Placements:      s.dayPlacements(day),
	})
}

func (s *Server) dayPlacements(day time.Time) []layout.Placement {
	start, end := s.engine.Range(model.ModeDay, day, s.weekStart)
	return s.engine.LayoutDay(s.book.List(start, end), day)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.book.Get(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	// Directly booked events never belong to a feed.
	ev.SourceID = ""

	created, err := s.book.Create(ev)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	appLog.Info("appointment created", "id", created.ID, "start", created.Start.Format(time.RFC3339))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	updated, err := s.book.Update(r.PathValue("id"), ev)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	appLog.Info("appointment updated", "id", updated.ID, "status", updated.Status)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.book.Delete(id); err != nil {
		writeStoreError(w, err)
		return
	}
	appLog.Info("appointment deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// calendarView feeds templates/day.html.
type calendarView struct {
	Date      string
	Title     string
	Prev      string
	Next      string
	DayHeight float64
	Hours     []hourRow
	Events    []calendarEvent
}

type hourRow struct {
	Label string
	Top   float64
}

type calendarEvent struct {
	ID        string
	Title     string
	Color     string
	Status    model.Status
	TimeRange string
	Style     template.CSS
}

// handleCalendar renders the day view. The root element carries
// data-ready="true" so headless capture knows rendering is done.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rh := s.engine.RowHeight()
	view := calendarView{
		Date:      day.Format(time.DateOnly),
		Title:     day.Format("Monday, 2 January 2006"),
		Prev:      s.engine.Step(model.ModeDay, day, -1).Format(time.DateOnly),
		Next:      s.engine.Step(model.ModeDay, day, 1).Format(time.DateOnly),
		DayHeight: 24 * rh,
	}
	for h := 0; h < 24; h++ {
		view.Hours = append(view.Hours, hourRow{
			Label: time.Date(2000, 1, 1, h, 0, 0, 0, time.UTC).Format("3 PM"),
			Top:   float64(h) * rh,
		})
	}
	for _, p := range s.dayPlacements(day) {
		view.Events = append(view.Events, calendarEvent{
			ID:        p.Event.ID,
			Title:     p.Event.Title,
			Color:     p.Event.Color,
			Status:    p.Event.Status,
			TimeRange: p.Event.Start.In(s.engine.Location()).Format("3:04 PM") + " - " + p.Event.End.In(s.engine.Location()).Format("3:04 PM"),
			Style:     template.CSS(p.Position.CSS()),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "day.html", view); err != nil {
		appLog.Error("calendar render failed", err, "date", view.Date)
	}
}

// parseDate reads a YYYY-MM-DD day in the display zone; empty means today.
func (s *Server) parseDate(v string) (time.Time, error) {
	loc := s.engine.Location()
	if v == "" {
		return s.engine.StartOfDay(time.Now().In(loc)), nil
	}
	d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(v), loc)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return d, nil
}

func decodeEvent(w http.ResponseWriter, r *http.Request) (model.Event, bool) {
	var ev model.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event JSON: "+err.Error())
		return model.Event{}, false
	}
	return ev, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "store: "))
	default:
		appLog.Error("store operation failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
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
