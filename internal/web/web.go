package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"calen/internal/auth"
	"calen/internal/calendar"
	"calen/internal/config"
	"calen/internal/feedsync"
	"calen/internal/ics"
	appLog "calen/internal/log"
	"calen/internal/metrics"
	"calen/internal/model"
	"calen/internal/store"
)

// Server is the HTTP shell: HTML month and day pages, form posts, and a
// JSON API over the same event store.
type Server struct {
	cfg    *config.Config
	store  store.Store
	syncer *feedsync.Syncer
	mux    *http.ServeMux
	pages  map[string]*template.Template

	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time
}

// assets holds the page templates and the stylesheet.
//
//go:embed templates static
var assets embed.FS

var templateFuncs = template.FuncMap{
	"weekday": func(d time.Weekday) string { return d.String()[:3] },
}

// NewServer constructs a Server. syncer may be nil when no feeds are
// configured.
func NewServer(cfg *config.Config, st store.Store, syncer *feedsync.Syncer) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		syncer:    syncer,
		mux:       http.NewServeMux(),
		pages:     mustParsePages("month.html", "day.html"),
		loc:       cfg.Location(),
		weekStart: calendar.WeekStartFromString(cfg.WeekStart),
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

func mustParsePages(names ...string) map[string]*template.Template {
	base := template.Must(template.New("").Funcs(templateFuncs).ParseFS(assets, "templates/base.html"))
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		pages[name] = template.Must(template.Must(base.Clone()).ParseFS(assets, "templates/"+name))
	}
	return pages
}

// Handler returns the root handler, wrapped with Basic Auth when
// configured. /health stays open.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.cfg.AuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "user", s.cfg.BasicAuth.Username)
		h = auth.BasicAuth(s.cfg.BasicAuth.Username, s.cfg.BasicAuth.PasswordHash, "Calen", "/health")(h)
	}
	return h
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// ListenAndServe binds cfg.Listen and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
	return s.Serve(ctx, ln)
}

func (s *Server) registerRoutes() {
	s.handle("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.handle("GET /{$}", s.handleMonth)
	s.handle("GET /day/{day}", s.handleDay)
	s.handle("POST /events", s.handleAddForm)
	s.handle("POST /events/remove", s.handleRemoveForm)

	s.handle("GET /api/events", s.handleListEvents)
	s.handle("POST /api/events", s.handleCreateEvent)
	s.handle("DELETE /api/events", s.handleDeleteByName)
	s.handle("GET /api/events/{id}", s.handleGetEvent)
	s.handle("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.handle("GET /api/export.ics", s.handleExport)
	s.handle("POST /api/sync", s.handleSync)

	static, err := fs.Sub(assets, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return
	}
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
}

// handle registers h and counts its responses under the route pattern.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.ObserveHTTP(pattern, rec.status)
	}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type monthPage struct {
	Title   string
	Message string
	Grid    calendar.Grid
	Counts  map[string]int
	Today   string
	Prev    string
	Next    string
}

// handleMonth renders GET /?month=MM-yyyy (current month by default).
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	today := s.now().In(s.loc)
	year, month := today.Year(), today.Month()
	if v := r.URL.Query().Get("month"); v != "" {
		var err error
		if year, month, err = calendar.ParseMonth(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	events, err := s.store.ListAll(r.Context())
	if err != nil {
		s.serverError(w, "list events", err)
		return
	}
	grid := calendar.Month(year, month, s.weekStart)
	s.render(w, http.StatusOK, "month.html", monthPage{
		Title:  grid.Title(),
		Grid:   grid,
		Counts: grid.Count(events),
		Today:  model.FormatDay(today),
		Prev:   grid.Prev().Key(),
		Next:   grid.Next().Key(),
	})
}

type dayPage struct {
	Title      string
	Message    string
	Day        string
	Month      string
	Prev       string
	Next       string
	Preset     string
	Events     []model.Event
	Rigidities []model.Rigidity
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	s.renderDay(w, r, http.StatusOK, r.PathValue("day"), r.URL.Query().Get("msg"))
}

func (s *Server) renderDay(w http.ResponseWriter, r *http.Request, status int, day, msg string) {
	t, err := calendar.ParseDay(day)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := model.FormatDay(t)
	events, err := s.store.ListByDay(r.Context(), key)
	if err != nil {
		s.serverError(w, "list day", err)
		return
	}
	s.render(w, status, "day.html", dayPage{
		Title:      key,
		Message:    msg,
		Day:        key,
		Month:      t.Format(calendar.MonthLayout),
		Prev:       model.FormatDay(t.AddDate(0, 0, -1)),
		Next:       model.FormatDay(t.AddDate(0, 0, 1)),
		Preset:     key + " " + model.DefaultTime,
		Events:     events,
		Rigidities: model.Rigidities,
	})
}

// handleAddForm handles the day page's add form. Invalid input re-renders
// the day page with a message and never reaches the store.
func (s *Server) handleAddForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	day := r.PostForm.Get("day")
	ev, err := s.eventFromInput(r.PostForm.Get("name"), r.PostForm.Get("date"), r.PostForm.Get("rigidity"), r.PostForm.Get("location"), day)
	if err != nil {
		s.renderDay(w, r, http.StatusBadRequest, day, err.Error())
		return
	}
	id, err := s.store.Insert(r.Context(), ev)
	if err != nil {
		s.serverError(w, "insert event", err)
		return
	}
	appLog.Info("event added", "id", id, "date", ev.Date)
	redirectToDay(w, r, dayOfDate(ev.Date, day), fmt.Sprintf("Added %q", ev.Name))
}

// handleRemoveForm removes by id when given, otherwise by exact name.
func (s *Server) handleRemoveForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	day := r.PostForm.Get("day")

	if idText := strings.TrimSpace(r.PostForm.Get("id")); idText != "" {
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			s.renderDay(w, r, http.StatusBadRequest, day, "invalid id")
			return
		}
		err = s.store.DeleteByID(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			redirectToDay(w, r, day, fmt.Sprintf("No event #%d", id))
		case err != nil:
			s.serverError(w, "delete event", err)
		default:
			redirectToDay(w, r, day, fmt.Sprintf("Removed #%d", id))
		}
		return
	}

	name := r.PostForm.Get("name")
	if strings.TrimSpace(name) == "" {
		s.renderDay(w, r, http.StatusBadRequest, day, "name is required")
		return
	}
	n, err := s.store.DeleteByName(r.Context(), name)
	if err != nil {
		s.serverError(w, "delete by name", err)
		return
	}
	redirectToDay(w, r, day, fmt.Sprintf("Removed %d event(s) named %q", n, name))
}

func redirectToDay(w http.ResponseWriter, r *http.Request, day, msg string) {
	target := "/"
	if _, err := calendar.ParseDay(day); err == nil {
		target = "/day/" + day + "?msg=" + url.QueryEscape(msg)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// dayOfDate returns the dd-MM-yyyy prefix of a canonical date, or fallback.
func dayOfDate(date, fallback string) string {
	if len(date) >= len(model.DayLayout) {
		if _, err := calendar.ParseDay(date[:len(model.DayLayout)]); err == nil {
			return date[:len(model.DayLayout)]
		}
	}
	return fallback
}

func (s *Server) eventFromInput(name, date, rigidity, location, day string) (model.Event, error) {
	if strings.TrimSpace(name) == "" {
		return model.Event{}, fmt.Errorf("%w: name is required", model.ErrInvalidEvent)
	}
	resolved, err := model.ResolveDate(date, day, s.loc)
	if err != nil {
		return model.Event{}, err
	}
	r, err := model.ParseRigidity(rigidity)
	if err != nil {
		return model.Event{}, err
	}
	ev := model.Event{
		Name:     strings.TrimSpace(name),
		Date:     resolved,
		Rigidity: r,
		Location: strings.TrimSpace(location),
	}
	return ev, ev.Validate()
}

// GET /api/events[?day=dd-MM-yyyy]
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var (
		events []model.Event
		err    error
	)
	if day, ok := r.URL.Query()["day"]; ok {
		events, err = s.store.ListByDay(r.Context(), day[0])
	} else {
		events, err = s.store.ListAll(r.Context())
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type createEventRequest struct {
	Name     string `json:"name"`
	Date     string `json:"date"`
	Rigidity string `json:"rigidity"`
	Location string `json:"location"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	ev, err := s.eventFromInput(req.Name, req.Date, req.Rigidity, req.Location, "")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	id, err := s.store.Insert(r.Context(), ev)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	ev.ID = id
	w.Header().Set("Location", "/api/events/"+strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ev, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteByID(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// DELETE /api/events?name=<exact name>
func (s *Server) handleDeleteByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	n, err := s.store.DeleteByName(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: n})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListAll(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var buf bytes.Buffer
	n, err := ics.Export(&buf, events, ics.ExportOptions{Location: s.loc, Name: "Calen", Now: s.now()})
	if err != nil {
		s.serverError(w, "export", err)
		return
	}
	appLog.Debug("export served", "events", n, "skipped", len(events)-n)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calen.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type syncResponse struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil || len(s.syncer.Feeds()) == 0 {
		writeError(w, http.StatusNotFound, "no feeds configured")
		return
	}
	report, err := s.syncer.RunOnce(r.Context())
	if err != nil {
		s.serverError(w, "sync", err)
		return
	}
	resp := syncResponse{Imported: report.Imported, Skipped: report.Skipped, Errors: []string{}}
	for _, e := range report.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) render(w http.ResponseWriter, status int, page string, data any) {
	var buf bytes.Buffer
	if err := s.pages[page].ExecuteTemplate(&buf, "base", data); err != nil {
		s.serverError(w, "render "+page, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) serverError(w http.ResponseWriter, what string, err error) {
	appLog.Error("http: "+what+" failed", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// writeStoreError maps domain errors to status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("http: store call failed", err)
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
