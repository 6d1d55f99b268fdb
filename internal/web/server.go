package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"packlist/internal/filter"
	"packlist/internal/model"
	"packlist/internal/reconcile"
	"packlist/internal/view"

	"github.com/starfederation/datastar-go/datastar"
	"go.uber.org/zap"
)

//go:embed static/*.css
var assetsFS embed.FS

type ServerConfig struct {
	Addr  string
	Title string
	// Notes is markdown shown under the checklist.
	Notes string
	// Target is the departure time the countdown counts towards.
	Target time.Time
	// InitialFilter is "all" or "first"; it applies when a request names no person.
	InitialFilter string
	// Sections lists the categories that get a section, in order. Nil means
	// the known categories.
	Sections []model.Category

	// Hub, when set, is mounted at /db so other clients can sync through
	// this process.
	Hub http.Handler
	Log *zap.Logger
}

type Server struct {
	cfg     ServerConfig
	session *reconcile.Session
	log     *zap.Logger
	now     func() time.Time
}

func NewServer(cfg ServerConfig, session *reconcile.Session) (*Server, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.Title = strings.TrimSpace(cfg.Title)
	cfg.InitialFilter = strings.ToLower(strings.TrimSpace(cfg.InitialFilter))
	if session == nil {
		return nil, errors.New("web: session is nil")
	}
	switch cfg.InitialFilter {
	case "", "all", "first":
	default:
		return nil, errors.New("web: invalid initial filter (expected all|first)")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, session: session, log: log.Named("web"), now: time.Now}, nil
}

func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /static/app.css", s.handleAppCSS)
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("POST /items", s.handleItemCreate)
	mux.HandleFunc("POST /items/{itemId}/check", s.handleItemCheck)
	mux.HandleFunc("POST /items/{itemId}/delete", s.handleItemDelete)
	mux.HandleFunc("POST /save", s.handleSave)
	if hub := s.cfg.Hub; hub != nil {
		mux.Handle("GET /db", hub)
	}
	return mux
}

// Serve runs the HTTP server on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		// SSE streams only end when their request context does.
		_ = hs.Close()
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func redirectBack(w http.ResponseWriter, r *http.Request, fallback string) {
	ref := strings.TrimSpace(r.Header.Get("Referer"))
	if ref != "" {
		http.Redirect(w, r, ref, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, fallback, http.StatusSeeOther)
}

// done finishes a successful form post. Datastar requests get their update
// over the event stream; plain forms are redirected back.
func done(w http.ResponseWriter, r *http.Request, person string) {
	if r.Header.Get("Datastar-Request") != "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	redirectBack(w, r, homeURL(person))
}

func homeURL(person string) string {
	person = strings.TrimSpace(person)
	if person == "" {
		return "/"
	}
	return "/?person=" + url.QueryEscape(person)
}

func httpStatus(err error) int {
	var nf reconcile.NotFoundError
	switch {
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.Is(err, reconcile.ErrEmptyName),
		errors.Is(err, reconcile.ErrInvalidPerson),
		errors.Is(err, reconcile.ErrAggregateDerived):
		return http.StatusBadRequest
	case errors.Is(err, reconcile.ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func (s *Server) handleAppCSS(w http.ResponseWriter, r *http.Request) {
	b, err := assetsFS.ReadFile("static/app.css")
	if err != nil || len(b) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// filterFor resolves the filter a request asks for. Without ?person= the
// configured initial filter applies.
func (s *Server) filterFor(r *http.Request, snap model.Snapshot) filter.State {
	q := r.URL.Query()
	if q.Has("person") {
		return filter.Select(q.Get("person"))
	}
	return filter.Initial(s.cfg.InitialFilter, snap.Roster)
}

func (s *Server) buildPage(snap model.Snapshot, st filter.State) view.Page {
	cfg := s.cfg
	p := view.Build(snap, st, cfg.Sections)
	if err := p.Err(); err != nil {
		s.log.Warn("skipping categories without a section", zap.Strings("categories", p.Missing), zap.Error(err))
	}
	now := s.now()
	status := s.session.SyncStatus()
	p.Title = cfg.Title
	p.Notes = cfg.Notes
	p.Countdown = view.Countdown(cfg.Target, now)
	p.Sync = string(status.State)
	p.SyncError = status.Error
	p.LastSync = view.Since(status.LastSync, now)
	return p
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	st := s.filterFor(r, snap)
	page := s.buildPage(snap, st)
	html, err := view.RenderDocument(page, "/events?person="+url.QueryEscape(st.Key()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.serveDatastarStream(w, r, func(ctx context.Context) (string, error) {
		snap, err := s.session.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		return view.RenderHTML(s.buildPage(snap, s.filterFor(r, snap)))
	})
}

// serveDatastarStream patches #packlist-main with a fresh render whenever the
// session reports a change, until the client goes away or the session ends.
func (s *Server) serveDatastarStream(w http.ResponseWriter, r *http.Request, render func(ctx context.Context) (string, error)) {
	sse := datastar.NewSSE(w, r)

	ch, cancel := s.session.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	patch := func() {
		html, err := render(sse.Context())
		if err != nil {
			_ = sse.ExecuteScript(fmt.Sprintf(`console.error(%q)`, err.Error()))
			return
		}
		if strings.TrimSpace(html) == "" {
			return
		}
		_ = sse.PatchElements(html, datastar.WithSelector("#"+view.MainID), datastar.WithMode(datastar.ElementPatchModeOuter))
		st := s.session.SyncStatus()
		_ = sse.MarshalAndPatchSignals(map[string]any{"sync": string(st.State), "pending": st.Pending})
	}
	patch()

	for {
		select {
		case <-sse.Context().Done():
			return
		case <-s.session.Done():
			return
		case <-keepAlive.C:
			_ = sse.PatchSignals([]byte(`{}`))
		case _, ok := <-ch:
			if !ok {
				return
			}
			patch()
		}
	}
}

func (s *Server) handleItemCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	cat := model.ParseCategory(r.Form.Get("category"))
	name := strings.TrimSpace(r.Form.Get("name"))
	qty := strings.TrimSpace(r.Form.Get("quantity"))
	persons := model.ParsePersons(r.Form.Get("persons"))

	it, err := s.session.AddItem(r.Context(), cat, name, qty, persons)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("item added", zap.String("id", it.ID), zap.String("category", string(it.Category)))
	done(w, r, r.Form.Get("person"))
}

func (s *Server) handleItemCheck(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("itemId"))
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	person := strings.TrimSpace(r.Form.Get("person"))
	checked, err := strconv.ParseBool(strings.TrimSpace(r.Form.Get("checked")))
	if err != nil {
		http.Error(w, "invalid checked value (expected true|false)", http.StatusBadRequest)
		return
	}
	if err := s.session.SetChecked(r.Context(), person, id, checked); err != nil {
		s.writeError(w, err)
		return
	}
	done(w, r, person)
}

func (s *Server) handleItemDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("itemId"))
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(r.Form.Get("confirm")) != "yes" {
		http.Error(w, "delete requires confirm=yes", http.StatusBadRequest)
		return
	}
	if err := s.session.DeleteItem(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("item deleted", zap.String("id", id))
	done(w, r, r.Form.Get("person"))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Save(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	done(w, r, "")
}
