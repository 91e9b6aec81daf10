package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"epcal/internal/config"
	"epcal/internal/ics"
	appLog "epcal/internal/log"
	"epcal/internal/metrics"
	"epcal/internal/model"
	"epcal/internal/service"
)

// Builder produces a user's calendar document.
type Builder interface {
	BuildICS(ctx context.Context, username string) (string, error)
}

// Server serves the calendar feed, a small HTML front page, a JSON preview
// and operational endpoints.
type Server struct {
	cfg     *config.Config
	svc     Builder
	metrics *metrics.Metrics
	router  chi.Router

	homePage  []byte
	indexPage []byte
}

//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server. m may be nil, in which case /metrics is
// not mounted.
func NewServer(cfg *config.Config, svc Builder, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: m,
		router:  chi.NewRouter(),
	}
	s.homePage = mustStatic("home.html")
	s.indexPage = mustStatic("episode-calendar.html")
	s.registerRoutes()
	return s
}

func mustStatic(name string) []byte {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		panic(err)
	}
	b, err := fs.ReadFile(sub, name)
	if err != nil {
		panic(err)
	}
	return b
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
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
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.cfg.RequestLogging {
		r.Use(requestLogger)
	}
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	if s.cfg.Metrics && s.metrics != nil {
		h := s.metrics.Handler()
		if s.cfg.BasicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled for /metrics")
			h = s.basicAuthMiddleware(h)
		}
		r.Method(http.MethodGet, "/metrics", h)
	}

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
		r.Get("/", s.handleHome)
		r.Get("/episode-calendar", s.handleIndex)
		r.Get("/episode-calendar/{name}", s.handleCalendar)
		r.Get("/api/events/{username}", s.handleEvents)
	})
}

// basicAuthMiddleware guards next with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="epcal", charset="UTF-8"`)
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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, s.homePage)
}

// handleIndex serves the link generator, or the feed itself when the
// legacy ?username= form is used.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeHTML(w, s.indexPage)
		return
	}
	s.writeCalendar(w, r, username)
}

// handleCalendar serves GET /episode-calendar/{username}.ics.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	username, ok := strings.CutSuffix(name, ".ics")
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}
	s.writeCalendar(w, r, username)
}

func (s *Server) writeCalendar(w http.ResponseWriter, r *http.Request, username string) {
	doc, err := s.svc.BuildICS(r.Context(), username)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			appLog.Error("failed to build ics", err, "username", username, "request_id", middleware.GetReqID(r.Context()))
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	contentType := "text/calendar; charset=utf-8"
	if isBrowser(r) {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// eventsResponse is the JSON response shape for /api/events/{username}.
type eventsResponse struct {
	Username    string             `json:"username"`
	Occurrences []model.Occurrence `json:"occurrences"`
}

// handleEvents returns the user's feed as JSON, read back from the same
// document subscription clients receive.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	username := pathParam(r, "username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	doc, err := s.svc.BuildICS(r.Context(), username)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			appLog.Error("api events: build failed", err, "username", username)
		}
		writeError(w, status, strings.ToLower(http.StatusText(status)))
		return
	}

	occ, err := ics.Parse([]byte(doc))
	if err != nil {
		appLog.Error("api events: parse failed", err, "username", username)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, eventsResponse{Username: username, Occurrences: occ})
}

func statusFor(err error) int {
	if errors.Is(err, service.ErrUserNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// isBrowser reports whether the request looks like it came from a web
// browser, which should display the feed instead of downloading it.
func isBrowser(r *http.Request) bool {
	if strings.Contains(strings.ToLower(r.UserAgent()), "mozilla") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func writeHTML(w http.ResponseWriter, page []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
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

// requestLogger logs one line per request through the application logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			appLog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
