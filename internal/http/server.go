package httpapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alphabot-ai/tiredd/internal/app"
	"github.com/alphabot-ai/tiredd/internal/config"
	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/rate"
)

const maxBodyBytes = 1 << 20

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tiredd_http_requests_total",
	Help: "HTTP requests by route and status code",
}, []string{"route", "status"})

type Server struct {
	app      *app.App
	limiter  rate.Limiter
	cfg      config.Config
	validate *validator.Validate
	logger   *slog.Logger

	once sync.Once
	mux  *http.ServeMux
}

func NewServer(a *app.App, limiter rate.Limiter, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		app:      a,
		limiter:  limiter,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("POST /readSession", s.handleReadSession)
	mux.HandleFunc("POST /post", s.handleCreatePost)
	mux.HandleFunc("POST /posts", s.handleListPosts)
	mux.HandleFunc("POST /getPost", s.handleGetPost)
	mux.HandleFunc("POST /comment", s.handleCreateComment)
	mux.HandleFunc("POST /comments", s.handleListComments)
	mux.HandleFunc("POST /upvotePost", s.voteHandler(model.KindPost, model.Up))
	mux.HandleFunc("POST /downvotePost", s.voteHandler(model.KindPost, model.Down))
	mux.HandleFunc("POST /upvoteComment", s.voteHandler(model.KindComment, model.Up))
	mux.HandleFunc("POST /downvoteComment", s.voteHandler(model.KindComment, model.Down))
	mux.HandleFunc("POST /auth/challenge", s.handleAuthChallenge)
	mux.HandleFunc("POST /auth/key", s.handleAddKey)
	mux.HandleFunc("POST /auth/verify", s.handleAuthVerify)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	s.mux = mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(s.setupRoutes)
	start := time.Now()

	w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	_, pattern := s.mux.Handler(r)
	s.mux.ServeHTTP(rec, r)

	route := "unmatched"
	if pattern != "" {
		route = r.URL.Path
	}
	httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	s.logger.Info("request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// decode reads an optional JSON body into dest and validates it. An empty
// body leaves dest at its zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := readJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), dest); err != nil {
		s.writeError(w, errs.E("decode", errs.InvalidInput, err))
		return false
	}
	if err := s.validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			err = fmt.Errorf("%s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		s.writeError(w, errs.E("validate", errs.InvalidInput, err))
		return false
	}
	return true
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	err := json.NewDecoder(body).Decode(dest)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// sessionToken prefers the body's sessionId and falls back to a bearer
// header.
func sessionToken(r *http.Request, bodyToken string) string {
	if t := strings.TrimSpace(bodyToken); t != "" {
		return t
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	if limit <= 0 || s.limiter == nil {
		return true
	}
	key := fmt.Sprintf("%s:ip:%s", action, clientIP(r))
	if ok, retry := s.limiter.Allow(key, limit); !ok {
		writeRateLimit(w, retry)
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Unauthenticated, errs.InvalidCredentials:
		return http.StatusUnauthorized
	case errs.NotFound:
		return http.StatusNotFound
	case errs.InvalidContent, errs.InvalidParent, errs.InvalidInput:
		return http.StatusBadRequest
	case errs.AlreadyVoted:
		return http.StatusConflict
	case errs.Transient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError is the only place a kind becomes a status code. Internal
// details are logged, not returned.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	body := errorView{Error: kind.String(), Kind: kind.Code()}
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		s.logger.Error("request failed", "kind", kind.String(), "error", err)
	} else {
		var e *errs.Error
		if errors.As(err, &e) && e.Err != nil {
			body.Detail = e.Err.Error()
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	secs := int(retry.Seconds() + 0.999)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": secs,
	})
}
