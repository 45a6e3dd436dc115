package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kassza/internal/domain"
	"kassza/internal/ledger"
	"kassza/internal/metrics"
	"kassza/internal/service"
	"kassza/internal/store"
)

// TillFeed streams till states to the SSE endpoint.
type TillFeed interface {
	Watch(ctx context.Context) <-chan ledger.TillState
}

type Options struct {
	AllowedOrigin string
	Logger        *slog.Logger
	// LoginAttempts caps login requests per client IP per minute.
	LoginAttempts int
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	till          TillFeed
	allowedOrigin string
	logger        *slog.Logger
	loginAttempts int
	heartbeat     time.Duration
}

func New(svc *service.Service, auth *AuthManager, till TillFeed, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LoginAttempts < 1 {
		opts.LoginAttempts = 5
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	return &API{
		service:       svc,
		auth:          auth,
		till:          till,
		allowedOrigin: opts.AllowedOrigin,
		logger:        opts.Logger,
		loginAttempts: opts.LoginAttempts,
		heartbeat:     opts.Heartbeat,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(300, time.Minute))

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.LimitByIP(a.loginAttempts, time.Minute)).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Use(requireRole(domain.RoleAdmin, domain.RoleStaff))

			r.Post("/shifts/open", a.handleShiftOpen)
			r.Post("/shifts/close", a.handleShiftClose)
			r.Get("/shifts/active", a.handleShiftActive)
			r.Get("/shifts", a.handleShiftList)
			r.Get("/shifts/{id}/report", a.handleShiftReport)

			r.Get("/till/summary", a.handleTillSummary)
			r.Get("/till/stream", a.handleTillStream)

			r.Post("/extra-transactions", a.handleExtraCreate)
			r.Get("/extra-transactions", a.handleExtraList)

			r.Post("/sales", a.handleSaleCreate)
			r.Get("/sales", a.handleSaleList)
			r.Get("/sales/export.xlsx", a.handleSaleExport)
			r.Patch("/sales/{id}", a.handleSaleEdit)
			r.Delete("/sales/{id}", a.handleSaleDelete)

			r.Get("/items/{kind}", a.handleItemList)

			r.Get("/loans", a.handleLoanList)
			r.Post("/loans", a.handleLoanCreate)
			r.Post("/loans/{id}/return", a.handleLoanReturn)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleAdmin))

				r.Post("/items/{kind}", a.handleItemCreate)
				r.Patch("/items/{kind}/{id}", a.handleItemUpdate)
				r.Delete("/items/{kind}/{id}", a.handleItemDelete)

				r.Get("/users", a.handleUserList)
				r.Post("/users", a.handleUserCreate)
				r.Patch("/users/{username}", a.handleUserUpdate)

				r.Get("/audit-logs", a.handleAuditLogs)
				r.Get("/reports/closing", a.handleClosingReports)
			})
		})
	})

	return r
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			if _, ok := allowed[actor.Role]; !ok {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one line per request and records the latency histogram
// under the matched route pattern.
func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()

		next.ServeHTTP(ww, r)

		latency := time.Since(startedAt)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(latency.Seconds())

		a.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", status,
			"latency", latency,
			"bytes", ww.BytesWritten(),
			"client_ip", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// statusFor maps domain and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidTransaction), errors.Is(err, store.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInactiveAccount), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrShiftAlreadyOpen), errors.Is(err, service.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, service.ErrNoOpenShift):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
