package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"refery/api/internal/auth"
	"refery/api/internal/metrics"
	"refery/api/internal/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session Session)

func (s *HTTPServer) routes() *mux.Router {
	root := mux.NewRouter()
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	root.Use(s.instrument)
	root.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Full paths on the root router: a /api subrouter reports a wrong
	// method as 404 instead of 405.
	api := func(path string, handler http.HandlerFunc) *mux.Route {
		return root.HandleFunc("/api"+path, handler)
	}
	api("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	api("/auth/signup", s.handleAuthSignUp).Methods(http.MethodPost)
	api("/auth/signin", s.handleAuthSignIn).Methods(http.MethodPost)
	api("/auth/verify-email", s.handleAuthVerifyEmail).Methods(http.MethodPost)
	api("/auth/reset-password/request", s.handleAuthRequestReset).Methods(http.MethodPost)
	api("/auth/reset-password", s.handleAuthResetPassword).Methods(http.MethodPost)

	api("/session", s.handleSession).Methods(http.MethodGet)
	api("/session/refresh", s.handleSessionRefresh).Methods(http.MethodPost)
	api("/session/logout", s.authed(s.handleSessionLogout)).Methods(http.MethodPost)
	api("/me", s.authed(s.handleMe)).Methods(http.MethodGet)
	api("/me", s.authed(s.handleUpdateMe)).Methods(http.MethodPut)

	api("/jobs", s.authed(s.handleJobBoard)).Methods(http.MethodGet)
	api("/jobs", s.authed(s.handleCreateJob)).Methods(http.MethodPost)
	api("/jobs/import", s.authed(s.handleImportJobs)).Methods(http.MethodPost)
	api("/jobs/{id}", s.authed(s.handleGetJob)).Methods(http.MethodGet)
	api("/jobs/{id}", s.authed(s.handleUpdateJob)).Methods(http.MethodPut)
	api("/jobs/{id}", s.authed(s.handleDeleteJob)).Methods(http.MethodDelete)
	api("/jobs/{id}/status", s.authed(s.handleJobStatus)).Methods(http.MethodPost)
	api("/jobs/{id}/history", s.authed(s.handleJobHistory)).Methods(http.MethodGet)
	api("/jobs/{id}/history/{hash}", s.authed(s.handleJobRevision)).Methods(http.MethodGet)
	api("/jobs/{id}/referrals", s.authed(s.handleJobReferrals)).Methods(http.MethodGet)
	api("/jobs/{id}/referrals", s.authed(s.handleCreateReferral)).Methods(http.MethodPost)
	api("/jobs/{id}/links", s.authed(s.handleCreateLink)).Methods(http.MethodPost)
	api("/jobs/{id}/apply", s.authed(s.handleApply)).Methods(http.MethodPost)
	api("/poster/jobs", s.authed(s.handleManagedJobs)).Methods(http.MethodGet)
	api("/r/{code}", s.handleResolveLink).Methods(http.MethodGet)

	api("/referrals", s.authed(s.handleListReferrals)).Methods(http.MethodGet)
	api("/referrals/{id}", s.authed(s.handleGetReferral)).Methods(http.MethodGet)
	api("/referrals/{id}/status", s.authed(s.handleReferralStatus)).Methods(http.MethodPost)
	api("/referrals/{id}/events", s.authed(s.handleReferralEvents)).Methods(http.MethodGet)
	api("/referrals/{id}/resume", s.authed(s.handleUploadResume)).Methods(http.MethodPost)
	api("/referrals/{id}/resume", s.authed(s.handleResumeURL)).Methods(http.MethodGet)

	api("/payouts", s.authed(s.handleListPayouts)).Methods(http.MethodGet)
	api("/payouts/statement", s.authed(s.handleStatement)).Methods(http.MethodGet)
	api("/payouts/{id}", s.authed(s.handleGetPayout)).Methods(http.MethodGet)
	api("/payouts/{id}/status", s.authed(s.handlePayoutStatus)).Methods(http.MethodPost)
	api("/admin/payouts/run", s.authed(s.handleRunPayouts)).Methods(http.MethodPost)

	api("/dashboard", s.authed(s.handleDashboard)).Methods(http.MethodGet)
	api("/chat", s.handleChat).Methods(http.MethodPost)
	return root
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := true
	checks := map[string]any{}
	for name, err := range s.service.Readiness(ctx) {
		if err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request, session Session) {
	dashboard, err := s.service.Dashboard(r.Context(), session)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// handleChat answers anonymous visitors too; a valid token only makes the
// replies role-aware.
func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var body ChatInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := validate.Struct(body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var session *Session
	if token := bearerToken(r); token != "" {
		if found, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = &found
		}
	}
	writeJSON(w, http.StatusOK, s.service.Chat(body.Message, session))
}

// Plumbing

func (s *HTTPServer) authed(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next(w, r, session)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

// instrument runs inside the router so metrics and spans are labelled by
// route template rather than raw path.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		ctx, span := tracing.Tracer("http").Start(r.Context(), r.Method+" "+route)
		defer span.End()

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", writer.status),
			attribute.String("request.id", requestID(r.Context())),
		)
		if writer.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(writer.status))
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(writer.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(started).Seconds())
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("X-Frame-Options", "DENY")
	header.Set("Referrer-Policy", "no-referrer")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
