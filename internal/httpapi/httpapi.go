package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/service"
)

const maxJSONBody = 1 << 20

type Options struct {
	Logger         *zap.Logger
	AllowedOrigin  string
	MaxUploadBytes int64
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	logger        *zap.Logger
	allowedOrigin string
	maxUpload     int64
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		opts.Logger.Warn("[http] crypto/rand failed, using static csrf secret", zap.Error(err))
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		logger:        opts.Logger,
		allowedOrigin: opts.AllowedOrigin,
		maxUpload:     opts.MaxUploadBytes,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apperr.NotFound("route not found"))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMethodNotAllowed(w)
	})

	router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/csrf-token", a.handleCSRFToken).Methods(http.MethodGet)
	api.HandleFunc("/files/{key:.+}", a.handleFile).Methods(http.MethodGet)

	secured := api.NewRoute().Subrouter()
	secured.Use(a.requireAuth, a.requireCSRF)

	secured.HandleFunc("/closings", a.handleListClosings).Methods(http.MethodGet)
	secured.HandleFunc("/closings", a.handleCreateClosing).Methods(http.MethodPost)
	secured.HandleFunc("/closings/{id}", a.handleGetClosing).Methods(http.MethodGet)
	secured.HandleFunc("/closings/{id}", a.handleUpdateClosing).Methods(http.MethodPatch)
	secured.HandleFunc("/closings/{id}", a.handleDeleteClosing).Methods(http.MethodDelete)
	secured.HandleFunc("/closings/{id}/submit", a.handleSubmitClosing).Methods(http.MethodPost)
	secured.HandleFunc("/closings/{id}/receive-cash", a.handleReceiveCash).Methods(http.MethodPost)
	secured.HandleFunc("/closings/{id}/deposit", a.handleCreateDeposit).Methods(http.MethodPost)

	secured.HandleFunc("/deposits", a.handleListDeposits).Methods(http.MethodGet)
	secured.HandleFunc("/deposits/{id}", a.handleGetDeposit).Methods(http.MethodGet)
	secured.HandleFunc("/deposits/{id}/approval", a.handleApproval).Methods(http.MethodPost)
	secured.HandleFunc("/deposits/{id}/bank-confirm", a.handleBankConfirm).Methods(http.MethodPost)
	secured.HandleFunc("/deposits/{id}/staff-confirm", a.handleStaffConfirm).Methods(http.MethodPost)

	secured.HandleFunc("/branches", a.handleListBranches).Methods(http.MethodGet)
	secured.HandleFunc("/branches", a.handleCreateBranch).Methods(http.MethodPost)
	secured.HandleFunc("/branches/{id}", a.handleGetBranch).Methods(http.MethodGet)
	secured.HandleFunc("/branches/{id}", a.handleUpdateBranch).Methods(http.MethodPatch)
	secured.HandleFunc("/branches/{id}", a.handleDeleteBranch).Methods(http.MethodDelete)

	secured.HandleFunc("/users", a.handleListUsers).Methods(http.MethodGet)
	secured.HandleFunc("/users", a.handleCreateUser).Methods(http.MethodPost)
	secured.HandleFunc("/users/{id}/status", a.handleUserStatus).Methods(http.MethodPatch)

	secured.HandleFunc("/bank-accounts", a.handleListBankAccounts).Methods(http.MethodGet)
	secured.HandleFunc("/bank-accounts", a.handleCreateBankAccount).Methods(http.MethodPost)
	secured.HandleFunc("/bank-accounts/{id}/{action:activate|deactivate}", a.handleBankAccountActive).Methods(http.MethodPost)

	secured.HandleFunc("/system-config", a.handleListSystemConfig).Methods(http.MethodGet)
	secured.HandleFunc("/system-config/{key}", a.handleGetSystemConfig).Methods(http.MethodGet)
	secured.HandleFunc("/system-config/{key}", a.handleSetSystemConfig).Methods(http.MethodPut)

	secured.HandleFunc("/audit-logs", a.handleAuditLogs).Methods(http.MethodGet)

	secured.HandleFunc("/reports/daily-summary", a.handleDailySummary).Methods(http.MethodGet)
	secured.HandleFunc("/reports/daily-summary/send", a.handleSendDailySummary).Methods(http.MethodPost)

	secured.HandleFunc("/uploads", a.handleUpload).Methods(http.MethodPost)
	secured.HandleFunc("/ocr/extract", a.handleOCRExtract).Methods(http.MethodPost)

	return a.withMiddleware(router)
}

// requireAuth resolves the bearer token into an actor. Role checks live in
// the service so every transport enforces the same rules.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Ping(r.Context()); err != nil {
		a.logger.Warn("[http] health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok": false,
			"at": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeStatus(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "too many login attempts")
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token valid for the current hour bucket.
// Clients send it in X-CSRF-Token on every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// Login is called before a client can fetch a CSRF token.
// requireCSRF guards mutations on authenticated routes. It runs after
// requireAuth so a request without credentials is UNAUTHENTICATED first.
func (a *API) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
				a.writeError(w, r, apperr.Forbidden("missing or invalid CSRF token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		contentType := strings.ToLower(r.Header.Get("Content-Type"))
		switch {
		case strings.HasPrefix(contentType, "multipart/form-data"):
			r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload+maxJSONBody)
		case r.Body != nil:
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		a.logger.Info("[http] request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return bodyError(err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Validation("request body too large")
	}
	return apperr.Validation("invalid request body: %v", err)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func parseOptionalBool(raw string) (*bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, apperr.Validation("invalid boolean %q", raw)
	}
	return &v, nil
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindUnauthenticated: http.StatusUnauthorized,
	apperr.KindForbidden:       http.StatusForbidden,
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindInvalidStatus:   http.StatusConflict,
	apperr.KindDuplicate:       http.StatusConflict,
	apperr.KindValidation:      http.StatusBadRequest,
	apperr.KindInternal:        http.StatusInternalServerError,
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps an error kind onto a status code. 5xx responses get a
// generic message so SQL errors and file paths never reach the client.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Wrap(apperr.KindInternal, err, "")
	}
	status, ok := kindStatus[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := errorBody{Code: string(appErr.Kind), Message: appErr.Message, Details: appErr.Details}
	if body.Message == "" {
		body.Message = strings.ToLower(strings.ReplaceAll(string(appErr.Kind), "_", " "))
	}
	if status >= 500 {
		a.logger.Error("[http] internal error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		body = errorBody{Code: string(apperr.KindInternal), Message: "internal server error"}
	}
	writeJSON(w, status, body)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeStatus(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func writeStatus(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
