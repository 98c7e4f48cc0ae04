package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pumpledger/internal/domain"
	"pumpledger/internal/ledger"
	"pumpledger/internal/report"
)

type API struct {
	ledger        *ledger.Service
	reports       *report.Reporter
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	logger        logrus.FieldLogger
}

func New(svc *ledger.Service, reports *report.Reporter, auth *AuthManager, allowedOrigin string, logger logrus.FieldLogger) *API {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{
		ledger:        svc,
		reports:       reports,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        logger,
	}
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

// Allow records an attempt for key and reports whether it fits in the
// sliding window.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
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
	mux := http.NewServeMux()
	staff := []string{domain.RoleOperator, domain.RoleAdmin}
	admin := domain.RoleAdmin

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/shifts/active", a.requireAuth(a.handleActiveShift, staff...))
	mux.HandleFunc("POST /api/v1/shifts/start", a.requireAuth(a.handleStartShift, admin))
	mux.HandleFunc("POST /api/v1/shifts/{id}/end", a.requireAuth(a.handleEndShift, staff...))

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, staff...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, admin))
	mux.HandleFunc("GET /api/v1/tanks", a.requireAuth(a.handleListTanks, staff...))
	mux.HandleFunc("POST /api/v1/tanks", a.requireAuth(a.handleCreateTank, admin))
	mux.HandleFunc("POST /api/v1/tanks/{id}/dips", a.requireAuth(a.handleRecordDip, staff...))
	mux.HandleFunc("GET /api/v1/nozzles", a.requireAuth(a.handleListNozzles, staff...))
	mux.HandleFunc("POST /api/v1/nozzles", a.requireAuth(a.handleCreateNozzle, admin))
	mux.HandleFunc("GET /api/v1/accounts", a.requireAuth(a.handleListAccounts, staff...))
	mux.HandleFunc("POST /api/v1/accounts", a.requireAuth(a.handleCreateAccount, admin))
	mux.HandleFunc("PATCH /api/v1/accounts/{id}/status", a.requireAuth(a.handleAccountStatus, admin))

	mux.HandleFunc("GET /api/v1/readings", a.requireAuth(a.handleListReadings, staff...))
	mux.HandleFunc("POST /api/v1/readings", a.requireAuth(a.handleRecordReading, staff...))
	mux.HandleFunc("PATCH /api/v1/readings/{id}", a.requireAuth(a.handleEditReading, staff...))
	mux.HandleFunc("DELETE /api/v1/readings/{id}", a.requireAuth(a.handleDeleteReading, staff...))

	mux.HandleFunc("GET /api/v1/invoices/{kind}", a.requireAuth(a.handleListInvoices, staff...))
	mux.HandleFunc("POST /api/v1/invoices/{kind}", a.requireAuth(a.handleCreateInvoice, staff...))
	mux.HandleFunc("PATCH /api/v1/invoices/{kind}/{id}", a.requireAuth(a.handleEditInvoice, staff...))
	mux.HandleFunc("DELETE /api/v1/invoices/{kind}/{id}", a.requireAuth(a.handleDeleteInvoice, staff...))

	mux.HandleFunc("POST /api/v1/accounts/{id}/receipts", a.requireAuth(a.handleApplyReceipt, staff...))
	mux.HandleFunc("GET /api/v1/accounts/{id}/statement", a.requireAuth(a.handleStatement, staff...))
	mux.HandleFunc("PATCH /api/v1/receipts/{id}", a.requireAuth(a.handleEditReceipt, staff...))
	mux.HandleFunc("DELETE /api/v1/receipts/{id}", a.requireAuth(a.handleDeleteReceipt, staff...))

	mux.HandleFunc("GET /api/v1/bills", a.requireAuth(a.handleListBills, staff...))
	mux.HandleFunc("POST /api/v1/bills", a.requireAuth(a.handleCreateBill, staff...))
	mux.HandleFunc("PATCH /api/v1/bills/{id}", a.requireAuth(a.handleEditBill, staff...))
	mux.HandleFunc("DELETE /api/v1/bills/{id}", a.requireAuth(a.handleDeleteBill, staff...))

	mux.HandleFunc("GET /api/v1/reports/shifts/{id}", a.requireAuth(a.handleShiftReport, staff...))
	mux.HandleFunc("GET /api/v1/reports/shifts/{id}/summary", a.requireAuth(a.handleShiftSummary, staff...))
	mux.HandleFunc("GET /api/v1/reports/stock", a.requireAuth(a.handleStockPositions, staff...))
	mux.HandleFunc("GET /api/v1/reports/tanks/{id}/gain-loss", a.requireAuth(a.handleGainLoss, staff...))
	mux.HandleFunc("GET /api/v1/reports/audit", a.requireAuth(a.handleAudit, admin))

	mux.HandleFunc("GET /api/v1/users/operators", a.requireAuth(a.handleListOperators, admin))
	mux.HandleFunc("POST /api/v1/users/operators", a.requireAuth(a.handleCreateOperator, admin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(ledger.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(actor domain.Actor, allowed []string) bool {
	for _, allow := range allowed {
		if actor.HasRole(allow) {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListOperators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operators": a.auth.ListOperators(r.Context())})
}

func (a *API) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req domain.OperatorCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	operator, err := a.auth.CreateOperator(r.Context(), req)
	switch {
	case errors.Is(err, errUserExists):
		a.writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"operator": operator})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(startedAt).String(),
		}).Info("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// statusFor maps a ledger error kind onto an HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return http.StatusUnprocessableEntity
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrAuthorization:
		return http.StatusForbidden
	case domain.ErrConsistency:
		return http.StatusConflict
	case domain.ErrExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeLedgerError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.WithError(err).WithField("status", status).Error("http: internal error")
		msg = "internal server error"
	}
	body := map[string]any{"error": msg}
	var lerr *domain.Error
	if status < 500 && errors.As(err, &lerr) && lerr.Cause != nil {
		body["cause"] = lerr.Cause.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
