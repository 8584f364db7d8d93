package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredBank/pkg/approval"
	"github.com/mcclellann/fredBank/pkg/audit"
	"github.com/mcclellann/fredBank/pkg/auth"
	"github.com/mcclellann/fredBank/pkg/config"
	"github.com/mcclellann/fredBank/pkg/ledger"
	"github.com/mcclellann/fredBank/pkg/loan"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/notify"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"github.com/mcclellann/fredBank/pkg/transfer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server holds the core services behind the HTTP API.
type Server struct {
	storage     store.Storage
	ledger      *ledger.Ledger
	transfers   *transfer.Orchestrator
	loans       *loan.Engine
	loanReviews *approval.Workflow[*models.Loan]
	cards       *approval.Cards
	cardReviews *approval.Workflow[*models.CardApplication]
	gateway     *auth.Gateway
	metrics     *observability.Metrics
	logger      *zap.Logger
	currency    string
}

// NewServer wires every service to s.
func NewServer(cfg *config.Config, s store.Storage, notifier notify.Dispatcher, metrics *observability.Metrics, logger *zap.Logger) *Server {
	retry := store.RetryPolicy{
		MaxRetries:     cfg.MaxConflictRetries,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     store.DefaultRetryPolicy.MaxBackoff,
	}
	auditor := audit.NewZapRecorder(logger)

	l := ledger.NewLedger(s, metrics, logger,
		ledger.WithRetryPolicy(retry),
		ledger.WithAuditor(auditor),
	)
	srv := &Server{
		storage: s,
		ledger:  l,
		transfers: transfer.NewOrchestrator(s, l, metrics, logger,
			transfer.WithRetryPolicy(retry),
			transfer.WithNotifier(notifier),
			transfer.WithAuditor(auditor),
		),
		loans: loan.NewEngine(s, metrics, logger,
			loan.WithRetryPolicy(retry),
			loan.WithNotifier(notifier),
			loan.WithAuditor(auditor),
			loan.WithDefaultRate(cfg.DefaultLoanRate),
			loan.WithPenaltyRate(cfg.LatePenaltyRate),
		),
		cards: approval.NewCards(s, metrics, logger,
			approval.WithRetryPolicy(retry),
			approval.WithAuditor(auditor),
		),
		cardReviews: approval.NewCardWorkflow(s, metrics, logger,
			approval.WithRetryPolicy(retry),
			approval.WithNotifier(notifier),
			approval.WithAuditor(auditor),
		),
		gateway:  auth.NewGateway(cfg.JWTSecret, cfg.TokenTTL),
		metrics:  metrics,
		logger:   logger,
		currency: cfg.Currency,
	}

	srv.loanReviews = approval.NewLoanWorkflow(s, metrics, logger,
		approval.WithRetryPolicy(retry),
		approval.WithNotifier(notifier),
		approval.WithAuditor(auditor),
	)
	if cfg.LoanDisbursement {
		srv.loanReviews.OnApprove(loan.NewLedgerDisburser(l, logger).Disburse)
	}
	return srv
}

// Router builds the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.TraceRequests)
	r.Use(observability.AccessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireReviewer)
	admin.HandleFunc("/loans", s.adminListLoansHandler).Methods(http.MethodGet)
	admin.HandleFunc("/loans/sweep-overdue", s.sweepOverdueHandler).Methods(http.MethodPost)
	admin.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods(http.MethodPatch)
	admin.HandleFunc("/loans/{id}/reject", s.rejectLoanHandler).Methods(http.MethodPatch)
	admin.HandleFunc("/cards", s.adminListCardsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/cards/{id}/approve", s.approveCardHandler).Methods(http.MethodPatch)
	admin.HandleFunc("/cards/{id}/reject", s.rejectCardHandler).Methods(http.MethodPatch)
	admin.HandleFunc("/accounts/{id}/status", s.adminAccountStatusHandler).Methods(http.MethodPatch)

	customer := api.NewRoute().Subrouter()
	customer.Use(requireCustomer)
	customer.HandleFunc("/accounts", s.listAccountsHandler).Methods(http.MethodGet)
	customer.HandleFunc("/accounts", s.openAccountHandler).Methods(http.MethodPost)
	customer.HandleFunc("/accounts/{id}", s.getAccountHandler).Methods(http.MethodGet)
	customer.HandleFunc("/accounts/{id}/entries", s.entriesHandler).Methods(http.MethodGet)
	customer.HandleFunc("/accounts/{id}/reconcile", s.reconcileHandler).Methods(http.MethodGet)
	customer.HandleFunc("/accounts/{id}/deposit", s.depositHandler).Methods(http.MethodPost)
	customer.HandleFunc("/accounts/{id}/withdraw", s.withdrawHandler).Methods(http.MethodPost)
	customer.HandleFunc("/accounts/{id}/status", s.accountStatusHandler).Methods(http.MethodPatch)

	customer.HandleFunc("/transfers", s.listTransfersHandler).Methods(http.MethodGet)
	customer.HandleFunc("/transfers/own-accounts", s.transferOwnHandler).Methods(http.MethodPost)
	customer.HandleFunc("/transfers/to-user", s.transferToUserHandler).Methods(http.MethodPost)
	customer.HandleFunc("/transfers/to-account", s.transferToAccountHandler).Methods(http.MethodPost)

	customer.HandleFunc("/loans", s.listLoansHandler).Methods(http.MethodGet)
	customer.HandleFunc("/loans", s.applyLoanHandler).Methods(http.MethodPost)
	customer.HandleFunc("/loans/quote", s.quoteHandler).Methods(http.MethodGet)
	customer.HandleFunc("/loans/{id}", s.getLoanHandler).Methods(http.MethodGet)
	customer.HandleFunc("/loans/{id}/payments", s.loanPaymentHandler).Methods(http.MethodPost)

	customer.HandleFunc("/cards", s.listCardsHandler).Methods(http.MethodGet)
	customer.HandleFunc("/cards", s.applyCardHandler).Methods(http.MethodPost)
	customer.HandleFunc("/cards/{id}", s.getCardHandler).Methods(http.MethodGet)
	customer.HandleFunc("/cards/{id}", s.cancelCardHandler).Methods(http.MethodDelete)

	return r
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.storage.ListLoansByStatus(ctx, models.LoanStatusDefaulted); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Authentication ─────────────────────────────────────────────────────────

type contextKey string

const principalKey contextKey = "principal"

// authenticate resolves the bearer token into a principal and stores it in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := s.gateway.Resolve(strings.TrimSpace(token))
		if err != nil {
			s.logger.Warn("auth: invalid token",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			writeError(w, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func principalFrom(ctx context.Context) models.Principal {
	p, _ := ctx.Value(principalKey).(models.Principal)
	return p
}

func customerFrom(r *http.Request) models.Customer {
	c, _ := principalFrom(r.Context()).(models.Customer)
	return c
}

func employeeFrom(r *http.Request) models.Employee {
	e, _ := principalFrom(r.Context()).(models.Employee)
	return e
}

func requireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := principalFrom(r.Context()).(models.Customer); !ok {
			writeError(w, http.StatusForbidden, "customer access only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireReviewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, ok := principalFrom(r.Context()).(models.Employee)
		if !ok || !e.CanReview() {
			writeError(w, http.StatusForbidden, "admin or manager access only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps core errors to HTTP responses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var validation *models.ValidationError

	switch {
	case errors.As(err, &validation):
		s.logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: validation.Field})
	case errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrLoanNotFound),
		errors.Is(err, models.ErrApplicationNotFound),
		errors.Is(err, models.ErrRecipientNotFound),
		errors.Is(err, models.ErrUserNotFound):
		s.logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrAccountInactive),
		errors.Is(err, models.ErrRecipientAccountUnavailable),
		errors.Is(err, models.ErrSelfTransfer),
		errors.Is(err, models.ErrSameAccount),
		errors.Is(err, models.ErrCurrencyMismatch),
		errors.Is(err, models.ErrLoanNotActive),
		errors.Is(err, models.ErrNoPendingInstallments),
		errors.Is(err, models.ErrInvalidStatusTransition):
		s.logger.Warn("business rule rejected request", zap.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrNotPending),
		errors.Is(err, models.ErrDuplicateApplication),
		errors.Is(err, models.ErrDuplicateEmail),
		errors.Is(err, models.ErrConcurrencyConflict):
		s.logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
