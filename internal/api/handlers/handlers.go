package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/networth-tracker/internal/api/middleware"
	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/dvloznov/networth-tracker/internal/ledger"
	"github.com/dvloznov/networth-tracker/internal/networth"
	"github.com/dvloznov/networth-tracker/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReasonAPI tags jobs enqueued through the HTTP API.
const ReasonAPI = "api"

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrRecalculationInProgress),
		errors.Is(err, domain.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError logs server-side failures and writes the mapped status.
// Client errors carry the error text; server errors a generic message.
func writeDomainError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteError(w, status, err.Error())
}

// NetWorthHandler serves net worth histories.
type NetWorthHandler struct {
	history networth.HistoryProvider
	log     zerolog.Logger
}

// NewNetWorthHandler creates a new net worth handler.
func NewNetWorthHandler(history networth.HistoryProvider, log zerolog.Logger) *NetWorthHandler {
	return &NetWorthHandler{history: history, log: log}
}

// GetHistory handles GET /api/users/{userID}/networth
func (h *NetWorthHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	history, err := h.history.ComputeHistory(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.log.With().Str("user_id", userID).Logger(), err, "Failed to compute net worth history")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, history)
}

// AccountsHandler handles account and ledger endpoints.
type AccountsHandler struct {
	store     storage.Store
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(store storage.Store, publisher jobs.Publisher, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// ListUserAccounts handles GET /api/users/{userID}/accounts
func (h *AccountsHandler) ListUserAccounts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	accounts, err := h.store.ListAccountsByOwner(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []*domain.Account{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount handles GET /api/accounts/{accountID}
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.store.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get account")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, acc)
}

// transactionResponse is the ledger row as served over HTTP.
type transactionResponse struct {
	TransactionID  string           `json:"transaction_id"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency"`
	BookingDate    *time.Time       `json:"booking_date,omitempty"`
	ValueDate      *time.Time       `json:"value_date,omitempty"`
	ImportedAt     time.Time        `json:"imported_at"`
	EffectiveDate  civil.Date       `json:"effective_date"`
	RunningBalance *decimal.Decimal `json:"running_balance"`
}

// ListTransactions handles GET /api/accounts/{accountID}/transactions and
// returns the ledger in calculation order.
func (h *AccountsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	if _, err := h.store.GetAccount(ctx, accountID); err != nil {
		writeDomainError(w, h.log, err, "Failed to get account")
		return
	}

	txs, err := h.store.ListByAccount(ctx, accountID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to list transactions")
		return
	}
	ledger.Sort(txs)

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			TransactionID:  tx.TransactionID,
			Amount:         tx.Amount,
			Currency:       tx.Currency,
			BookingDate:    tx.BookingDate,
			ValueDate:      tx.ValueDate,
			ImportedAt:     tx.ImportedAt,
			EffectiveDate:  tx.EffectiveDate(),
			RunningBalance: tx.RunningBalance,
		})
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":   accountID,
		"transactions": out,
		"count":        len(out),
	})
}

// Recalculate handles POST /api/accounts/{accountID}/recalculate. The pass
// runs asynchronously; the response carries the job id to poll.
func (h *AccountsHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	acc, err := h.store.GetAccount(ctx, accountID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get account")
		return
	}
	if acc.Status != domain.LinkStatusLinked && acc.Status != domain.LinkStatusCalculating {
		middleware.WriteError(w, http.StatusConflict, "account "+accountID+" is "+string(acc.Status))
		return
	}

	job := &jobs.RecalculateBalanceJob{AccountID: accountID, Reason: ReasonAPI}
	if err := h.publisher.PublishRecalculate(ctx, job); err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to enqueue recalculation job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue recalculation job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("account_id", accountID).Msg("Recalculation job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.JobID,
		"account_id": accountID,
		"status":     string(job.Status),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{jobID}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, h.log.With().Str("job_id", jobID).Logger(), err, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		AccountID: query.Get("account_id"),
		Status:    jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = offset
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.RecalculateBalanceJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
