/**
 * @description
 * This file contains the HTTP handlers for the ussd-service. The USSD callback decodes
 * a gateway exchange, hands it to the state machine and writes the CON/END body. The
 * internal and admin handlers expose deposits, the session sweep and read-only account
 * lookups to other services and operators.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/transfa/ussd-service/internal/app"
	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
	"github.com/transfa/ussd-service/internal/validate"
)

const (
	maxRequestBytes   = 64 << 10
	rateLimitMessage  = "Too many requests. Please try again shortly."
	genericFailureEnd = "Service temporarily unavailable. Please try again later."
)

// USSDProcessor turns one gateway exchange into a reply.
type USSDProcessor interface {
	Handle(ctx context.Context, req domain.USSDRequest) domain.Reply
}

// AccountReader serves the read-only operator lookups.
type AccountReader interface {
	AccountByPhone(ctx context.Context, rawPhone string) (*domain.Account, error)
	RecentTransactions(ctx context.Context, rawPhone string, limit int) ([]domain.Transaction, error)
}

// DepositCrediter credits a wallet once per external reference.
type DepositCrediter interface {
	CreditDeposit(ctx context.Context, event domain.DepositEvent) (*store.LedgerEntry, error)
}

// SessionSweeper closes idle sessions on demand.
type SessionSweeper interface {
	RunOnce(ctx context.Context) (int64, error)
}

// USSDHandlers holds the collaborators the handlers use.
type USSDHandlers struct {
	ussd     USSDProcessor
	accounts AccountReader
	deposits DepositCrediter
	sweeper  SessionSweeper
	limiter  app.RateLimiter
}

// NewUSSDHandlers creates a new instance of USSDHandlers.
func NewUSSDHandlers(ussd USSDProcessor, accounts AccountReader, deposits DepositCrediter, sweeper SessionSweeper) *USSDHandlers {
	return &USSDHandlers{ussd: ussd, accounts: accounts, deposits: deposits, sweeper: sweeper}
}

// SetRateLimiter enables per-phone throttling of the USSD callback.
func (h *USSDHandlers) SetRateLimiter(limiter app.RateLimiter) {
	h.limiter = limiter
}

type accountSummaryResponse struct {
	AccountNumber     string               `json:"account_number"`
	PhoneNumber       string               `json:"phone_number"`
	Name              string               `json:"name"`
	Tier              int                  `json:"tier"`
	Status            domain.AccountStatus `json:"status"`
	Balance           int64                `json:"balance"`
	FailedPINAttempts int                  `json:"failed_pin_attempts"`
	CreatedAt         time.Time            `json:"created_at"`
}

type depositResponse struct {
	Reference    string `json:"reference"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	Replayed     bool   `json:"replayed"`
}

// USSDCallbackHandler answers the gateway. Business failures are END replies with HTTP 200
// so the gateway closes the session; only undecodable requests get a 4xx.
func (h *USSDHandlers) USSDCallbackHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeUSSDRequest(w, r)
	if err != nil {
		log.Printf("level=warn component=http endpoint=ussd outcome=reject reason=decode_failed err=%v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		http.Error(w, "phoneNumber is required", http.StatusBadRequest)
		return
	}

	if h.throttled(r.Context(), req.PhoneNumber) {
		writeReply(w, domain.End(rateLimitMessage))
		return
	}

	writeReply(w, h.ussd.Handle(r.Context(), req))
}

// throttled fails open: a limiter outage never blocks the channel.
func (h *USSDHandlers) throttled(ctx context.Context, phone string) bool {
	if h.limiter == nil {
		return false
	}
	decision, err := h.limiter.Allow(ctx, strings.TrimSpace(phone))
	if err != nil {
		log.Printf("level=warn component=http endpoint=ussd msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		return false
	}
	if !decision.Allowed {
		log.Printf("level=warn component=http endpoint=ussd outcome=throttled count=%d retry_after=%s", decision.Count, decision.RetryAfter)
		return true
	}
	return false
}

// CreateDepositHandler credits an externally funded deposit. A replayed reference returns 200.
func (h *USSDHandlers) CreateDepositHandler(w http.ResponseWriter, r *http.Request) {
	var event domain.DepositEvent
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := h.deposits.CreditDeposit(r.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidDeposit), errors.Is(err, store.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeError(w, http.StatusNotFound, "Account not found")
		default:
			log.Printf("level=error component=http endpoint=deposits msg=\"deposit credit failed\" reference=%s err=%v", event.ExternalReference, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to credit deposit")
		}
		return
	}

	status := http.StatusCreated
	if entry.Replayed {
		status = http.StatusOK
	}
	h.writeJSON(w, status, depositResponse{
		Reference:    entry.Transaction.Reference,
		Amount:       entry.Transaction.Amount,
		BalanceAfter: entry.Transaction.BalanceAfter,
		Replayed:     entry.Replayed,
	})
}

// SweepSessionsHandler runs one expiry sweep.
func (h *USSDHandlers) SweepSessionsHandler(w http.ResponseWriter, r *http.Request) {
	swept, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Session sweep failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"swept": swept})
}

// GetAccountHandler returns an account summary without credentials.
func (h *USSDHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.AccountByPhone(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accountSummaryResponse{
		AccountNumber:     account.AccountNumber,
		PhoneNumber:       account.PhoneNumber,
		Name:              account.FullName(),
		Tier:              account.Tier,
		Status:            account.Status,
		Balance:           account.Balance,
		FailedPINAttempts: account.FailedPINAttempts,
		CreatedAt:         account.CreatedAt,
	})
}

// ListTransactionsHandler returns the newest ledger records of an account.
func (h *USSDHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	transactions, err := h.accounts.RecentTransactions(r.Context(), chi.URLParam(r, "phone"), limit)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": transactions})
}

func (h *USSDHandlers) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, validate.ErrInvalidPhone):
		h.writeError(w, http.StatusBadRequest, "Invalid phone number")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	default:
		log.Printf("level=error component=http msg=\"account lookup failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load account")
	}
}

// decodeUSSDRequest accepts the form encoding gateways post and a JSON body with the same keys.
func decodeUSSDRequest(w http.ResponseWriter, r *http.Request) (domain.USSDRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req domain.USSDRequest
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("decode json: %w", err)
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("parse form: %w", err)
	}
	req.SessionID = r.PostForm.Get("sessionId")
	req.PhoneNumber = r.PostForm.Get("phoneNumber")
	req.Text = r.PostForm.Get("text")
	req.ServiceCode = r.PostForm.Get("serviceCode")
	return req, nil
}

func writeReply(w http.ResponseWriter, reply domain.Reply) {
	if reply.Body == "" {
		reply = domain.End(genericFailureEnd)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(reply.String()))
}

// writeJSON is a helper for writing JSON responses.
func (h *USSDHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *USSDHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
