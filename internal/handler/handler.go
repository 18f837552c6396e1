// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/repository"
	"github.com/campuskit/events-core/internal/service"
)

// NotificationLister reads a user's notification feed.
type NotificationLister interface {
	ListByUser(ctx context.Context, userID string) ([]model.Notification, error)
}

// RegistrationLister reads an event's registrations.
type RegistrationLister interface {
	ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error)
}

// Handler holds all HTTP handlers for the events portal core.
type Handler struct {
	Events        *service.EventService
	Registrations *service.RegistrationService
	Settlement    *service.SettlementEngine
	Wallet        *service.WalletService
	Applications  *service.ApplicationService
	Certificates  *service.CertificateIssuer
	Notifications NotificationLister
	RegList       RegistrationLister

	// StoreTimeout bounds each request's store work; expiry surfaces as a
	// transient error the client may retry.
	StoreTimeout time.Duration
}

func (h *Handler) reqCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.StoreTimeout)
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// respondError maps the error taxonomy onto HTTP statuses: validation 400,
// missing 404, definitive conflicts 409, transient store trouble 503.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, repository.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrUnknownSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrAlreadyRegistered),
		errors.Is(err, repository.ErrRegistrationClosed),
		errors.Is(err, repository.ErrAlreadyBound),
		errors.Is(err, repository.ErrInvalidState),
		errors.Is(err, repository.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, "store temporarily unavailable, retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Event catalog ────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := h.reqCtx(r)
	defer cancel()

	event, err := h.Events.CreateEvent(ctx, req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.reqCtx(r)
	defer cancel()

	events, err := h.Events.ListEvents(ctx)
	if err != nil {
		respondError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.reqCtx(r)
	defer cancel()

	event, err := h.Events.GetEvent(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ListRegistrations handles GET /events/{id}/registrations
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.reqCtx(r)
	defer cancel()

	regs, err := h.RegList.ListByEvent(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// ─── Registration ─────────────────────────────────────────────────────────────

// Register handles POST /events/{id}/register
// The user id is the externally authenticated identity, passed through as
// an opaque string.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := h.reqCtx(r)
	defer cancel()

	result, err := h.Registrations.Register(ctx, chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetRegistration handles GET /registrations/{id}
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.reqCtx(r)
	defer cancel()

	reg, err := h.Registrations.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// CancelRegistration handles POST /registrations/{id}/cancel
func (h *Handler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.reqCtx(r)
	defer cancel()

	reg, err := h.Registrations.Cancel(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// ─── Payment settlement ───────────────────────────────────────────────────────

// PaymentCallback handles POST /payments/callback, the provider's
// asynchronous confirmation. Duplicate deliveries and client replays all
// land here and settle at most once.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req model.CallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := h.reqCtx(r)
	defer cancel()

	result, err := h.Settlement.HandleCallback(ctx, req.ExternalSessionID, req.Outcome)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PaymentReturn handles GET /payments/return, the browser redirect after
// hosted checkout. It is treated as a replay of the provider callback and
// deduplicated identically; it can never produce a second domain effect.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	outcome := model.CallbackOutcome(r.URL.Query().Get("outcome"))
	if outcome == "" {
		outcome = model.OutcomeSucceeded
	}

	ctx, cancel := h.reqCtx(r)
	defer cancel()

	result, err := h.Settlement.HandleCallback(ctx, sessionID, outcome)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Wallet ───────────────────────────────────────────────────────────────────

// TopUpWallet handles POST /wallets/{id}/topup. It opens a checkout
// session; the ledger is credited when the provider confirmation settles.
func (h *Handler) TopUpWallet(w http.ResponseWriter, r *http.Request) {
	var req model.TopUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := h.reqCtx(r)
	defer cancel()

	url, err := h.Wallet.InitiateTopUp(ctx, chi.URLParam(r, "id"), req.AmountCents)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"checkout_url": url})
}

// DebitWallet handles POST /wallets/{id}/debit
func (h *Handler) DebitWallet(w http.ResponseWriter, r *http.Request) {
	var req model.DebitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := h.reqCtx(r)
	defer cancel()

	accountID := chi.URLParam(r, "id")
	balance, err := h.Wallet.ApplyDebit(ctx, accountID, req.AmountCents)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.BalanceResponse{AccountID: accountID, BalanceCents: balance})
}

// WalletBalance handles GET /wallets/{id}/balance
func (h *Handler) WalletBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.reqCtx(r)
	defer cancel()

	accountID := chi.URLParam(r, "id")
	balance, err := h.Wallet.Balance(ctx, accountID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.BalanceResponse{AccountID: accountID, BalanceCents: balance})
}

// WalletTransactions handles GET /wallets/{id}/transactions
func (h *Handler) WalletTransactions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.reqCtx(r)
	defer cancel()

	txs, err := h.Wallet.Transactions(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	if txs == nil {
		txs = []model.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// ─── Applications ─────────────────────────────────────────────────────────────

type applyRequest struct {
	VendorUserID string `json:"vendor_user_id"`
	EventID      string `json:"event_id"`
	FeeCents     int64  `json:"fee_cents"`
}

// CreateApplication handles POST /applications. It records a vendor booth
// application and opens its fee checkout.
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := h.reqCtx(r)
	defer cancel()

	app, url, err := h.Applications.Apply(ctx, req.VendorUserID, req.EventID, req.FeeCents)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"application": app, "checkout_url": url})
}

// ─── Certificates ─────────────────────────────────────────────────────────────

// IssueCertificate handles POST /certificates/issue
// Ineligible requests are a 204 no-op rather than an error.
func (h *Handler) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	var req model.IssueCertificateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := h.reqCtx(r)
	defer cancel()

	cert, err := h.Certificates.IssueIfEligible(ctx, req.UserID, req.EventID)
	if err != nil {
		respondError(w, err)
		return
	}
	if cert == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, cert)
}

// ─── Notifications ────────────────────────────────────────────────────────────

// UserNotifications handles GET /users/{id}/notifications
func (h *Handler) UserNotifications(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.reqCtx(r)
	defer cancel()

	items, err := h.Notifications.ListByUser(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	if items == nil {
		items = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /healthz
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
