// Package model defines the core domain types for the events portal:
// events, registrations, payment sessions, the wallet ledger,
// notifications, and certificates.
package model

import "time"

// RegistrationStatus enumerates the lifecycle states of a registration.
type RegistrationStatus string

const (
	RegistrationPending    RegistrationStatus = "pending"
	RegistrationConfirmed  RegistrationStatus = "confirmed"
	RegistrationWaitlisted RegistrationStatus = "waitlisted"
	RegistrationCancelled  RegistrationStatus = "cancelled"
)

// SessionKind identifies what a payment session pays for.
type SessionKind string

const (
	KindEventRegistration SessionKind = "event_registration"
	KindApplicationFee    SessionKind = "application_fee"
	KindWalletTopUp       SessionKind = "wallet_topup"
)

// SessionStatus enumerates payment session states. Settled and Failed are
// terminal: once reached, the session never transitions again.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionSettled SessionStatus = "settled"
	SessionFailed  SessionStatus = "failed"
)

// CallbackOutcome is what the payment provider reports for a session.
type CallbackOutcome string

const (
	OutcomeSucceeded CallbackOutcome = "succeeded"
	OutcomeFailed    CallbackOutcome = "failed"
)

// TransactionType signs a wallet ledger entry.
type TransactionType string

const (
	TxTopUp TransactionType = "topup"
	TxDebit TransactionType = "debit"
)

// Event represents a bookable event owned by the catalog. The core reads
// capacity, price, and deadlines; it never mutates an event directly.
type Event struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Capacity             int       `json:"capacity"`
	ConfirmedCount       int       `json:"confirmed_count"`
	RequiresPayment      bool      `json:"requires_payment"`
	PriceCents           int64     `json:"price_cents"`
	StartAt              time.Time `json:"start_at"`
	EndAt                time.Time `json:"end_at"`
	RegistrationDeadline time.Time `json:"registration_deadline"`
	CreatedAt            time.Time `json:"created_at"`
}

// Remaining returns the number of available seats.
func (e *Event) Remaining() int {
	return e.Capacity - e.ConfirmedCount
}

// IsFull returns true when no seats remain.
func (e *Event) IsFull() bool {
	return e.ConfirmedCount >= e.Capacity
}

// RegistrationOpen reports whether registration is still allowed at t.
func (e *Event) RegistrationOpen(t time.Time) bool {
	return !t.After(e.RegistrationDeadline)
}

// Ended reports whether the event has finished at t.
func (e *Event) Ended(t time.Time) bool {
	return t.After(e.EndAt)
}

// Registration represents a user's registration for an event. At most one
// non-cancelled registration exists per (event, user) pair. Registrations
// are never deleted, only transitioned to cancelled.
type Registration struct {
	ID               string             `json:"id"`
	EventID          string             `json:"event_id"`
	UserID           string             `json:"user_id"`
	Status           RegistrationStatus `json:"status"`
	PaymentSessionID string             `json:"payment_session_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Active reports whether the registration still occupies its (event, user)
// slot. Cancelled registrations free the pair for re-registration.
func (r *Registration) Active() bool {
	return r.Status != RegistrationCancelled
}

// PaymentSession is the idempotency record for one checkout with the
// external provider. The external session id is allocated by the provider
// and attached via Bind once known; it is the deduplication key for
// confirmation callbacks.
type PaymentSession struct {
	ID                string        `json:"id"`
	ExternalSessionID string        `json:"external_session_id,omitempty"`
	Kind              SessionKind   `json:"kind"`
	ReferenceID       string        `json:"reference_id"`
	AmountCents       int64         `json:"amount_cents"`
	Status            SessionStatus `json:"status"`
	AppliedAt         *time.Time    `json:"applied_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Terminal reports whether the session has reached a final status.
func (s *PaymentSession) Terminal() bool {
	return s.Status == SessionSettled || s.Status == SessionFailed
}

// WalletTransaction is one append-only ledger entry. Entries are never
// mutated or deleted; the account balance is always the signed sum of its
// entries.
type WalletTransaction struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	Type            TransactionType `json:"type"`
	AmountCents     int64           `json:"amount_cents"`
	SourceSessionID string          `json:"source_session_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Signed returns the entry's contribution to the balance.
func (t *WalletTransaction) Signed() int64 {
	if t.Type == TxDebit {
		return -t.AmountCents
	}
	return t.AmountCents
}

// Notification is a durable user-visible message. Best-effort: losing one
// never fails the domain operation that triggered it.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Certificate records attendance. At most one exists per (user, event).
type Certificate struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	EventID  string    `json:"event_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name                 string    `json:"name"`
	Capacity             int       `json:"capacity"`
	RequiresPayment      bool      `json:"requires_payment"`
	PriceCents           int64     `json:"price_cents"`
	StartAt              time.Time `json:"start_at"`
	EndAt                time.Time `json:"end_at"`
	RegistrationDeadline time.Time `json:"registration_deadline"`
}

// RegisterRequest is the payload for registering for an event.
type RegisterRequest struct {
	UserID string `json:"user_id"`
}

// RegisterResult is the outcome of a registration attempt. CheckoutURL is
// set when the event requires payment and the registration is pending a
// checkout session.
type RegisterResult struct {
	Registration *Registration `json:"registration"`
	CheckoutURL  string        `json:"checkout_url,omitempty"`
}

// CallbackRequest is the provider's (or a replaying client's) confirmation
// payload for a checkout session.
type CallbackRequest struct {
	ExternalSessionID string          `json:"session_id"`
	Outcome           CallbackOutcome `json:"outcome"`
}

// SettlementResult reports what a confirmation callback did. Replayed is
// true when the session was already terminal and no effect ran.
// RefundRequired is true when a paid registration could not be confirmed
// because capacity ran out while payment was in flight.
type SettlementResult struct {
	SessionID      string        `json:"session_id"`
	Status         SessionStatus `json:"status"`
	Kind           SessionKind   `json:"kind"`
	Replayed       bool          `json:"replayed"`
	RefundRequired bool          `json:"refund_required,omitempty"`
}

// TopUpRequest is the payload for starting a wallet top-up checkout.
type TopUpRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// DebitRequest is the payload for spending wallet balance.
type DebitRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// BalanceResponse reports an account's ledger-derived balance.
type BalanceResponse struct {
	AccountID    string `json:"account_id"`
	BalanceCents int64  `json:"balance_cents"`
}

// IssueCertificateRequest is the payload for requesting a certificate.
type IssueCertificateRequest struct {
	UserID  string `json:"user_id"`
	EventID string `json:"event_id"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
