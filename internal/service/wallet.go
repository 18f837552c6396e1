package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/provider"
	"github.com/campuskit/events-core/internal/repository"
)

// LedgerStore is the append-only wallet ledger. TopUp and Debit are atomic
// check-and-append units keyed by account.
type LedgerStore interface {
	TopUp(ctx context.Context, accountID string, amountCents int64, sourceSessionID string) (int64, error)
	Debit(ctx context.Context, accountID string, amountCents int64) (int64, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	Transactions(ctx context.Context, accountID string) ([]model.WalletTransaction, error)
}

// WalletService is the wallet ledger manager.
type WalletService struct {
	ledger   LedgerStore
	sessions SessionStore
	checkout provider.Checkout
	notify   *Dispatcher
}

// NewWalletService constructs a WalletService.
func NewWalletService(ledger LedgerStore, sessions SessionStore, checkout provider.Checkout, notify *Dispatcher) *WalletService {
	return &WalletService{ledger: ledger, sessions: sessions, checkout: checkout, notify: notify}
}

// InitiateTopUp opens a checkout session for adding funds. The ledger is
// only touched when the provider's confirmation settles.
func (s *WalletService) InitiateTopUp(ctx context.Context, accountID string, amountCents int64) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("account id is required: %w", ErrValidation)
	}
	if amountCents <= 0 {
		return "", repository.ErrInvalidAmount
	}

	now := time.Now().UTC()
	session := &model.PaymentSession{
		ID:          uuid.New().String(),
		Kind:        model.KindWalletTopUp,
		ReferenceID: accountID,
		AmountCents: amountCents,
		Status:      model.SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return "", err
	}
	return bindCheckout(ctx, s.sessions, s.checkout, session)
}

// ApplyTopUp appends a top-up to the ledger. A duplicate source session is
// reported as success without changing the balance: the ledger's own dedup
// makes this safe to call directly, independent of the settlement engine's
// replay check.
func (s *WalletService) ApplyTopUp(ctx context.Context, accountID string, amountCents int64, sourceSessionID string) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("account id is required: %w", ErrValidation)
	}
	if amountCents <= 0 {
		return 0, repository.ErrInvalidAmount
	}

	balance, err := s.ledger.TopUp(ctx, accountID, amountCents, sourceSessionID)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTopUp) {
			log.Printf("wallet: duplicate top-up for session %s ignored", sourceSessionID)
			return balance, nil
		}
		return 0, err
	}

	s.notify.Emit(ctx, accountID, "Your wallet has been topped up.")
	return balance, nil
}

// ApplyDebit spends wallet balance. The sufficiency check and the append
// are one atomic step in the store.
func (s *WalletService) ApplyDebit(ctx context.Context, accountID string, amountCents int64) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("account id is required: %w", ErrValidation)
	}
	if amountCents <= 0 {
		return 0, repository.ErrInvalidAmount
	}
	return s.ledger.Debit(ctx, accountID, amountCents)
}

// Balance returns the ledger-derived balance.
func (s *WalletService) Balance(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("account id is required: %w", ErrValidation)
	}
	return s.ledger.Balance(ctx, accountID)
}

// Transactions returns the account's ledger entries.
func (s *WalletService) Transactions(ctx context.Context, accountID string) ([]model.WalletTransaction, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required: %w", ErrValidation)
	}
	return s.ledger.Transactions(ctx, accountID)
}
