package service

import (
	"context"
	"fmt"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/provider"
)

// SessionStore is the payment session tracker as the services see it.
type SessionStore interface {
	Create(ctx context.Context, s *model.PaymentSession) error
	Bind(ctx context.Context, localID, externalID string) error
	Settle(ctx context.Context, externalID string, terminal model.SessionStatus) (*model.PaymentSession, bool, error)
	MarkApplied(ctx context.Context, id string) (bool, error)
	ListUnapplied(ctx context.Context, limit int) ([]model.PaymentSession, error)
}

// bindCheckout opens a hosted checkout for an already-persisted session and
// binds the provider-allocated external id to it. Called outside any store
// transaction; a failure leaves the session pending and unbound, which is
// recoverable (the session simply never settles).
func bindCheckout(ctx context.Context, sessions SessionStore, checkout provider.Checkout, session *model.PaymentSession) (string, error) {
	if checkout == nil {
		return "", fmt.Errorf("no payment provider configured")
	}

	created, err := checkout.CreateSession(ctx, provider.CheckoutRequest{
		Reference:   session.ID,
		AmountCents: session.AmountCents,
	})
	if err != nil {
		return "", fmt.Errorf("open checkout: %w", err)
	}

	if err := sessions.Bind(ctx, session.ID, created.ExternalID); err != nil {
		return "", fmt.Errorf("bind checkout session: %w", err)
	}
	session.ExternalSessionID = created.ExternalID
	return created.CheckoutURL, nil
}
