package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/provider"
	"github.com/campuskit/events-core/internal/repository"
)

// ApplicationStore persists vendor applications.
type ApplicationStore interface {
	Create(ctx context.Context, vendorUserID, eventID string) (*repository.Application, error)
	Get(ctx context.Context, id string) (*repository.Application, error)
	MarkPaid(ctx context.Context, id, sessionID string) (*repository.Application, error)
}

// ApplicationService opens fee checkouts for vendor booth applications.
// The approval workflow around applications lives outside this service;
// the fee capture is here because it shares the settlement path.
type ApplicationService struct {
	apps     ApplicationStore
	sessions SessionStore
	checkout provider.Checkout
}

// NewApplicationService constructs an ApplicationService.
func NewApplicationService(apps ApplicationStore, sessions SessionStore, checkout provider.Checkout) *ApplicationService {
	return &ApplicationService{apps: apps, sessions: sessions, checkout: checkout}
}

// Apply records a vendor application and opens the fee checkout.
func (s *ApplicationService) Apply(ctx context.Context, vendorUserID, eventID string, feeCents int64) (*repository.Application, string, error) {
	if vendorUserID == "" || eventID == "" {
		return nil, "", fmt.Errorf("vendor_user_id and event_id are required: %w", ErrValidation)
	}
	if feeCents <= 0 {
		return nil, "", repository.ErrInvalidAmount
	}

	app, err := s.apps.Create(ctx, vendorUserID, eventID)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	session := &model.PaymentSession{
		ID:          uuid.New().String(),
		Kind:        model.KindApplicationFee,
		ReferenceID: app.ID,
		AmountCents: feeCents,
		Status:      model.SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", err
	}

	url, err := bindCheckout(ctx, s.sessions, s.checkout, session)
	if err != nil {
		return nil, "", fmt.Errorf("application %s recorded but checkout failed: %w", app.ID, err)
	}
	return app, url, nil
}
