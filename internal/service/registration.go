package service

import (
	"context"
	"fmt"
	"log"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/provider"
)

// RegistrationStore is the capacity-aware registration store. Admit,
// Cancel, and ConfirmPending are each a single atomic unit; see the
// repository for the locking discipline.
type RegistrationStore interface {
	Admit(ctx context.Context, eventID, userID string) (*model.Registration, *model.PaymentSession, error)
	Cancel(ctx context.Context, registrationID string) (cancelled, promoted *model.Registration, promoSession *model.PaymentSession, err error)
	ConfirmPending(ctx context.Context, registrationID string) (*model.Registration, error)
	Get(ctx context.Context, id string) (*model.Registration, error)
}

// RegistrationService is the registration manager: it admits or waitlists
// users against event capacity, opens checkouts for paid events, and runs
// cancellation with FIFO waitlist promotion.
type RegistrationService struct {
	regs     RegistrationStore
	sessions SessionStore
	checkout provider.Checkout
	notify   *Dispatcher
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(regs RegistrationStore, sessions SessionStore, checkout provider.Checkout, notify *Dispatcher) *RegistrationService {
	return &RegistrationService{regs: regs, sessions: sessions, checkout: checkout, notify: notify}
}

// Register attempts to register userID for eventID. Outcomes:
//
//   - confirmed immediately (free event with room)
//   - pending with a checkout URL (paid event with room)
//   - waitlisted (no room)
//
// Notifications fire after the admission has committed.
func (s *RegistrationService) Register(ctx context.Context, eventID, userID string) (*model.RegisterResult, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event id is required: %w", ErrValidation)
	}
	if userID == "" {
		return nil, fmt.Errorf("user_id is required: %w", ErrValidation)
	}

	reg, session, err := s.regs.Admit(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}

	result := &model.RegisterResult{Registration: reg}
	switch reg.Status {
	case model.RegistrationConfirmed:
		s.notify.Emit(ctx, userID, "You're registered.")
	case model.RegistrationWaitlisted:
		s.notify.Emit(ctx, userID, "You're on the waitlist. We'll let you know when a spot opens up.")
	case model.RegistrationPending:
		url, err := bindCheckout(ctx, s.sessions, s.checkout, session)
		if err != nil {
			// The pending registration and session stay on record; the
			// user can cancel and retry. Seats are not held by pending
			// registrations, so nothing leaks.
			return nil, fmt.Errorf("registration %s recorded but checkout failed: %w", reg.ID, err)
		}
		result.CheckoutURL = url
	}
	return result, nil
}

// Cancel cancels a registration. If it held a seat, the earliest waitlisted
// registration is promoted in the same atomic step; promotion side effects
// (checkout, notifications) run here, after commit.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID string) (*model.Registration, error) {
	if registrationID == "" {
		return nil, fmt.Errorf("registration id is required: %w", ErrValidation)
	}

	cancelled, promoted, promoSession, err := s.regs.Cancel(ctx, registrationID)
	if err != nil {
		return nil, err
	}

	s.notify.Emit(ctx, cancelled.UserID, "Your registration has been cancelled.")

	if promoted != nil {
		switch promoted.Status {
		case model.RegistrationConfirmed:
			s.notify.Emit(ctx, promoted.UserID, "A spot opened up - you're registered.")
		case model.RegistrationPending:
			url, err := bindCheckout(ctx, s.sessions, s.checkout, promoSession)
			if err != nil {
				// The cancellation already committed; the promoted user
				// keeps the pending slot and support can reissue checkout.
				log.Printf("registration: checkout for promoted %s failed: %v", promoted.ID, err)
			} else {
				log.Printf("registration: promoted %s pending payment at %s", promoted.ID, url)
			}
			s.notify.Emit(ctx, promoted.UserID, "A spot opened up - complete payment to claim it.")
		}
	}
	return cancelled, nil
}

// ConfirmAfterPayment is invoked by the settlement engine once a
// registration checkout has settled. The store re-checks capacity: if the
// event filled while payment was in flight the registration lands on the
// waitlist instead and the settlement result reports a refund.
func (s *RegistrationService) ConfirmAfterPayment(ctx context.Context, registrationID string) (*model.Registration, error) {
	reg, err := s.regs.ConfirmPending(ctx, registrationID)
	if err != nil {
		return nil, err
	}

	switch reg.Status {
	case model.RegistrationConfirmed:
		s.notify.Emit(ctx, reg.UserID, "Payment received - you're registered.")
	case model.RegistrationWaitlisted:
		s.notify.Emit(ctx, reg.UserID, "The event filled up while your payment processed. You're on the waitlist and a refund is on its way.")
	}
	return reg, nil
}

// Get returns a registration by id.
func (s *RegistrationService) Get(ctx context.Context, id string) (*model.Registration, error) {
	return s.regs.Get(ctx, id)
}
