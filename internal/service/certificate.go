package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/outbound"
	"github.com/campuskit/events-core/internal/repository"
)

// CertificateStore persists certificates with an at-most-once insert.
type CertificateStore interface {
	Issue(ctx context.Context, c *model.Certificate) (bool, error)
	Get(ctx context.Context, userID, eventID string) (*model.Certificate, error)
}

// ConfirmedFinder locates a user's confirmed registration for an event.
type ConfirmedFinder interface {
	FindConfirmed(ctx context.Context, userID, eventID string) (*model.Registration, error)
}

// EventGetter reads events from the catalog.
type EventGetter interface {
	GetByID(ctx context.Context, id string) (*model.Event, error)
}

// CertificateIssuer produces at most one certificate per (user, event).
type CertificateIssuer struct {
	certs    CertificateStore
	regs     ConfirmedFinder
	events   EventGetter
	renderer outbound.Renderer
	notify   *Dispatcher
	now      func() time.Time
}

// NewCertificateIssuer constructs a CertificateIssuer.
func NewCertificateIssuer(certs CertificateStore, regs ConfirmedFinder, events EventGetter, renderer outbound.Renderer, notify *Dispatcher) *CertificateIssuer {
	return &CertificateIssuer{
		certs:    certs,
		regs:     regs,
		events:   events,
		renderer: renderer,
		notify:   notify,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IssueIfEligible creates the certificate for (user, event) if the event
// has ended and the user holds a confirmed registration. Ineligibility and
// an already-issued certificate are both silent no-ops returning nil: the
// record-before-render order plus the unique pair constraint are what keep
// a retried call from sending a second certificate email.
func (ci *CertificateIssuer) IssueIfEligible(ctx context.Context, userID, eventID string) (*model.Certificate, error) {
	if userID == "" || eventID == "" {
		return nil, fmt.Errorf("user_id and event_id are required: %w", ErrValidation)
	}

	event, err := ci.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.Ended(ci.now()) {
		return nil, nil
	}

	if _, err := ci.regs.FindConfirmed(ctx, userID, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	cert := &model.Certificate{
		ID:       uuid.New().String(),
		UserID:   userID,
		EventID:  eventID,
		IssuedAt: ci.now(),
	}
	created, err := ci.certs.Issue(ctx, cert)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}

	// The record is durable before the render/email hand-off and the
	// hand-off is never retried; duplicates are impossible by the insert
	// above, not by renderer discipline.
	ci.renderer.Render(ctx, cert)
	ci.notify.Emit(ctx, userID, fmt.Sprintf("Your certificate for %s is ready.", event.Name))
	return cert, nil
}
