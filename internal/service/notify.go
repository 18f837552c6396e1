// Package service implements the domain managers: registration admission,
// payment settlement, the wallet ledger, notification dispatch, and
// certificate issuance. Services accept store interfaces and are wired with
// the pgx repositories in production and in-memory fakes in tests.
package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/outbound"
)

// ErrValidation marks rejected input. Never retried.
var ErrValidation = errors.New("invalid input")

// NotificationStore persists notifications.
type NotificationStore interface {
	Insert(ctx context.Context, n *model.Notification) error
}

// Dispatcher emits user-visible notifications. Strictly best-effort: every
// failure is logged and swallowed, because no notification participates in
// a domain invariant and none may roll back the operation that fired it.
type Dispatcher struct {
	store   NotificationStore
	pub     outbound.Publisher
	timeout time.Duration
}

// NewDispatcher constructs a Dispatcher. pub may be nil, in which case
// notifications are durable rows only.
func NewDispatcher(store NotificationStore, pub outbound.Publisher) *Dispatcher {
	return &Dispatcher{store: store, pub: pub, timeout: 5 * time.Second}
}

// Emit stores the notification and publishes it to the outbound topic.
// Called after the triggering transition has committed, so the request
// context may already be cancelled; Emit detaches from it and applies its
// own deadline.
func (d *Dispatcher) Emit(ctx context.Context, userID, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	n := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.Insert(ctx, n); err != nil {
		log.Printf("notify: persist for user %s failed: %v", userID, err)
	}

	if d.pub == nil {
		return
	}
	err := d.pub.Publish(ctx, outbound.Message{
		UserID:    n.UserID,
		Body:      n.Message,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		log.Printf("notify: publish for user %s failed: %v", userID, err)
	}
}
