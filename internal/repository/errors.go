// Package repository implements all database access for the events portal
// core. It uses pgx directly (no ORM); every multi-step invariant runs
// inside a transaction with row-level locks or a conditional update.
package repository

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyRegistered is returned when a user with a live registration
// registers again for the same event.
var ErrAlreadyRegistered = errors.New("already registered for this event")

// ErrRegistrationClosed is returned when the registration deadline has passed.
var ErrRegistrationClosed = errors.New("registration closed")

// ErrInvalidState is returned when a transition is requested from a state
// that does not permit it (e.g. confirming a non-pending registration).
var ErrInvalidState = errors.New("invalid state for requested transition")

// ErrUnknownSession is returned for a callback referencing no known
// payment session.
var ErrUnknownSession = errors.New("unknown payment session")

// ErrAlreadyBound is returned when a session is bound to a different
// external session id than the one it already carries.
var ErrAlreadyBound = errors.New("session already bound to another external id")

// ErrInvalidAmount is returned for non-positive money amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrInsufficientFunds is returned when a debit exceeds the ledger balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrDuplicateTopUp marks a top-up whose source session already produced a
// ledger entry. Callers treat it as a successful no-op.
var ErrDuplicateTopUp = errors.New("duplicate top-up for source session")

// ErrTransient marks a store failure (timeout, unavailability) that is safe
// to retry for idempotent operations.
var ErrTransient = errors.New("transient store error")

// storeErr wraps an infrastructure failure, tagging context expiry as
// transient so callers can decide to retry.
func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrTransient)
	}
	return fmt.Errorf("%s: %w", op, err)
}
