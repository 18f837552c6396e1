package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/events-core/internal/model"
)

const registrationColumns = `id, event_id, user_id, status, COALESCE(payment_session_id, ''), created_at, updated_at`

// RegistrationRepository handles persistence for registrations and owns the
// capacity counter on events.
//
// Every mutation locks the event row with SELECT ... FOR UPDATE before
// touching the counter or any registration row. A naive read-then-write
// would let two concurrent transactions both observe the last free seat and
// both commit a confirmed registration; the row lock serialises them so the
// second one sees the incremented counter and waitlists instead. Lock order
// is always event row first, then registration row.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var reg model.Registration
	err := row.Scan(&reg.ID, &reg.EventID, &reg.UserID, &reg.Status,
		&reg.PaymentSessionID, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// Admit atomically decides the outcome of a registration attempt:
//
//   - free seat, free event      → confirmed (counter incremented)
//   - free seat, paid event      → pending, with a new pending payment session
//   - no seat                    → waitlisted
//
// Pending registrations do not hold a seat; the seat is claimed when
// payment settles (ConfirmPending re-checks capacity at that point).
// The deadline check happens inside the transaction because admission and
// the duplicate check must observe one consistent event snapshot.
func (r *RegistrationRepository) Admit(ctx context.Context, eventID, userID string) (*model.Registration, *model.PaymentSession, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, storeErr("begin admit", err)
	}
	defer tx.Rollback(ctx)

	var (
		capacity, confirmed int
		requiresPayment     bool
		priceCents          int64
		deadline            time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT capacity, confirmed_count, requires_payment, price_cents, registration_deadline
		 FROM events
		 WHERE id = $1
		 FOR UPDATE`,
		eventID,
	).Scan(&capacity, &confirmed, &requiresPayment, &priceCents, &deadline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, storeErr("lock event row", err)
	}

	now := time.Now().UTC()
	if now.After(deadline) {
		return nil, nil, ErrRegistrationClosed
	}

	var dupCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations
		 WHERE event_id = $1 AND user_id = $2 AND status <> 'cancelled'`,
		eventID, userID,
	).Scan(&dupCount)
	if err != nil {
		return nil, nil, storeErr("check duplicate", err)
	}
	if dupCount > 0 {
		return nil, nil, ErrAlreadyRegistered
	}

	reg := &model.Registration{
		ID:        uuid.New().String(),
		EventID:   eventID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var session *model.PaymentSession

	switch {
	case confirmed >= capacity:
		reg.Status = model.RegistrationWaitlisted
	case requiresPayment:
		reg.Status = model.RegistrationPending
		session = &model.PaymentSession{
			ID:          uuid.New().String(),
			Kind:        model.KindEventRegistration,
			ReferenceID: reg.ID,
			AmountCents: priceCents,
			Status:      model.SessionPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		reg.PaymentSessionID = session.ID
	default:
		reg.Status = model.RegistrationConfirmed
		if _, err = tx.Exec(ctx,
			`UPDATE events SET confirmed_count = confirmed_count + 1 WHERE id = $1`,
			eventID,
		); err != nil {
			return nil, nil, storeErr("increment confirmed_count", err)
		}
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO registrations (id, event_id, user_id, status, payment_session_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		reg.ID, reg.EventID, reg.UserID, reg.Status, reg.PaymentSessionID, reg.CreatedAt, reg.UpdatedAt,
	); err != nil {
		return nil, nil, storeErr("insert registration", err)
	}

	if session != nil {
		if err = insertSession(ctx, tx, session); err != nil {
			return nil, nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, storeErr("commit admit", err)
	}
	return reg, session, nil
}

// Cancel transitions a registration to cancelled. If it was confirmed, the
// freed seat goes to the earliest-created waitlisted registration for the
// same event: straight to confirmed for free events, or to pending with a
// fresh payment session for paid ones. Exactly one seat moves per cancel.
func (r *RegistrationRepository) Cancel(ctx context.Context, registrationID string) (cancelled, promoted *model.Registration, promoSession *model.PaymentSession, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, nil, storeErr("begin cancel", err)
	}
	defer tx.Rollback(ctx)

	// Peek at the registration without a lock to learn its event, then lock
	// in event→registration order like every other mutation here.
	var eventID string
	err = tx.QueryRow(ctx,
		`SELECT event_id FROM registrations WHERE id = $1`, registrationID,
	).Scan(&eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, storeErr("find registration", err)
	}

	var requiresPayment bool
	var priceCents int64
	err = tx.QueryRow(ctx,
		`SELECT requires_payment, price_cents FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	).Scan(&requiresPayment, &priceCents)
	if err != nil {
		return nil, nil, nil, storeErr("lock event row", err)
	}

	cancelled, err = scanRegistration(tx.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`,
		registrationID,
	))
	if err != nil {
		return nil, nil, nil, storeErr("lock registration row", err)
	}
	if cancelled.Status == model.RegistrationCancelled {
		return nil, nil, nil, ErrNotFound
	}

	now := time.Now().UTC()
	wasConfirmed := cancelled.Status == model.RegistrationConfirmed
	cancelled.Status = model.RegistrationCancelled
	cancelled.UpdatedAt = now
	if _, err = tx.Exec(ctx,
		`UPDATE registrations SET status = 'cancelled', updated_at = $2 WHERE id = $1`,
		registrationID, now,
	); err != nil {
		return nil, nil, nil, storeErr("cancel registration", err)
	}

	if wasConfirmed {
		if _, err = tx.Exec(ctx,
			`UPDATE events SET confirmed_count = confirmed_count - 1 WHERE id = $1`,
			eventID,
		); err != nil {
			return nil, nil, nil, storeErr("decrement confirmed_count", err)
		}

		promoted, promoSession, err = promote(ctx, tx, eventID, requiresPayment, priceCents, now)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, nil, storeErr("commit cancel", err)
	}
	return cancelled, promoted, promoSession, nil
}

// promote moves the earliest waitlisted registration into the freed seat.
// Runs inside the caller's transaction with the event row already locked,
// so no competing admission can slip into the seat first.
func promote(ctx context.Context, tx pgx.Tx, eventID string, requiresPayment bool, priceCents int64, now time.Time) (*model.Registration, *model.PaymentSession, error) {
	next, err := scanRegistration(tx.QueryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND status = 'waitlisted'
		 ORDER BY created_at ASC
		 LIMIT 1
		 FOR UPDATE`,
		eventID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil // empty waitlist, seat simply frees up
		}
		return nil, nil, storeErr("lock waitlisted row", err)
	}

	var session *model.PaymentSession
	if requiresPayment {
		next.Status = model.RegistrationPending
		session = &model.PaymentSession{
			ID:          uuid.New().String(),
			Kind:        model.KindEventRegistration,
			ReferenceID: next.ID,
			AmountCents: priceCents,
			Status:      model.SessionPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		next.PaymentSessionID = session.ID
		if err = insertSession(ctx, tx, session); err != nil {
			return nil, nil, err
		}
	} else {
		next.Status = model.RegistrationConfirmed
		if _, err = tx.Exec(ctx,
			`UPDATE events SET confirmed_count = confirmed_count + 1 WHERE id = $1`,
			eventID,
		); err != nil {
			return nil, nil, storeErr("increment confirmed_count", err)
		}
	}

	next.UpdatedAt = now
	if _, err = tx.Exec(ctx,
		`UPDATE registrations SET status = $2, payment_session_id = NULLIF($3, ''), updated_at = $4
		 WHERE id = $1`,
		next.ID, next.Status, next.PaymentSessionID, now,
	); err != nil {
		return nil, nil, storeErr("promote registration", err)
	}
	return next, session, nil
}

// ConfirmPending moves a pending registration to confirmed once its payment
// has settled. Capacity is re-checked under the event lock: confirmations
// that landed while payment was in flight may have taken the seat, in which
// case the registration is waitlisted and the caller owes the user a refund.
func (r *RegistrationRepository) ConfirmPending(ctx context.Context, registrationID string) (*model.Registration, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin confirm", err)
	}
	defer tx.Rollback(ctx)

	var eventID string
	err = tx.QueryRow(ctx,
		`SELECT event_id FROM registrations WHERE id = $1`, registrationID,
	).Scan(&eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("find registration", err)
	}

	var capacity, confirmed int
	err = tx.QueryRow(ctx,
		`SELECT capacity, confirmed_count FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	).Scan(&capacity, &confirmed)
	if err != nil {
		return nil, storeErr("lock event row", err)
	}

	reg, err := scanRegistration(tx.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`,
		registrationID,
	))
	if err != nil {
		return nil, storeErr("lock registration row", err)
	}
	if reg.Status != model.RegistrationPending {
		return nil, ErrInvalidState
	}

	now := time.Now().UTC()
	if confirmed < capacity {
		reg.Status = model.RegistrationConfirmed
		if _, err = tx.Exec(ctx,
			`UPDATE events SET confirmed_count = confirmed_count + 1 WHERE id = $1`,
			eventID,
		); err != nil {
			return nil, storeErr("increment confirmed_count", err)
		}
	} else {
		reg.Status = model.RegistrationWaitlisted
	}

	reg.UpdatedAt = now
	if _, err = tx.Exec(ctx,
		`UPDATE registrations SET status = $2, updated_at = $3 WHERE id = $1`,
		registrationID, reg.Status, now,
	); err != nil {
		return nil, storeErr("update registration", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, storeErr("commit confirm", err)
	}
	return reg, nil
}

// Get returns a registration by id or ErrNotFound.
func (r *RegistrationRepository) Get(ctx context.Context, id string) (*model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get registration", err)
	}
	return reg, nil
}

// FindConfirmed returns the user's confirmed registration for the event,
// or ErrNotFound. Used by the certificate issuer's eligibility check.
func (r *RegistrationRepository) FindConfirmed(ctx context.Context, userID, eventID string) (*model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND user_id = $2 AND status = 'confirmed'`,
		eventID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("find confirmed registration", err)
	}
	return reg, nil
}

// ListByEvent returns all registrations for an event, oldest first.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, storeErr("list registrations", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, storeErr("scan registration", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}
