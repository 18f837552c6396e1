package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/events-core/internal/model"
)

const sessionColumns = `id, COALESCE(external_session_id, ''), kind, reference_id,
	amount_cents, status, applied_at, created_at, updated_at`

// PaymentSessionRepository is the idempotency record store for provider
// checkouts. The pending→terminal transition and the applied-at stamp are
// both single conditional updates, so concurrent or replayed callbacks for
// one external session id serialise on the database row.
type PaymentSessionRepository struct {
	db *pgxpool.Pool
}

// NewPaymentSessionRepository constructs a PaymentSessionRepository.
func NewPaymentSessionRepository(db *pgxpool.Pool) *PaymentSessionRepository {
	return &PaymentSessionRepository{db: db}
}

func insertSession(ctx context.Context, tx pgx.Tx, s *model.PaymentSession) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO payment_sessions (id, external_session_id, kind, reference_id,
		                               amount_cents, status, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)`,
		s.ID, s.ExternalSessionID, s.Kind, s.ReferenceID,
		s.AmountCents, s.Status, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return storeErr("insert payment session", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*model.PaymentSession, error) {
	var s model.PaymentSession
	err := row.Scan(&s.ID, &s.ExternalSessionID, &s.Kind, &s.ReferenceID,
		&s.AmountCents, &s.Status, &s.AppliedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create opens a new pending session record.
func (r *PaymentSessionRepository) Create(ctx context.Context, s *model.PaymentSession) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storeErr("begin create session", err)
	}
	defer tx.Rollback(ctx)

	if err := insertSession(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit create session", err)
	}
	return nil
}

// Bind attaches the provider-allocated external session id to a local
// session. Rebinding with the same id is a no-op; a different id fails with
// ErrAlreadyBound.
func (r *PaymentSessionRepository) Bind(ctx context.Context, localID, externalID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payment_sessions
		 SET external_session_id = $2, updated_at = $3
		 WHERE id = $1 AND (external_session_id IS NULL OR external_session_id = $2)`,
		localID, externalID, time.Now().UTC(),
	)
	if err != nil {
		return storeErr("bind session", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: either the row is missing or it carries another id.
	var bound string
	err = r.db.QueryRow(ctx,
		`SELECT COALESCE(external_session_id, '') FROM payment_sessions WHERE id = $1`,
		localID,
	).Scan(&bound)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return storeErr("inspect session binding", err)
	}
	return ErrAlreadyBound
}

// Get returns a session by local id.
func (r *PaymentSessionRepository) Get(ctx context.Context, id string) (*model.PaymentSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get session", err)
	}
	return s, nil
}

// GetByExternalID returns the session bound to an external id, or
// ErrUnknownSession.
func (r *PaymentSessionRepository) GetByExternalID(ctx context.Context, externalID string) (*model.PaymentSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM payment_sessions WHERE external_session_id = $1`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownSession
		}
		return nil, storeErr("get session by external id", err)
	}
	return s, nil
}

// Settle attempts the pending→terminal compare-and-set for the session
// bound to externalID. It reports whether this call performed the
// transition; when it did not, the returned session carries the previously
// recorded terminal state.
func (r *PaymentSessionRepository) Settle(ctx context.Context, externalID string, terminal model.SessionStatus) (*model.PaymentSession, bool, error) {
	s, err := scanSession(r.db.QueryRow(ctx,
		`UPDATE payment_sessions
		 SET status = $2, updated_at = $3
		 WHERE external_session_id = $1 AND status = 'pending'
		 RETURNING `+sessionColumns,
		externalID, terminal, time.Now().UTC(),
	))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, storeErr("settle session", err)
	}

	// CAS lost: the session is unknown or already terminal.
	s, err = r.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// MarkApplied stamps the session's domain effect as done. Reports false when
// another worker already stamped it.
func (r *PaymentSessionRepository) MarkApplied(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payment_sessions
		 SET applied_at = $2, updated_at = $2
		 WHERE id = $1 AND applied_at IS NULL`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return false, storeErr("mark session applied", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListUnapplied returns settled sessions whose domain effect has not been
// stamped, oldest first. No row lock is taken: effects are idempotent, so
// two sweepers racing over the same session is safe, just wasted work.
func (r *PaymentSessionRepository) ListUnapplied(ctx context.Context, limit int) ([]model.PaymentSession, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM payment_sessions
		 WHERE status = 'settled' AND applied_at IS NULL
		 ORDER BY updated_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, storeErr("list unapplied sessions", err)
	}
	defer rows.Close()

	var sessions []model.PaymentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("scan session", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
