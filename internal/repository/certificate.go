package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/events-core/internal/model"
)

// CertificateRepository persists attendance certificates. The unique
// (user_id, event_id) constraint is the at-most-once guard.
type CertificateRepository struct {
	db *pgxpool.Pool
}

// NewCertificateRepository constructs a CertificateRepository.
func NewCertificateRepository(db *pgxpool.Pool) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Issue inserts the certificate unless one already exists for the pair.
// Reports whether this call created it.
func (r *CertificateRepository) Issue(ctx context.Context, c *model.Certificate) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO certificates (id, user_id, event_id, issued_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, event_id) DO NOTHING`,
		c.ID, c.UserID, c.EventID, c.IssuedAt,
	)
	if err != nil {
		return false, storeErr("insert certificate", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the certificate for a (user, event) pair or ErrNotFound.
func (r *CertificateRepository) Get(ctx context.Context, userID, eventID string) (*model.Certificate, error) {
	var c model.Certificate
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, event_id, issued_at
		 FROM certificates
		 WHERE user_id = $1 AND event_id = $2`,
		userID, eventID,
	).Scan(&c.ID, &c.UserID, &c.EventID, &c.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get certificate", err)
	}
	return &c, nil
}
