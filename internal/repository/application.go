package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Application is a vendor's booth/bazaar application. The broader approval
// workflow lives outside this service; only the fee capture does not.
type Application struct {
	ID            string    `json:"id"`
	VendorUserID  string    `json:"vendor_user_id"`
	EventID       string    `json:"event_id"`
	Paid          bool      `json:"paid"`
	PaidSessionID string    `json:"paid_session_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ApplicationRepository persists vendor applications and their fee status.
type ApplicationRepository struct {
	db *pgxpool.Pool
}

// NewApplicationRepository constructs an ApplicationRepository.
func NewApplicationRepository(db *pgxpool.Pool) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create inserts a new unpaid application.
func (r *ApplicationRepository) Create(ctx context.Context, vendorUserID, eventID string) (*Application, error) {
	app := &Application{
		ID:           uuid.New().String(),
		VendorUserID: vendorUserID,
		EventID:      eventID,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO applications (id, vendor_user_id, event_id, paid, created_at)
		 VALUES ($1, $2, $3, FALSE, $4)`,
		app.ID, app.VendorUserID, app.EventID, app.CreatedAt,
	)
	if err != nil {
		return nil, storeErr("insert application", err)
	}
	return app, nil
}

// Get returns an application by id or ErrNotFound.
func (r *ApplicationRepository) Get(ctx context.Context, id string) (*Application, error) {
	var app Application
	var paidSession *string
	err := r.db.QueryRow(ctx,
		`SELECT id, vendor_user_id, event_id, paid, paid_session_id, created_at
		 FROM applications WHERE id = $1`,
		id,
	).Scan(&app.ID, &app.VendorUserID, &app.EventID, &app.Paid, &paidSession, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get application", err)
	}
	if paidSession != nil {
		app.PaidSessionID = *paidSession
	}
	return &app, nil
}

// MarkPaid records the fee capture for an application and returns the
// updated row. Re-marking an already-paid application is a no-op, which
// keeps settlement re-drives safe.
func (r *ApplicationRepository) MarkPaid(ctx context.Context, id, sessionID string) (*Application, error) {
	var app Application
	var paidSession *string
	err := r.db.QueryRow(ctx,
		`UPDATE applications SET paid = TRUE, paid_session_id = $2
		 WHERE id = $1
		 RETURNING id, vendor_user_id, event_id, paid, paid_session_id, created_at`,
		id, sessionID,
	).Scan(&app.ID, &app.VendorUserID, &app.EventID, &app.Paid, &paidSession, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("mark application paid", err)
	}
	if paidSession != nil {
		app.PaidSessionID = *paidSession
	}
	return &app, nil
}
