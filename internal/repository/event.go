package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/events-core/internal/model"
)

const eventColumns = `id, name, capacity, confirmed_count, requires_payment,
	price_cents, start_at, end_at, registration_deadline, created_at`

// EventRepository handles persistence for the event catalog. The core only
// reads events; capacity is immutable once registrations exist, which is
// enforced by simply having no update path here.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event and returns it with a generated UUID.
func (r *EventRepository) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	event := &model.Event{
		ID:                   uuid.New().String(),
		Name:                 req.Name,
		Capacity:             req.Capacity,
		RequiresPayment:      req.RequiresPayment,
		PriceCents:           req.PriceCents,
		StartAt:              req.StartAt,
		EndAt:                req.EndAt,
		RegistrationDeadline: req.RegistrationDeadline,
		CreatedAt:            time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, name, capacity, confirmed_count, requires_payment,
		                     price_cents, start_at, end_at, registration_deadline, created_at)
		 VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.Name, event.Capacity, event.RequiresPayment,
		event.PriceCents, event.StartAt, event.EndAt, event.RegistrationDeadline, event.CreatedAt,
	)
	if err != nil {
		return nil, storeErr("insert event", err)
	}
	return event, nil
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id,
	).Scan(
		&e.ID, &e.Name, &e.Capacity, &e.ConfirmedCount, &e.RequiresPayment,
		&e.PriceCents, &e.StartAt, &e.EndAt, &e.RegistrationDeadline, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get event", err)
	}
	return &e, nil
}

// List returns all events ordered by creation time descending.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(
			&e.ID, &e.Name, &e.Capacity, &e.ConfirmedCount, &e.RequiresPayment,
			&e.PriceCents, &e.StartAt, &e.EndAt, &e.RegistrationDeadline, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
