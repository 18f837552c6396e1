package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/campuskit/events-core/internal/model"
)

// EventStore is the event catalog as this service sees it.
type EventStore interface {
	Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	List(ctx context.Context) ([]model.Event, error)
}

// EventService covers the minimal catalog surface the portal needs to seed
// and inspect events. Capacity is immutable once set; there is no update
// path.
type EventService struct {
	events EventStore
}

// NewEventService constructs an EventService.
func NewEventService(events EventStore) *EventService {
	return &EventService{events: events}
}

// CreateEvent validates the request and delegates to the store.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("event name is required: %w", ErrValidation)
	}
	if req.Capacity < 0 {
		return nil, fmt.Errorf("capacity must be non-negative: %w", ErrValidation)
	}
	if req.Capacity > 100_000 {
		return nil, fmt.Errorf("capacity cannot exceed 100,000: %w", ErrValidation)
	}
	if req.RequiresPayment && req.PriceCents <= 0 {
		return nil, fmt.Errorf("paid events need a positive price: %w", ErrValidation)
	}
	if req.EndAt.Before(req.StartAt) {
		return nil, fmt.Errorf("event cannot end before it starts: %w", ErrValidation)
	}
	if req.RegistrationDeadline.IsZero() {
		req.RegistrationDeadline = req.StartAt
	}
	return s.events.Create(ctx, req)
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("event id is required: %w", ErrValidation)
	}
	return s.events.GetByID(ctx, id)
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.events.List(ctx)
}
