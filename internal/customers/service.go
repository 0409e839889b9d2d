package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"consulta.cl/internal/audit"
)

// Service looks customers up and leaves an audit trail.
type Service struct {
	customers Store
	history   audit.Store
	now       func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source for lookup records.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the customer and history stores.
func NewService(customers Store, history audit.Store, opts ...Option) *Service {
	s := &Service{customers: customers, history: history, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LookupByRUT returns the customer with the given rut on behalf of userID.
// The history record is written before the customer is returned; if it cannot
// be written the lookup fails.
func (s *Service) LookupByRUT(ctx context.Context, userID, rut string) (*Customer, error) {
	rut = strings.TrimSpace(rut)
	if rut == "" {
		return nil, ErrMissingRUT
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("customers: user id is required")
	}
	c, err := s.customers.FindByRUT(ctx, rut)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if err := s.history.Append(ctx, audit.NewRUTLookup(userID, c.ID, s.now())); err != nil {
		return nil, fmt.Errorf("record lookup: %w", err)
	}
	return c, nil
}
