package audit

import (
	"context"
	"time"
)

const (
	TypeLookup  = "consulta"
	DetailByRUT = "consulta por RUT"
)

// Lookup is one entry of the lookup history: which operator read which customer.
// Entries are append-only.
type Lookup struct {
	ID         string
	UserID     string
	CustomerID string
	At         time.Time
	Type       string
	Detail     string
}

// NewRUTLookup builds the record written for a customer read by national id.
func NewRUTLookup(userID, customerID string, at time.Time) *Lookup {
	return &Lookup{
		UserID:     userID,
		CustomerID: customerID,
		At:         at.UTC(),
		Type:       TypeLookup,
		Detail:     DetailByRUT,
	}
}

// Store appends lookup records.
type Store interface {
	Append(ctx context.Context, entry *Lookup) error
}
