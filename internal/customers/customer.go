// Package customers serves read-only customer records keyed by RUT and records
// who looked each one up.
package customers

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound   = errors.New("customers: not found")
	ErrMissingRUT = errors.New("customers: rut is required")
)

// Customer is an externally managed record. Attributes carries every field
// besides the identifiers, as stored.
type Customer struct {
	ID         string
	RUT        string
	Attributes map[string]any
}

// MarshalJSON renders the full document: attributes flattened next to _id and rut.
func (c Customer) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(c.Attributes)+2)
	for k, v := range c.Attributes {
		doc[k] = v
	}
	doc["_id"] = c.ID
	doc["rut"] = c.RUT
	return json.Marshal(doc)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *Customer) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*c = Customer{Attributes: map[string]any{}}
	for k, v := range doc {
		switch k {
		case "_id", "id":
			c.ID, _ = v.(string)
		case "rut":
			c.RUT, _ = v.(string)
		default:
			c.Attributes[k] = v
		}
	}
	return nil
}

// Store reads customers.
type Store interface {
	FindByRUT(ctx context.Context, rut string) (*Customer, error)
}
