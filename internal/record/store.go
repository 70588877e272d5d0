// Package record provides the durable document store the transfer core
// persists into: transfer records, notifications, and registered endpoints.
// The Store interface mirrors what the hosted backend offers: create,
// field-level update, get-by-id, and live queries over equality filters
// ordered by a timestamp field.
package record

import "context"

// Document is a schemaless record. Every document carries an "id" field.
type Document map[string]any

// Query selects documents in a collection by field equality, ordered by a
// timestamp field, newest first when Descending is set.
type Query struct {
	Collection string
	Equals     map[string]any
	OrderBy    string
	Descending bool
}

// Matches reports whether the document satisfies the query's filters.
func (q Query) Matches(doc Document) bool {
	for field, want := range q.Equals {
		if doc[field] != want {
			return false
		}
	}
	return true
}

// Subscription delivers documents matching a live query. Existing matches
// are delivered first, then every future create or update that matches.
type Subscription interface {
	// Updates yields matching documents. The channel closes when the
	// subscription is cancelled or the store shuts down.
	Updates() <-chan Document
	// Cancel stops delivery and releases the subscription.
	Cancel()
}

// Store is the durable record store contract.
type Store interface {
	// Put creates or replaces a document by id.
	Put(ctx context.Context, collection, id string, doc Document) error
	// Get returns the document, or (nil, nil) when absent.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Update merges the given fields into an existing document.
	Update(ctx context.Context, collection, id string, fields Document) error
	// Find returns all current matches for the query, ordered.
	Find(ctx context.Context, q Query) ([]Document, error)
	// Subscribe opens a live query.
	Subscribe(ctx context.Context, q Query) (Subscription, error)
}
