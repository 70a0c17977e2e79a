// Package db defines the generic data-service contract: CRUD, queries, and
// change notification over named collections. Providers parallel the auth
// abstraction: a mock for offline development and a Postgres-backed one for
// a hosted deployment.
package db

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Update and Delete for an absent id.
	ErrNotFound = errors.New("record not found")

	// ErrNotImplemented marks operations the active provider cannot serve.
	ErrNotImplemented = errors.New("not implemented by provider")

	// ErrTransport wraps storage I/O failures, preserving the cause.
	ErrTransport = errors.New("transport error")

	// ErrInvalidTable is returned for collection names that are not valid
	// identifiers.
	ErrInvalidTable = errors.New("invalid table name")
)

// Record is one row of a collection. Providers manage the "id",
// "created_at" and "updated_at" fields; everything else belongs to the
// application. Timestamps are RFC 3339 strings and never decrease for a
// given record.
type Record = map[string]any

// EventKind labels a change notification.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// Event is delivered to table subscribers in operation order. Record is the
// row after the change (for deletes, the row as it was removed).
type Event struct {
	Kind   EventKind
	Record Record
}

// OrderBy selects single-column ordering with a stable comparator.
type OrderBy struct {
	Column     string
	Descending bool
}

// QueryOptions narrows a Query. Filters are exact-match conjunctions across
// all provided fields. Offset is applied before Limit; Limit 0 means no
// limit.
type QueryOptions struct {
	Filters map[string]any
	OrderBy *OrderBy
	Limit   int
	Offset  int
}

// Subscription is the handle returned by Subscribe. After Unsubscribe
// returns, the callback is never invoked again.
type Subscription interface {
	Unsubscribe()
}

// Service is the data-service contract.
//
// Read returns (nil, nil) for a missing id; only Update and Delete treat
// absence as ErrNotFound.
type Service interface {
	Create(ctx context.Context, table string, data Record) (Record, error)
	Read(ctx context.Context, table, id string) (Record, error)
	Update(ctx context.Context, table, id string, data Record) (Record, error)
	Delete(ctx context.Context, table, id string) error

	Query(ctx context.Context, table string, opts QueryOptions) ([]Record, error)
	Count(ctx context.Context, table string, filters map[string]any) (int, error)

	// Subscribe registers for changes on table, optionally restricted to
	// records matching filters. Delivery is synchronous and in operation
	// order.
	Subscribe(table string, callback func(Event), filters map[string]any) Subscription

	// SQL runs a raw query on providers that speak SQL; the mock returns
	// ErrNotImplemented.
	SQL(ctx context.Context, query string, args ...any) ([]Record, error)
}
