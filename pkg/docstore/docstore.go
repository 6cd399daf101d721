// Package docstore is the document store port shared by the report,
// sequence and lockout components. Adapters live in the sub-packages.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document key does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrTxAborted is returned when a transaction gave up after the
	// store's retry budget was spent.
	ErrTxAborted = errors.New("transaction aborted")
)

// Doc is one stored document. Data holds the raw fields as the store
// decoded them; callers normalize types themselves.
type Doc struct {
	ID   string
	Data map[string]any
}

// Filter is an equality condition on a single field.
type Filter struct {
	Field string
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Tx is the view of the store available inside a transaction body.
// All reads must happen before the first write.
type Tx interface {
	// Get returns the document and whether it exists.
	Get(collection, id string) (Doc, bool, error)
	// Set writes fields to the document, creating it if needed. When merge
	// is true, fields not mentioned are kept.
	Set(collection, id string, data map[string]any, merge bool) error
}

// TxFunc is a transaction body. The store may run it more than once,
// so it must not have effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

// SnapshotFunc receives the full content of a watched collection.
type SnapshotFunc func(docs []Doc)

// Subscription is a standing live query.
type Subscription interface {
	Unsubscribe()
}

// Store is the set of primitives the core consumes.
type Store interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error)
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	RunTransaction(ctx context.Context, fn TxFunc) error
	Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (Subscription, error)
	Close(ctx context.Context) error
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }
