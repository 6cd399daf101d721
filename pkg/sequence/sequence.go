// Package sequence issues gap-free, human-readable numeric ids backed by
// one counter document per sequence name.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"signalement-platform/pkg/docstore"
	"signalement-platform/pkg/metrics"

	"go.uber.org/zap"
)

// CountersCollection holds one document per sequence, keyed by name.
const CountersCollection = "counters"

const lastIDField = "lastId"

// ErrTransactionFailed means no value was issued. Callers may retry.
var ErrTransactionFailed = errors.New("sequence transaction failed")

type Allocator struct {
	store      docstore.Store
	collection string
	log        *zap.Logger
}

func NewAllocator(store docstore.Store, log *zap.Logger) *Allocator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Allocator{store: store, collection: CountersCollection, log: log.Named("sequence")}
}

// Next returns the next value of the named sequence. The read-increment-write
// runs inside a store transaction; the store serializes concurrent callers
// and re-runs the body on conflict, so the value is returned only once the
// write that claims it has committed.
func (a *Allocator) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, errors.New("sequence name is required")
	}

	var next int64
	err := a.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, exists, err := tx.Get(a.collection, name)
		if err != nil {
			return err
		}
		var last int64
		if exists {
			last, _ = docstore.Int(doc.Data, lastIDField)
		}
		next = last + 1
		return tx.Set(a.collection, name, map[string]any{lastIDField: next}, true)
	})
	if err != nil {
		metrics.SequenceAllocations.WithLabelValues(name, "error").Inc()
		a.log.Error("sequence allocation failed", zap.String("sequence", name), zap.Error(err))
		return 0, fmt.Errorf("%w: %s: %w", ErrTransactionFailed, name, err)
	}

	metrics.SequenceAllocations.WithLabelValues(name, "ok").Inc()
	a.log.Debug("sequence value issued", zap.String("sequence", name), zap.Int64("value", next))
	return next, nil
}
