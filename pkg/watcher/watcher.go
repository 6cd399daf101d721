// Package watcher follows the report collection live and reports status
// changes between consecutive snapshots.
package watcher

import (
	"context"
	"sync"

	"signalement-platform/pkg/docstore"
	"signalement-platform/pkg/metrics"
	"signalement-platform/pkg/signalement"

	"go.uber.org/zap"
)

// Transition is a status change seen between two snapshots. Only the net
// change is visible when a report moved more than once in between.
type Transition struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	UserID    string             `json:"userId,omitempty"`
	OldStatus signalement.Status `json:"oldStatus"`
	NewStatus signalement.Status `json:"newStatus"`
}

// Handler receives every snapshot's valid records and the transitions found
// in it. It runs on the store's delivery goroutine.
type Handler func(records []signalement.Signalement, transitions []Transition)

type Watcher struct {
	store  docstore.Store
	points *signalement.PointCache
	log    *zap.Logger
}

func New(store docstore.Store, points *signalement.PointCache, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	if points == nil {
		points = signalement.NewPointCache(store, log)
	}
	return &Watcher{store: store, points: points, log: log.Named("watcher")}
}

// Watch subscribes to the report collection until the returned subscription
// is cancelled or ctx ends. The point table is read once, before the
// subscription starts. Each call keeps its own status memory.
func (w *Watcher) Watch(ctx context.Context, fn Handler) (docstore.Subscription, error) {
	points, err := w.points.Load(ctx)
	if err != nil {
		w.log.Warn("point table unavailable, coordinates from legacy records stay empty", zap.Error(err))
	}

	d := newDiffer(points)
	sub, err := w.store.Subscribe(ctx, signalement.Collection, func(docs []docstore.Doc) {
		records, transitions := d.observe(docs)
		for _, tr := range transitions {
			metrics.SignalementTransitions.WithLabelValues(string(tr.OldStatus), string(tr.NewStatus)).Inc()
			w.log.Info("status change observed",
				zap.String("id", tr.ID),
				zap.String("from", string(tr.OldStatus)),
				zap.String("to", string(tr.NewStatus)))
		}
		w.log.Debug("snapshot processed",
			zap.Int("records", len(records)),
			zap.Int("transitions", len(transitions)))
		fn(records, transitions)
	})
	if err != nil {
		return nil, err
	}
	w.log.Info("watching signalements")
	return sub, nil
}

// differ remembers the last status seen per report id. Entries are never
// evicted.
type differ struct {
	points map[int64]signalement.Point

	mu          sync.Mutex
	lastStatus  map[string]signalement.Status
	initialized bool
}

func newDiffer(points map[int64]signalement.Point) *differ {
	return &differ{points: points, lastStatus: make(map[string]signalement.Status)}
}

// observe normalizes a snapshot and diffs it against the previous one. The
// first snapshot only primes the memory.
func (d *differ) observe(docs []docstore.Doc) ([]signalement.Signalement, []Transition) {
	d.mu.Lock()
	defer d.mu.Unlock()

	records := make([]signalement.Signalement, 0, len(docs))
	var transitions []Transition
	for _, doc := range docs {
		s := signalement.Normalize(doc.ID, doc.Data, d.points)
		if s.Title == "" {
			continue
		}
		records = append(records, s)

		prev, seen := d.lastStatus[s.ID]
		if d.initialized && seen && prev != s.Status {
			transitions = append(transitions, Transition{
				ID:        s.ID,
				Title:     s.Title,
				UserID:    s.UserID,
				OldStatus: prev,
				NewStatus: s.Status,
			})
		}
		d.lastStatus[s.ID] = s.Status
	}
	d.initialized = true
	return records, transitions
}
