package signalement

import (
	"context"
	"strconv"
	"sync"

	"signalement-platform/pkg/docstore"

	"go.uber.org/zap"
)

type Point struct {
	Latitude  float64
	Longitude float64
}

// PointCache loads the location table once and serves it for the life of
// its owner. A stale table after the points change is accepted; call
// Invalidate to force a reload. A failed load is not remembered.
type PointCache struct {
	store docstore.Store
	log   *zap.Logger

	mu     sync.Mutex
	points map[int64]Point
}

func NewPointCache(store docstore.Store, log *zap.Logger) *PointCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &PointCache{store: store, log: log.Named("points")}
}

// Load returns the table, reading it on first use. The returned map must
// not be modified.
func (c *PointCache) Load(ctx context.Context) (map[int64]Point, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.points != nil {
		return c.points, nil
	}

	docs, err := c.store.Query(ctx, PointCollection)
	if err != nil {
		return nil, err
	}
	points := make(map[int64]Point, len(docs))
	for _, doc := range docs {
		id, ok := docstore.Int(doc.Data, "id")
		if !ok {
			if id, err = strconv.ParseInt(doc.ID, 10, 64); err != nil {
				continue
			}
		}
		lat, okLat := docstore.Float(doc.Data, "latitude")
		lng, okLng := docstore.Float(doc.Data, "longitude")
		if !okLat || !okLng {
			continue
		}
		points[id] = Point{Latitude: lat, Longitude: lng}
	}
	c.points = points
	c.log.Debug("point table loaded", zap.Int("points", len(points)))
	return points, nil
}

func (c *PointCache) Invalidate() {
	c.mu.Lock()
	c.points = nil
	c.mu.Unlock()
}
