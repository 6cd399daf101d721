package signalement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"signalement-platform/pkg/docstore"

	"go.uber.org/zap"
)

// Sequencer issues the human-facing report number.
type Sequencer interface {
	Next(ctx context.Context, name string) (int64, error)
}

type Repository struct {
	store  docstore.Store
	seq    Sequencer
	points *PointCache
	log    *zap.Logger
	now    func() time.Time
}

// NewRepository wires a repository. A nil points cache gets a fresh one
// over the same store.
func NewRepository(store docstore.Store, seq Sequencer, points *PointCache, log *zap.Logger) *Repository {
	if log == nil {
		log = zap.NewNop()
	}
	if points == nil {
		points = NewPointCache(store, log)
	}
	return &Repository{
		store:  store,
		seq:    seq,
		points: points,
		log:    log.Named("signalement"),
		now:    time.Now,
	}
}

func (r *Repository) Points() *PointCache { return r.points }

// Create validates the input, takes the next sequence number and writes the
// record. If no number can be issued nothing is written.
func (r *Repository) Create(ctx context.Context, in CreateInput) (string, error) {
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrValidation)
	}
	if description == "" {
		return "", fmt.Errorf("%w: description is required", ErrValidation)
	}

	seqID, err := r.seq.Next(ctx, SequenceName)
	if err != nil {
		return "", fmt.Errorf("allocate sequence id: %w", err)
	}

	photos := in.Photos
	if photos == nil {
		photos = []string{}
	}
	now := r.now().UTC()
	data := map[string]any{
		"id":          seqID,
		"title":       title,
		"description": description,
		"surfaceM2":   floatOrNil(in.SurfaceM2),
		"budget":      floatOrNil(in.Budget),
		"latitude":    floatOrNil(in.Latitude),
		"longitude":   floatOrNil(in.Longitude),
		"status":      string(StatusNew),
		"userId":      stringOrNil(in.UserID),
		"userEmail":   stringOrNil(in.UserEmail),
		"photos":      photos,
		"createdAt":   now,
		"updatedAt":   now,
	}

	id, err := r.store.Add(ctx, Collection, data)
	if err != nil {
		r.log.Error("signalement write failed after sequence allocation",
			zap.Int64("sequence_id", seqID), zap.Error(err))
		return "", fmt.Errorf("store signalement: %w", err)
	}
	r.log.Info("signalement created",
		zap.String("id", id),
		zap.Int64("sequence_id", seqID),
		zap.String("user_id", in.UserID))
	return id, nil
}

func (r *Repository) GetAll(ctx context.Context) ([]Signalement, error) {
	docs, err := r.store.Query(ctx, Collection)
	if err != nil {
		return nil, fmt.Errorf("list signalements: %w", err)
	}
	return r.normalizeAll(ctx, docs, nil), nil
}

// GetByID returns ErrNotFound for a missing document and for one that
// has no resolvable title.
func (r *Repository) GetByID(ctx context.Context, id string) (Signalement, error) {
	doc, err := r.store.Get(ctx, Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Signalement{}, ErrNotFound
	}
	if err != nil {
		return Signalement{}, fmt.Errorf("get signalement %s: %w", id, err)
	}
	s := Normalize(doc.ID, doc.Data, r.pointTable(ctx))
	if s.Title == "" {
		return Signalement{}, ErrNotFound
	}
	return s, nil
}

// GetByUser matches the direct userId field and the legacy user_id field,
// then keeps only records whose resolved submitter is userID.
func (r *Repository) GetByUser(ctx context.Context, userID string) ([]Signalement, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	filters := []docstore.Filter{
		docstore.Eq("userId", userID),
		docstore.Eq("user_id", userID),
	}
	if n, err := strconv.ParseInt(userID, 10, 64); err == nil {
		filters = append(filters, docstore.Eq("user_id", n))
	}

	docs, err := r.queryAny(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list signalements of %s: %w", userID, err)
	}
	return r.normalizeAll(ctx, docs, func(s Signalement) bool { return s.UserID == userID }), nil
}

// GetByStatus filters after normalization. Records with no status at all
// and unknown legacy ids both resolve to nouveau, which no equality query
// can express.
func (r *Repository) GetByStatus(ctx context.Context, status Status) ([]Signalement, error) {
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	docs, err := r.store.Query(ctx, Collection)
	if err != nil {
		return nil, fmt.Errorf("list signalements: %w", err)
	}
	return r.normalizeAll(ctx, docs, func(s Signalement) bool { return s.Status == status }), nil
}

// ListTypes returns the type catalogue ordered by label.
func (r *Repository) ListTypes(ctx context.Context) ([]Type, error) {
	docs, err := r.store.Query(ctx, TypeCollection)
	if err != nil {
		return nil, fmt.Errorf("list types: %w", err)
	}
	types := make([]Type, 0, len(docs))
	for _, doc := range docs {
		label, _ := docstore.String(doc.Data, "libelle")
		types = append(types, Type{ID: doc.ID, Libelle: label})
	}
	slices.SortFunc(types, func(a, b Type) int { return strings.Compare(a.Libelle, b.Libelle) })
	return types, nil
}

func (r *Repository) queryAny(ctx context.Context, filters []docstore.Filter) ([]docstore.Doc, error) {
	seen := make(map[string]bool)
	var out []docstore.Doc
	for _, f := range filters {
		docs, err := r.store.Query(ctx, Collection, f)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if !seen[doc.ID] {
				seen[doc.ID] = true
				out = append(out, doc)
			}
		}
	}
	return out, nil
}

func (r *Repository) normalizeAll(ctx context.Context, docs []docstore.Doc, keep func(Signalement) bool) []Signalement {
	points := r.pointTable(ctx)
	out := make([]Signalement, 0, len(docs))
	for _, doc := range docs {
		s := Normalize(doc.ID, doc.Data, points)
		if s.Title == "" {
			r.log.Debug("signalement without title skipped", zap.String("id", doc.ID))
			continue
		}
		if keep != nil && !keep(s) {
			continue
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, newestFirst)
	return out
}

// pointTable degrades to an empty table when the points cannot be read;
// records then keep whatever coordinates they carry themselves.
func (r *Repository) pointTable(ctx context.Context) map[int64]Point {
	points, err := r.points.Load(ctx)
	if err != nil {
		r.log.Warn("point table unavailable", zap.Error(err))
		return nil
	}
	return points
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
