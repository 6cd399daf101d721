package signalement

import (
	"strconv"
	"time"

	"signalement-platform/pkg/docstore"
)

// Normalize resolves a stored document into the canonical shape. Direct
// fields win; legacy foreign keys only fill what is missing. A record whose
// title stays empty is not a valid report and callers drop it.
func Normalize(id string, data map[string]any, points map[int64]Point) Signalement {
	s := Signalement{ID: id, Photos: []string{}}

	s.Title, _ = docstore.String(data, "title")
	if s.Title == "" {
		if typeID, ok := docstore.Int(data, "typeSignalementId", "type_signalement_id"); ok && typeID != 0 {
			s.Title = TypeLabel(typeID)
		}
	}
	s.Description, _ = docstore.String(data, "description")

	if st, ok := docstore.String(data, "status"); ok {
		s.Status = Status(st)
	} else if statutID, ok := docstore.Int(data, "statutsId", "statuts_id"); ok && statutID != 0 {
		s.Status = StatusFromID(statutID)
	} else {
		s.Status = StatusNew
	}

	s.Latitude = optFloat(data, "latitude")
	s.Longitude = optFloat(data, "longitude")
	if s.Latitude == nil || s.Longitude == nil {
		if pointID, ok := docstore.Int(data, "pointId", "point_id"); ok && pointID != 0 {
			if p, ok := points[pointID]; ok {
				lat, lng := p.Latitude, p.Longitude
				s.Latitude, s.Longitude = &lat, &lng
			}
		}
	}

	s.SurfaceM2 = optFloat(data, "surfaceM2", "surface")
	s.Budget = optFloat(data, "budget")
	s.SequenceID, _ = docstore.Int(data, "id")

	if uid, ok := docstore.String(data, "userId"); ok {
		s.UserID = uid
	} else if v, ok := docstore.Lookup(data, "user_id"); ok {
		s.UserID = idString(v)
	}
	s.UserEmail, _ = docstore.String(data, "userEmail")

	if photos := docstore.Strings(data, "photos"); photos != nil {
		s.Photos = photos
	}

	if t, ok := docstore.Time(data, "createdAt"); ok {
		s.CreatedAt = &t
	} else if t, ok := docstore.Time(data, "date"); ok {
		s.CreatedAt = &t
	}
	if t, ok := docstore.Time(data, "updatedAt"); ok {
		s.UpdatedAt = &t
	}
	return s
}

func optFloat(data map[string]any, keys ...string) *float64 {
	f, ok := docstore.Float(data, keys...)
	if !ok {
		return nil
	}
	return &f
}

func idString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if n, ok := docstore.AsInt(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return ""
}

// newestFirst orders by createdAt descending; records without a timestamp
// sort as the oldest.
func newestFirst(a, b Signalement) int {
	ta, tb := stamp(a.CreatedAt), stamp(b.CreatedAt)
	switch {
	case ta.After(tb):
		return -1
	case ta.Before(tb):
		return 1
	}
	return 0
}

func stamp(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
