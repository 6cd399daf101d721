// Package signalement stores incident reports and reads them back in one
// canonical shape, whichever client wrote them.
package signalement

import (
	"errors"
	"fmt"
	"time"
)

// Collection and sequence names.
const (
	Collection      = "signalements"
	PointCollection = "points"
	TypeCollection  = "type_signalements"
	SequenceName    = "signalements"
)

type Status string

const (
	StatusNew        Status = "nouveau"
	StatusInProgress Status = "en_cours"
	StatusDone       Status = "termine"
)

// ParseStatus accepts only the three known statuses.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusNew, StatusInProgress, StatusDone:
		return st, true
	}
	return "", false
}

var statusByID = map[int64]Status{
	1: StatusNew,
	2: StatusInProgress,
	3: StatusDone,
}

// StatusFromID maps a legacy statut id. Unknown ids read as new.
func StatusFromID(id int64) Status {
	if st, ok := statusByID[id]; ok {
		return st
	}
	return StatusNew
}

var typeLabels = map[int64]string{
	1: "Nid de poule",
	2: "Fuite / eau",
	3: "Abîmé",
	4: "Accident",
	5: "Construction",
	6: "Électricité",
	7: "Déchet",
	8: "Alerte",
	9: "Autre",
}

// TypeLabel returns the display label of a report type id.
func TypeLabel(id int64) string {
	if label, ok := typeLabels[id]; ok {
		return label
	}
	return fmt.Sprintf("Type %d", id)
}

var (
	// ErrValidation is wrapped with the offending field.
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("signalement not found")
)

type Signalement struct {
	ID          string     `json:"id"`
	SequenceID  int64      `json:"sequenceId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	SurfaceM2   *float64   `json:"surfaceM2"`
	Budget      *float64   `json:"budget"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
	Status      Status     `json:"status"`
	UserID      string     `json:"userId,omitempty"`
	UserEmail   string     `json:"userEmail,omitempty"`
	Photos      []string   `json:"photos"`
	CreatedAt   *time.Time `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

type CreateInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SurfaceM2   *float64 `json:"surfaceM2"`
	Budget      *float64 `json:"budget"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	UserID      string   `json:"userId"`
	UserEmail   string   `json:"userEmail"`
	Photos      []string `json:"photos"`
}

// Type is an entry of the report type catalogue.
type Type struct {
	ID      string `json:"id"`
	Libelle string `json:"libelle"`
}
