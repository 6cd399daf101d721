// Package notify turns observed status transitions into user alerts and
// carries them to connected clients.
package notify

import (
	"context"
	"fmt"
	"time"

	"signalement-platform/pkg/metrics"
	"signalement-platform/pkg/signalement"
	"signalement-platform/pkg/watcher"

	"go.uber.org/zap"
)

const (
	StatusAlertTitle   = "Mise à jour de signalement"
	StatusAlertSummary = "Changement de statut"
)

// Alert is a titled message for one user. Extra is the opaque payload the
// client uses to open the report.
type Alert struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	LargeBody string            `json:"large_body"`
	Summary   string            `json:"summary"`
	UserID    string            `json:"user_id,omitempty"`
	Extra     map[string]string `json:"extra"`
}

// Scheduler delivers an alert to the platform.
type Scheduler interface {
	Schedule(ctx context.Context, alert Alert) error
}

// StatusAlert formats a transition.
func StatusAlert(tr watcher.Transition) Alert {
	large := fmt.Sprintf("Le signalement \"%s\" a changé de statut.\n\nAncien statut: %s\nNouveau statut: %s",
		tr.Title, tr.OldStatus, tr.NewStatus)
	return Alert{
		Title:     StatusAlertTitle,
		Body:      fmt.Sprintf("\"%s\" : %s → %s", tr.Title, tr.OldStatus, tr.NewStatus),
		LargeBody: large,
		Summary:   StatusAlertSummary,
		UserID:    tr.UserID,
		Extra: map[string]string{
			"signalementId": tr.ID,
			"oldStatus":     string(tr.OldStatus),
			"newStatus":     string(tr.NewStatus),
			"userId":        tr.UserID,
		},
	}
}

// Dispatcher hands every transition to the scheduler in order. It does not
// retry: a failed alert is logged and the next one still goes out.
type Dispatcher struct {
	scheduler Scheduler
	log       *zap.Logger
}

func NewDispatcher(s Scheduler, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{scheduler: s, log: log.Named("notify")}
}

// Dispatch returns how many alerts were scheduled.
func (d *Dispatcher) Dispatch(ctx context.Context, transitions []watcher.Transition) int {
	sent := 0
	for _, tr := range transitions {
		if err := d.scheduler.Schedule(ctx, StatusAlert(tr)); err != nil {
			metrics.NotificationsDispatched.WithLabelValues("error").Inc()
			d.log.Warn("status alert not scheduled",
				zap.String("signalement_id", tr.ID),
				zap.String("new_status", string(tr.NewStatus)),
				zap.Error(err))
			continue
		}
		metrics.NotificationsDispatched.WithLabelValues("ok").Inc()
		sent++
	}
	return sent
}

// Handler adapts the dispatcher to the watcher callback.
func (d *Dispatcher) Handler(ctx context.Context) watcher.Handler {
	return func(_ []signalement.Signalement, transitions []watcher.Transition) {
		if len(transitions) > 0 {
			d.Dispatch(ctx, transitions)
		}
	}
}

// Event is the message carried on the notifications queue and pushed to
// SSE clients.
type Event struct {
	ID        string            `json:"id"`
	ReportID  string            `json:"report_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Type      string            `json:"type"`
	Status    string            `json:"status"`
	UserID    string            `json:"user_id"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

const (
	EventStatusUpdate = "status_update"
	EventNewReport    = "new_report"
)

// NewReportEvent announces a freshly created report to the dashboards.
func NewReportEvent(id string, in signalement.CreateInput) Event {
	return Event{
		ID:        fmt.Sprintf("%s-created", id),
		ReportID:  id,
		Title:     in.Title,
		Message:   fmt.Sprintf("Nouveau signalement : %s", in.Title),
		Type:      EventNewReport,
		Status:    string(signalement.StatusNew),
		UserID:    in.UserID,
		CreatedAt: time.Now().UTC(),
	}
}
