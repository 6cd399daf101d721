package notify

import (
	"context"
	"fmt"
	"time"

	"signalement-platform/pkg/queue"

	"github.com/google/uuid"
)

// Publisher is satisfied by *queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// QueueScheduler schedules alerts by publishing status_update events on
// the reports exchange.
type QueueScheduler struct {
	pub Publisher
	now func() time.Time
}

func NewQueueScheduler(pub Publisher) *QueueScheduler {
	return &QueueScheduler{pub: pub, now: time.Now}
}

func (s *QueueScheduler) Schedule(ctx context.Context, alert Alert) error {
	ev := Event{
		ID:        uuid.NewString(),
		ReportID:  alert.Extra["signalementId"],
		Title:     alert.Title,
		Message:   alert.Body,
		Type:      EventStatusUpdate,
		Status:    alert.Extra["newStatus"],
		UserID:    alert.UserID,
		Data:      alert.Extra,
		CreatedAt: s.now().UTC(),
	}
	if err := s.pub.Publish(ctx, queue.KeyReportUpdated, ev); err != nil {
		return fmt.Errorf("schedule alert for %s: %w", ev.ReportID, err)
	}
	return nil
}
