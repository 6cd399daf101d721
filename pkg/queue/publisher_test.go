package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (r *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	r.exchange, r.key, r.msg = exchange, key, msg
	return r.err
}

func TestPublishSendsPersistentJSON(t *testing.T) {
	ch := &recordingChannel{}
	p := NewPublisher(ch, ReportsExchange)

	if err := p.Publish(context.Background(), KeyReportUpdated, map[string]string{"report_id": "r1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ch.exchange != ReportsExchange || ch.key != KeyReportUpdated {
		t.Errorf("routed to %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.ContentType != "application/json" {
		t.Errorf("publishing = %+v", ch.msg)
	}
	var body map[string]string
	if err := json.Unmarshal(ch.msg.Body, &body); err != nil || body["report_id"] != "r1" {
		t.Errorf("body = %s (%v)", ch.msg.Body, err)
	}
}

func TestPublishWrapsChannelError(t *testing.T) {
	boom := errors.New("channel closed")
	p := NewPublisher(&recordingChannel{err: boom}, ReportsExchange)
	if err := p.Publish(context.Background(), KeyReportCreated, struct{}{}); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
