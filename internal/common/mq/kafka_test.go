package mq

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaProducerPublish(t *testing.T) {
	writer := &fakeWriter{}
	producer := &KafkaProducer{writer: writer}

	msg := NewMessage("sub-1", []byte(`{"status":"Judged"}`))
	msg.SetHeader("event", "final")
	if err := producer.Publish(context.Background(), "sandbox.final", msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.msgs))
	}
	got := writer.msgs[0]
	if got.Topic != "sandbox.final" || string(got.Key) != "sub-1" {
		t.Fatalf("unexpected topic/key: %s/%s", got.Topic, got.Key)
	}
	headers := map[string]string{}
	for _, h := range got.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event"] != "final" || headers[headerID] != "sub-1" || headers[headerTimestamp] == "" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestKafkaProducerRejectsInvalid(t *testing.T) {
	producer := &KafkaProducer{writer: &fakeWriter{}}
	if err := producer.Publish(context.Background(), "", NewMessage("x", nil)); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	if err := producer.Publish(context.Background(), "t", nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
	if _, err := NewKafkaProducer(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
