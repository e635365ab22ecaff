package verdictbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/bhumitgoyal/convo-legal-mistral/pkg/verdict"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(Config{Topic: "t"}); err == nil {
		t.Fatal("expected error for missing brokers")
	}
	if _, err := NewPublisher(Config{Brokers: []string{" ", ""}, Topic: "t"}); err == nil {
		t.Fatal("expected error for blank brokers")
	}
	if _, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatal("expected error for missing topic")
	}
	p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "verdicts"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublishEncodesVerdictEvent(t *testing.T) {
	fw := &fakeWriter{}
	p := &Publisher{writer: fw}
	v := verdict.Result{Summary: "S", Compromise: "C"}
	if err := p.Publish(context.Background(), "neg-1", v); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.messages))
	}
	msg := fw.messages[0]
	if string(msg.Key) != "neg-1" {
		t.Fatalf("expected key neg-1, got %q", msg.Key)
	}
	var evt verdictEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.NegotiationID != "neg-1" || evt.Summary != "S" || evt.Compromise != "C" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.CompletedAt == "" {
		t.Fatal("expected completed_at timestamp")
	}
}

func TestPublishPropagatesWriterError(t *testing.T) {
	wantErr := errors.New("broker down")
	p := &Publisher{writer: &fakeWriter{err: wantErr}}
	if err := p.Publish(context.Background(), "id", verdict.Result{Summary: "S", Compromise: "C"}); !errors.Is(err, wantErr) {
		t.Fatalf("expected writer error, got %v", err)
	}
}

func TestPublishOnNilPublisher(t *testing.T) {
	var p *Publisher
	if err := p.Publish(context.Background(), "id", verdict.Result{}); err == nil {
		t.Fatal("expected error for uninitialized publisher")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("nil close should be a no-op: %v", err)
	}
}
