// Package verdictbus publishes completed-negotiation verdicts to Kafka for
// downstream consumers. Publishing is best effort; the negotiation response
// never waits on broker acknowledgement failures beyond the write call.
package verdictbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bhumitgoyal/convo-legal-mistral/pkg/verdict"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
}

type Publisher struct {
	writer kafkaWriter
}

func NewPublisher(cfg Config) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Publisher{writer: w}, nil
}

type verdictEvent struct {
	NegotiationID string `json:"negotiation_id"`
	Summary       string `json:"summary"`
	Compromise    string `json:"compromise"`
	CompletedAt   string `json:"completed_at"`
}

// Publish sends one verdict event keyed by negotiation id.
func (p *Publisher) Publish(ctx context.Context, negotiationID string, v verdict.Result) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("verdict publisher not initialized")
	}
	value, err := json.Marshal(verdictEvent{
		NegotiationID: negotiationID,
		Summary:       v.Summary,
		Compromise:    v.Compromise,
		CompletedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(negotiationID),
		Value: value,
	})
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
