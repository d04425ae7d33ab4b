package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"passwordless-auth/internal/model"
)

// Producer is the subset of client.KafkaProducer the notifier needs.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// DeliveryRequest is the record a mail worker consumes from the topic.
type DeliveryRequest struct {
	Address     string    `json:"address"`
	Kind        string    `json:"kind"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	RequestedAt time.Time `json:"requested_at"`
}

// KafkaNotifier publishes delivery requests keyed by address, so that
// messages for one recipient stay ordered within a partition.
type KafkaNotifier struct {
	producer Producer
	topic    string
	clock    model.Clock
}

func NewKafkaNotifier(producer Producer, topic string, clock model.Clock) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, clock: clock}
}

func (n *KafkaNotifier) Deliver(ctx context.Context, address string, msg model.Message) error {
	value, err := json.Marshal(DeliveryRequest{
		Address:     address,
		Kind:        msg.Kind,
		Subject:     msg.Subject,
		Body:        msg.Body,
		RequestedAt: n.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode delivery request: %w", err)
	}

	headers := map[string]string{"kind": msg.Kind, "content-type": "application/json"}
	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(address), value, headers); err != nil {
		return fmt.Errorf("failed to publish delivery request: %w", err)
	}
	return nil
}
