package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

// eventSchemaVersion is bumped whenever the JSON payload of an order event changes shape.
const eventSchemaVersion = "1"

// PubSubOrderEventPublisher publishes order lifecycle and reconciliation events to a Pub/Sub topic.
// Events that share a payment reference carry the same ordering key, so subscribers see the orders
// of one payment and any reconciliation alert for it in publish order.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher and enables
// message ordering on the topic.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent sends the event and waits for the server-assigned message id.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}
	if strings.TrimSpace(string(event.Type)) == "" {
		return "", errors.New("pubsub order publisher: event type is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	key := orderingKey(event)
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  eventAttributes(event),
		OrderingKey: key,
	})

	id, err := result.Get(ctx)
	if err != nil {
		// a failed publish pauses its ordering key until resumed
		if key != "" {
			p.topic.ResumePublish(key)
		}
		return "", fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return id, nil
}

func orderingKey(event services.OrderEvent) string {
	if ref := strings.TrimSpace(event.PaymentReference); ref != "" {
		return "payment:" + ref
	}
	if id := strings.TrimSpace(event.OrderID); id != "" {
		return "order:" + id
	}
	return ""
}

// eventAttributes exposes the fields subscriptions filter on. Created events describe one order;
// reconciliation events describe a payment and why it needs a human.
func eventAttributes(event services.OrderEvent) map[string]string {
	attrs := map[string]string{
		"type":          string(event.Type),
		"schemaVersion": eventSchemaVersion,
	}
	setAttr(attrs, "paymentReference", event.PaymentReference)
	setAttr(attrs, "userId", event.UserID)

	switch event.Type {
	case services.OrderEventCreated:
		setAttr(attrs, "orderId", event.OrderID)
		setAttr(attrs, "orderNumber", event.OrderNumber)
		setAttr(attrs, "kind", event.Kind)
		setAttr(attrs, "paymentMethod", event.PaymentMethod)
		setAttr(attrs, "currency", event.Currency)
	case services.OrderEventReconciliationRequired:
		attrs["severity"] = "error"
		setAttr(attrs, "reason", event.Reason)
		setAttr(attrs, "failedKinds", strings.Join(event.FailedKinds, ","))
	default:
		setAttr(attrs, "orderId", event.OrderID)
	}
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
