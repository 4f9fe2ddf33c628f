package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesCreatedEvent(t *testing.T) {
	srv, topic := newTestTopic(t)

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	event := services.OrderEvent{
		Type:             services.OrderEventCreated,
		OrderID:          "ord_01TEST",
		OrderNumber:      "VT-20250510-000001",
		Kind:             "regular",
		PaymentMethod:    "card",
		PaymentReference: "VT-01REF",
		Total:            "470.00",
		Currency:         "GHS",
		OccurredAt:       time.Date(2025, 5, 10, 9, 30, 0, 0, time.UTC),
	}
	id, err := publisher.PublishOrderEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	if id == "" {
		t.Fatalf("expected message id")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderNumber != event.OrderNumber || payload.Total != "470.00" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["type"]; attr != "order.created" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["severity"]; ok {
		t.Fatalf("severity attribute should only be set on reconciliation events")
	}
	attrs := messages[0].Attributes
	if attrs["orderNumber"] != "VT-20250510-000001" || attrs["paymentMethod"] != "card" || attrs["kind"] != "regular" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if _, ok := attrs["reason"]; ok {
		t.Fatalf("created events should not carry a reason attribute")
	}
	if key := messages[0].OrderingKey; key != "payment:VT-01REF" {
		t.Fatalf("expected payment ordering key, got %q", key)
	}
}

func TestPubSubOrderEventPublisherOrdersEventsPerPayment(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	if !topic.EnableMessageOrdering {
		t.Fatalf("expected message ordering to be enabled on the topic")
	}

	events := []services.OrderEvent{
		{Type: services.OrderEventCreated, OrderID: "ord_1", PaymentReference: "VT-01REF", Kind: "pre_order"},
		{Type: services.OrderEventReconciliationRequired, PaymentReference: "VT-01REF", Reason: "partial_order_failure", FailedKinds: []string{"regular"}},
		{Type: services.OrderEventCreated, OrderID: "ord_cod", PaymentMethod: "cash_on_delivery"},
	}
	for _, event := range events {
		if _, err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
			t.Fatalf("PublishOrderEvent: %v", err)
		}
	}

	messages := srv.Messages()
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	keys := map[string][]string{}
	for _, msg := range messages {
		keys[msg.OrderingKey] = append(keys[msg.OrderingKey], msg.Attributes["type"])
	}
	if got := keys["payment:VT-01REF"]; len(got) != 2 || got[0] != "order.created" || got[1] != "settlement.reconciliation_required" {
		t.Fatalf("unexpected sequence for payment key: %v", got)
	}
	if got := keys["order:ord_cod"]; len(got) != 1 {
		t.Fatalf("cash order should be keyed by order id, got %v", keys)
	}
}

func TestPubSubOrderEventPublisherFlagsReconciliation(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	_, err = publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
		Type:             services.OrderEventReconciliationRequired,
		PaymentReference: "VT-01REF",
		Reason:           "order_creation_failed",
		FailedKinds:      []string{"regular", "pre_order"},
	})
	if err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	attrs := messages[0].Attributes
	if attrs["severity"] != "error" || attrs["paymentReference"] != "VT-01REF" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if _, ok := attrs["orderId"]; ok {
		t.Fatalf("empty order id should not become an attribute")
	}
	if attrs["reason"] != "order_creation_failed" || attrs["failedKinds"] != "regular,pre_order" {
		t.Fatalf("unexpected reconciliation attributes %#v", attrs)
	}
	if attrs["schemaVersion"] != eventSchemaVersion {
		t.Fatalf("expected schema version attribute, got %#v", attrs)
	}
}

func TestPubSubOrderEventPublisherRequiresType(t *testing.T) {
	_, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	if _, err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{}); err == nil {
		t.Fatalf("expected error for untyped event")
	}
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
