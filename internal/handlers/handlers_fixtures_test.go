package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/shopspring/decimal"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/payments"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/auth"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

const testGuestToken = "guest-token-0123456789"

// tokenVerifier accepts bearer tokens of the form "<uid>" or "<uid>:<role>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, raw string) (*firebaseauth.Token, error) {
	if raw == "" || raw == "bad" {
		return nil, errors.New("invalid token")
	}
	uid, role, _ := strings.Cut(raw, ":")
	claims := map[string]any{"email": uid + "@example.com", "name": "User " + uid}
	if role != "" {
		claims["role"] = role
	}
	return &firebaseauth.Token{UID: uid, Claims: claims}, nil
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{})
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func guestHeaders() map[string]string {
	return map[string]string{auth.GuestTokenHeader: testGuestToken}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type stubCartService struct {
	view     services.CartView
	mutation services.CartMutation
	err      error
	owners   []services.Owner
	added    []services.AddCartLineCommand
	updated  []services.UpdateCartLineCommand
	cleared  int
}

func (s *stubCartService) GetCart(_ context.Context, owner services.Owner) (services.CartView, error) {
	s.owners = append(s.owners, owner)
	return s.view, s.err
}

func (s *stubCartService) AddLine(_ context.Context, cmd services.AddCartLineCommand) (services.CartMutation, error) {
	s.owners = append(s.owners, cmd.Owner)
	s.added = append(s.added, cmd)
	return s.mutation, s.err
}

func (s *stubCartService) UpdateQuantity(_ context.Context, cmd services.UpdateCartLineCommand) (services.CartMutation, error) {
	s.owners = append(s.owners, cmd.Owner)
	s.updated = append(s.updated, cmd)
	return s.mutation, s.err
}

func (s *stubCartService) RemoveLine(_ context.Context, cmd services.RemoveCartLineCommand) (services.CartView, error) {
	s.owners = append(s.owners, cmd.Owner)
	return s.view, s.err
}

func (s *stubCartService) Clear(_ context.Context, owner services.Owner) error {
	s.owners = append(s.owners, owner)
	s.cleared++
	return s.err
}

type stubCheckoutService struct {
	mu       sync.Mutex
	preview  services.CheckoutPreview
	result   services.SubmissionResult
	redirect services.PaymentRedirect
	err      error
	commands []services.PrepareCheckoutCommand
	cashRuns int
}

func (s *stubCheckoutService) record(cmd services.PrepareCheckoutCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

func (s *stubCheckoutService) PrepareCheckout(_ context.Context, cmd services.PrepareCheckoutCommand) (services.CheckoutPreview, error) {
	s.record(cmd)
	return s.preview, s.err
}

func (s *stubCheckoutService) SubmitCashOrder(_ context.Context, cmd services.PrepareCheckoutCommand) (services.SubmissionResult, error) {
	s.record(cmd)
	s.mu.Lock()
	s.cashRuns++
	s.mu.Unlock()
	return s.result, s.err
}

func (s *stubCheckoutService) SubmitCardPayment(_ context.Context, cmd services.PrepareCheckoutCommand) (services.PaymentRedirect, error) {
	s.record(cmd)
	return s.redirect, s.err
}

type stubSettlementService struct {
	result   services.SubmissionResult
	err      error
	commands []services.SettleCommand
}

func (s *stubSettlementService) SettlePayment(_ context.Context, cmd services.SettleCommand) (services.SubmissionResult, error) {
	s.commands = append(s.commands, cmd)
	return s.result, s.err
}

type stubOrderService struct {
	orders  []services.Order
	err     error
	lookups []services.GuestOrderLookup
	users   []string
}

func (s *stubOrderService) CreateOrder(context.Context, services.CreateOrderCommand) (services.OrderCreation, error) {
	return services.OrderCreation{}, errors.New("not used")
}

func (s *stubOrderService) ListOrders(_ context.Context, userID string, _ int) ([]services.Order, error) {
	s.users = append(s.users, userID)
	return s.orders, s.err
}

func (s *stubOrderService) GetOrder(_ context.Context, userID, orderID string) (services.Order, error) {
	s.users = append(s.users, userID)
	for _, order := range s.orders {
		if order.ID == orderID && order.UserID == userID {
			return order, nil
		}
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) LookupGuestOrder(_ context.Context, cmd services.GuestOrderLookup) (services.Order, error) {
	s.lookups = append(s.lookups, cmd)
	if s.err != nil {
		return services.Order{}, s.err
	}
	if len(s.orders) == 0 {
		return services.Order{}, services.ErrOrderNotFound
	}
	return s.orders[0], nil
}

func (s *stubOrderService) ListByPaymentReference(context.Context, string) ([]services.Order, error) {
	return s.orders, nil
}

func (s *stubOrderService) LinkPayment(context.Context, string, string) (services.Order, error) {
	return services.Order{}, errors.New("not used")
}

type stubWebhookParser struct {
	event payments.WebhookEvent
	err   error
	sigs  []string
}

func (s *stubWebhookParser) ParseWebhook(_ string, _ []byte, signature string) (payments.WebhookEvent, error) {
	s.sigs = append(s.sigs, signature)
	return s.event, s.err
}

func sampleOrder(id, userID string, kind domain.DraftKind) services.Order {
	created := time.Date(2025, 5, 10, 9, 30, 0, 0, time.UTC)
	return services.Order{
		ID:            id,
		OrderNumber:   "VT-20250510-000001",
		UserID:        userID,
		Kind:          kind,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentCashOnDelivery,
		IsPreOrder:    kind == domain.DraftPreOrder,
		Items: []domain.OrderItem{
			{ProductID: "mouse", ProductName: "Mouse", Quantity: 1, UnitPrice: dec("500"), Subtotal: dec("500")},
		},
		Currency:    "GHS",
		Subtotal:    dec("500"),
		DeliveryFee: dec("20"),
		Discount:    dec("50"),
		Tax:         decimal.Zero,
		Total:       dec("470"),
		Delivery:    domain.DeliveryOption{ID: "std", Name: "Standard", Kind: domain.DeliveryStandard, Price: dec("20")},
		CreatedAt:   created,
	}
}
