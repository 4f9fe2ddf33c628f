package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const (
	ordersCollection    = "orders"
	orderRefsCollection = "order_refs"

	defaultOrderListLimit = 50
)

type orderDocument struct {
	OrderNumber      string              `firestore:"orderNumber"`
	UserID           string              `firestore:"userId,omitempty"`
	Kind             string              `firestore:"kind"`
	Status           string              `firestore:"status"`
	PaymentStatus    string              `firestore:"paymentStatus"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	PaymentReference string              `firestore:"paymentReference,omitempty"`
	Items            []orderItemDocument `firestore:"items"`
	Subtotal         int64               `firestore:"subtotalMinor"`
	DeliveryFee      int64               `firestore:"deliveryFeeMinor"`
	Tax              int64               `firestore:"taxMinor"`
	Discount         int64               `firestore:"discountMinor"`
	Total            int64               `firestore:"totalMinor"`
	Currency         string              `firestore:"currency"`
	Delivery         deliveryDocument    `firestore:"delivery"`
	Address          addressDocument     `firestore:"address"`
	Contact          contactDocument     `firestore:"contact"`
	Notes            string              `firestore:"notes,omitempty"`
	CouponID         string              `firestore:"couponId,omitempty"`
	CouponCode       string              `firestore:"couponCode,omitempty"`
	IsPreOrder       bool                `firestore:"isPreOrder"`
	EstimatedArrival *time.Time          `firestore:"estimatedArrival,omitempty"`
	GuestKeys        []string            `firestore:"guestKeys,omitempty"`
	IdempotencyKey   string              `firestore:"idempotencyKey,omitempty"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
	PaidAt           *time.Time          `firestore:"paidAt,omitempty"`
}

type orderItemDocument struct {
	ProductID   string              `firestore:"productId"`
	ProductName string              `firestore:"productName"`
	Thumbnail   string              `firestore:"thumbnail,omitempty"`
	Quantity    int                 `firestore:"quantity"`
	UnitPrice   int64               `firestore:"unitPriceMinor"`
	Subtotal    int64               `firestore:"subtotalMinor"`
	Selections  []selectionDocument `firestore:"selections,omitempty"`
}

// orderRefDocument indexes an order by its idempotency key (payment reference plus draft kind).
type orderRefDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderDocument(order domain.Order, req repositories.OrderCreate) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Thumbnail:   item.Thumbnail,
			Quantity:    item.Quantity,
			UnitPrice:   moneyToMinor(item.UnitPrice),
			Subtotal:    moneyToMinor(item.Subtotal),
			Selections:  newSelectionDocuments(item.Selections),
		})
	}
	return orderDocument{
		OrderNumber:      order.OrderNumber,
		UserID:           strings.TrimSpace(order.UserID),
		Kind:             string(order.Kind),
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentMethod:    string(order.PaymentMethod),
		PaymentReference: order.PaymentReference,
		Items:            items,
		Subtotal:         moneyToMinor(order.Subtotal),
		DeliveryFee:      moneyToMinor(order.DeliveryFee),
		Tax:              moneyToMinor(order.Tax),
		Discount:         moneyToMinor(order.Discount),
		Total:            moneyToMinor(order.Total),
		Currency:         order.Currency,
		Delivery:         newDeliveryDocument(order.Delivery),
		Address:          newAddressDocument(order.Address),
		Contact:          newContactDocument(order.Contact),
		Notes:            order.Notes,
		CouponID:         order.CouponID,
		CouponCode:       order.CouponCode,
		IsPreOrder:       order.IsPreOrder,
		EstimatedArrival: optionalTime(order.EstimatedArrival),
		GuestKeys:        req.GuestKeys,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
		PaidAt:           optionalTime(order.PaidAt),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Thumbnail:   item.Thumbnail,
			Quantity:    item.Quantity,
			UnitPrice:   moneyFromMinor(item.UnitPrice),
			Subtotal:    moneyFromMinor(item.Subtotal),
			Selections:  selectionsToDomain(item.Selections),
		})
	}
	return domain.Order{
		ID:               id,
		OrderNumber:      d.OrderNumber,
		UserID:           d.UserID,
		Kind:             domain.DraftKind(d.Kind),
		Status:           domain.OrderStatus(d.Status),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		PaymentReference: d.PaymentReference,
		Items:            items,
		Subtotal:         moneyFromMinor(d.Subtotal),
		DeliveryFee:      moneyFromMinor(d.DeliveryFee),
		Tax:              moneyFromMinor(d.Tax),
		Discount:         moneyFromMinor(d.Discount),
		Total:            moneyFromMinor(d.Total),
		Currency:         d.Currency,
		Delivery:         d.Delivery.toDomain(),
		Address:          d.Address.toDomain(),
		Contact:          d.Contact.toDomain(),
		Notes:            d.Notes,
		CouponID:         d.CouponID,
		CouponCode:       d.CouponCode,
		IsPreOrder:       d.IsPreOrder,
		EstimatedArrival: optionalTime(d.EstimatedArrival),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		PaidAt:           optionalTime(d.PaidAt),
	}
}

// OrderRepository persists orders and applies their inventory and coupon side effects atomically.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	refs     *pfirestore.Collection[orderRefDocument]
	products *pfirestore.Collection[productDocument]
	coupons  *pfirestore.Collection[couponDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		refs:     pfirestore.NewCollection[orderRefDocument](provider, orderRefsCollection),
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		coupons:  pfirestore.NewCollection[couponDocument](provider, couponsCollection),
	}, nil
}

// Create inserts the order in a single transaction: idempotency lookup, conditional stock
// decrements, conditional coupon consumption, order insert and index insert. All reads happen
// before the first write.
func (r *OrderRepository) Create(ctx context.Context, req repositories.OrderCreate) (repositories.OrderCreateResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderCreateResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return repositories.OrderCreateResult{}, errors.New("order repository: order id is required")
	}
	if len(order.Items) == 0 {
		return repositories.OrderCreateResult{}, errors.New("order repository: order must contain items")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	quantities := make(map[string]int, len(req.StockDecrements))
	productIDs := make([]string, 0, len(req.StockDecrements))
	for _, dec := range req.StockDecrements {
		id := strings.TrimSpace(dec.ProductID)
		if id == "" || dec.Quantity <= 0 {
			return repositories.OrderCreateResult{}, fmt.Errorf("order repository: invalid stock decrement for %q", dec.ProductID)
		}
		if _, ok := quantities[id]; !ok {
			productIDs = append(productIDs, id)
		}
		quantities[id] += dec.Quantity
	}
	sort.Strings(productIDs)

	key := strings.TrimSpace(req.IdempotencyKey)
	doc := newOrderDocument(order, req)

	var result repositories.OrderCreateResult
	err := r.provider.RunTransactionWith(ctx, pfirestore.ContendedTxPolicy, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.OrderCreateResult{}

		var indexRef *firestore.DocumentRef
		if key != "" {
			ref, err := r.refs.DocumentRef(ctx, orderRefID(key))
			if err != nil {
				return err
			}
			indexRef = ref
			snap, err := tx.Get(indexRef)
			switch status.Code(err) {
			case codes.OK:
				existing, err := r.loadIndexedOrder(ctx, tx, snap)
				if err != nil {
					return err
				}
				result = repositories.OrderCreateResult{Order: existing, Created: false}
				return nil
			case codes.NotFound:
				// proceed
			default:
				return err
			}
		}

		productRefs := make([]*firestore.DocumentRef, 0, len(productIDs))
		for _, id := range productIDs {
			ref, err := r.products.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			productRefs = append(productRefs, ref)
		}
		if len(productRefs) > 0 {
			snapshots, err := tx.GetAll(productRefs)
			if err != nil {
				return err
			}
			if err := checkStock(productIDs, snapshots, quantities); err != nil {
				return err
			}
		}

		var couponRef *firestore.DocumentRef
		if req.Redemption != nil {
			ref, err := r.coupons.DocumentRef(ctx, strings.TrimSpace(req.Redemption.CouponID))
			if err != nil {
				return err
			}
			couponRef = ref
			snap, err := tx.Get(couponRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.RejectCoupon(req.Redemption.CouponID)
				}
				return err
			}
			var coupon couponDocument
			if err := snap.DataTo(&coupon); err != nil {
				return fmt.Errorf("decode coupon %s: %w", couponRef.ID, err)
			}
			if !coupon.Active || (coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit) {
				return repositories.RejectCoupon(coupon.Code)
			}
			if err := checkRedeemerLimit(tx, couponRef, coupon, req.Redemption.RedeemerKey); err != nil {
				return err
			}
		}

		for i, ref := range productRefs {
			if err := tx.Update(ref, []firestore.Update{
				{Path: "stockQuantity", Value: firestore.Increment(-quantities[productIDs[i]])},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		if couponRef != nil {
			if err := tx.Update(couponRef, []firestore.Update{
				{Path: "usedCount", Value: firestore.Increment(1)},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
			redemption := redemptionDocument{
				RedeemerKey: strings.TrimSpace(req.Redemption.RedeemerKey),
				OrderID:     order.ID,
				RedeemedAt:  now,
			}
			if err := tx.Create(couponRef.Collection(redemptionsCollection).Doc(order.ID), redemption); err != nil {
				return err
			}
		}

		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}
		if indexRef != nil {
			if err := tx.Create(indexRef, orderRefDocument{OrderID: order.ID, CreatedAt: now}); err != nil {
				return err
			}
		}

		result = repositories.OrderCreateResult{Order: doc.toDomain(order.ID), Created: true}
		return nil
	})
	if err != nil {
		return repositories.OrderCreateResult{}, wrapCommitError("orders.create", err)
	}
	return result, nil
}

func (r *OrderRepository) loadIndexedOrder(ctx context.Context, tx *firestore.Transaction, snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var index orderRefDocument
	if err := snap.DataTo(&index); err != nil {
		return domain.Order{}, fmt.Errorf("decode order index %s: %w", snap.Ref.ID, err)
	}
	ref, err := r.orders.DocumentRef(ctx, index.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	orderSnap, err := tx.Get(ref)
	if err != nil {
		return domain.Order{}, err
	}
	decoded, err := r.orders.Decode(orderSnap)
	if err != nil {
		return domain.Order{}, err
	}
	return decoded.Data.toDomain(decoded.ID), nil
}

// checkRedeemerLimit counts the customer's redemptions inside the transaction, so two concurrent
// checkouts by the same customer cannot both pass the per-customer limit.
func checkRedeemerLimit(tx *firestore.Transaction, couponRef *firestore.DocumentRef, coupon couponDocument, redeemerKey string) error {
	key := strings.TrimSpace(redeemerKey)
	if coupon.PerUserLimit == nil || key == "" {
		return nil
	}
	limit := *coupon.PerUserLimit
	if limit <= 0 {
		return repositories.RejectCouponRedeemer(coupon.Code)
	}
	query := couponRef.Collection(redemptionsCollection).Where("redeemerKey", "==", key).Limit(limit)
	used, err := tx.Documents(query).GetAll()
	if err != nil {
		return err
	}
	if len(used) >= limit {
		return repositories.RejectCouponRedeemer(coupon.Code)
	}
	return nil
}

func checkStock(productIDs []string, snapshots []*firestore.DocumentSnapshot, quantities map[string]int) error {
	var missing []string
	var short []repositories.StockShortfall
	for i, snap := range snapshots {
		id := productIDs[i]
		if snap == nil || !snap.Exists() {
			missing = append(missing, id)
			continue
		}
		var product productDocument
		if err := snap.DataTo(&product); err != nil {
			return fmt.Errorf("decode product %s: %w", id, err)
		}
		if !product.Active {
			missing = append(missing, id)
			continue
		}
		if product.StockQuantity < quantities[id] {
			short = append(short, repositories.StockShortfall{ProductID: id, Available: product.StockQuantity})
		}
	}
	if len(missing) > 0 {
		return repositories.RejectMissingProducts(missing...)
	}
	if len(short) > 0 {
		return repositories.RejectShortfalls(short...)
	}
	return nil
}

// FindByIdempotencyKey follows the order_refs index written by Create.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	if r == nil || r.refs == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Order{}, pfirestore.NewNotFound("orders.find_by_key", "idempotency key is required")
	}
	index, err := r.refs.Get(ctx, orderRefID(key))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, index.Data.OrderID)
}

// FindByID loads an order by id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("order repository: user id is required")
	}
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", uid).OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	return ordersFromDocuments(docs), nil
}

// ListByPaymentReference returns every order created for a payment reference, regular orders first.
func (r *OrderRepository) ListByPaymentReference(ctx context.Context, reference string) ([]domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, nil
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentReference", "==", ref)
	})
	if err != nil {
		return nil, err
	}
	orders := ordersFromDocuments(docs)
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Kind != orders[j].Kind {
			return orders[i].Kind == domain.DraftRegular
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

// FindGuestOrder looks up a guest order by its number and a contact key (email or phone).
func (r *OrderRepository) FindGuestOrder(ctx context.Context, orderNumber string, guestKey string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(orderNumber)
	key := strings.TrimSpace(guestKey)
	if number == "" || key == "" {
		return domain.Order{}, pfirestore.NewNotFound("orders.find_guest", "order number and contact are required")
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", number).Where("guestKeys", "array-contains", key).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFound("orders.find_guest", fmt.Sprintf("guest order %s not found", number))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// LinkPayment records the payment reference on the order and marks it paid. Linking an order that
// already carries the same reference and a paid status is a no-op.
func (r *OrderRepository) LinkPayment(ctx context.Context, orderID string, reference string, paidAt time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return domain.Order{}, errors.New("order repository: payment reference is required")
	}
	paidAt = paidAt.UTC()
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	var linked domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.orders.DocumentRef(ctx, strings.TrimSpace(orderID))
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		decoded, err := r.orders.Decode(snap)
		if err != nil {
			return err
		}
		doc := decoded.Data
		if doc.PaymentReference == ref && doc.PaymentStatus == string(domain.PaymentStatusPaid) && doc.PaidAt != nil {
			linked = doc.toDomain(decoded.ID)
			return nil
		}
		if doc.PaymentReference != "" && doc.PaymentReference != ref {
			return pfirestore.WrapError("orders.link_payment", status.Errorf(codes.FailedPrecondition, "order %s is linked to another payment", decoded.ID))
		}

		doc.PaymentReference = ref
		doc.PaymentStatus = string(domain.PaymentStatusPaid)
		doc.PaidAt = &paidAt
		doc.UpdatedAt = paidAt
		if err := tx.Update(docRef, []firestore.Update{
			{Path: "paymentReference", Value: ref},
			{Path: "paymentStatus", Value: doc.PaymentStatus},
			{Path: "paidAt", Value: paidAt},
			{Path: "updatedAt", Value: paidAt},
		}); err != nil {
			return err
		}
		linked = doc.toDomain(decoded.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return linked, nil
}

func ordersFromDocuments(docs []pfirestore.Document[orderDocument]) []domain.Order {
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out
}

func orderRefID(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

func wrapCommitError(op string, err error) error {
	if err == nil {
		return nil
	}
	var rejection *repositories.CommitRejection
	if errors.As(err, &rejection) {
		if rejection.Op == "" {
			rejection.Op = op
		}
		return rejection
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
