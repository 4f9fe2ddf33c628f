package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists carts within Firestore, one document per owner key.
type CartRepository struct {
	base *pfirestore.Collection[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewCollection[cartDocument](provider, cartCollection),
	}, nil
}

// GetCart loads the cart for the given owner key.
func (r *CartRepository) GetCart(ctx context.Context, ownerKey string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(ownerKey)
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: owner key is required")
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := doc.Data.toDomain(doc.ID)
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = doc.CreateTime
	}
	return cart, nil
}

// SaveCart replaces the stored cart with the supplied lines.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(cart.OwnerKey)
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: owner key is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := newCartDocument(cart)
	doc.CreatedAt = createdAt
	doc.UpdatedAt = now
	if err := r.base.Set(ctx, key, doc); err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(key), nil
}

// DeleteCart removes the owner's cart. Deleting a missing cart succeeds.
func (r *CartRepository) DeleteCart(ctx context.Context, ownerKey string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(ownerKey)
	if key == "" {
		return errors.New("cart repository: owner key is required")
	}
	return r.base.Delete(ctx, key)
}

type cartDocument struct {
	UserID     string             `firestore:"userId,omitempty"`
	Lines      []cartLineDocument `firestore:"lines"`
	ItemsCount int                `firestore:"itemsCount"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ID          string              `firestore:"id"`
	ProductID   string              `firestore:"productId"`
	ProductName string              `firestore:"productName"`
	Thumbnail   string              `firestore:"thumbnail,omitempty"`
	Quantity    int                 `firestore:"quantity"`
	UnitPrice   int64               `firestore:"unitPriceMinor"`
	Selections  []selectionDocument `firestore:"selections,omitempty"`
	IsPreOrder  bool                `firestore:"isPreOrder"`
	AddedAt     time.Time           `firestore:"addedAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	lines := make([]cartLineDocument, 0, len(cart.Lines))
	count := 0
	for _, line := range cart.Lines {
		lines = append(lines, cartLineDocument{
			ID:          line.ID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Thumbnail:   line.Thumbnail,
			Quantity:    line.Quantity,
			UnitPrice:   moneyToMinor(line.UnitPrice),
			Selections:  newSelectionDocuments(line.Selections),
			IsPreOrder:  line.IsPreOrder,
			AddedAt:     line.AddedAt.UTC(),
			UpdatedAt:   line.UpdatedAt.UTC(),
		})
		count += line.Quantity
	}
	return cartDocument{
		UserID:     strings.TrimSpace(cart.UserID),
		Lines:      lines,
		ItemsCount: count,
	}
}

func (d cartDocument) toDomain(ownerKey string) domain.Cart {
	lines := make([]domain.CartLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		lines = append(lines, domain.CartLine{
			ID:          line.ID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Thumbnail:   line.Thumbnail,
			Quantity:    line.Quantity,
			UnitPrice:   moneyFromMinor(line.UnitPrice),
			Selections:  selectionsToDomain(line.Selections),
			IsPreOrder:  line.IsPreOrder,
			AddedAt:     line.AddedAt,
			UpdatedAt:   line.UpdatedAt,
		})
	}
	return domain.Cart{
		OwnerKey:  ownerKey,
		UserID:    d.UserID,
		Lines:     lines,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
