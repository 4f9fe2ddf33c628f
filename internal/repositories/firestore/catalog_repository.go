package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const (
	productsCollection          = "products"
	productAttributesCollection = "attributes"
)

type productDocument struct {
	Name          string    `firestore:"name"`
	Slug          string    `firestore:"slug"`
	Thumbnail     string    `firestore:"thumbnail,omitempty"`
	BasePrice     int64     `firestore:"basePriceMinor"`
	DiscountPrice *int64    `firestore:"discountPriceMinor,omitempty"`
	StockQuantity int       `firestore:"stockQuantity"`
	IsPreOrder    bool      `firestore:"isPreOrder"`
	Active        bool      `firestore:"active"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          d.Name,
		Slug:          d.Slug,
		Thumbnail:     d.Thumbnail,
		BasePrice:     moneyFromMinor(d.BasePrice),
		DiscountPrice: optionalMoneyFromMinor(d.DiscountPrice),
		StockQuantity: d.StockQuantity,
		IsPreOrder:    d.IsPreOrder,
		Active:        d.Active,
		UpdatedAt:     d.UpdatedAt,
	}
}

// productAttributeDocument lives under products/{productId}/attributes/{attributeId}. It embeds the
// product-scoped subset of the attribute's options.
type productAttributeDocument struct {
	Name            string                    `firestore:"name"`
	Type            string                    `firestore:"type"`
	DefaultRequired bool                      `firestore:"defaultRequired"`
	Required        *bool                     `firestore:"required,omitempty"`
	Position        int                       `firestore:"position"`
	Options         []attributeOptionDocument `firestore:"options"`
}

type attributeOptionDocument struct {
	ID            string `firestore:"id"`
	Label         string `firestore:"label"`
	PriceModifier int64  `firestore:"priceModifierMinor"`
	StockQuantity int    `firestore:"stockQuantity"`
	Available     bool   `firestore:"available"`
}

func (d productAttributeDocument) toDomain(attributeID string) (domain.ProductAttribute, error) {
	attrType, err := domain.ParseAttributeType(d.Type)
	if err != nil {
		return domain.ProductAttribute{}, fmt.Errorf("attribute %s: %w", attributeID, err)
	}
	required := d.DefaultRequired
	if d.Required != nil {
		required = *d.Required
	}
	options := make([]domain.AttributeOption, 0, len(d.Options))
	for _, opt := range d.Options {
		id := strings.TrimSpace(opt.ID)
		if id == "" {
			continue
		}
		options = append(options, domain.AttributeOption{
			ID:            id,
			AttributeID:   attributeID,
			Label:         opt.Label,
			PriceModifier: moneyFromMinor(opt.PriceModifier),
			StockQuantity: opt.StockQuantity,
			Available:     opt.Available,
		})
	}
	return domain.ProductAttribute{
		Attribute: domain.Attribute{ID: attributeID, Name: d.Name, Type: attrType},
		Required:  required,
		Options:   options,
	}, nil
}

// CatalogRepository reads products and their attribute mappings from Firestore.
type CatalogRepository struct {
	products *pfirestore.Collection[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

// GetProduct loads a single product. Inactive products are returned with Active=false.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetProducts batch-loads products keyed by id.
func (r *CatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	ids := uniqueIDs(productIDs)
	docs, err := r.products.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(docs))
	for _, doc := range docs {
		out[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

// ListProductAttributes returns the attribute mappings of a product ordered by position.
func (r *CatalogRepository) ListProductAttributes(ctx context.Context, productID string) ([]domain.ProductAttribute, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	ref, err := r.products.DocumentRef(ctx, strings.TrimSpace(productID))
	if err != nil {
		return nil, err
	}
	snapshots, err := ref.Collection(productAttributesCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("products.attributes.list", err)
	}

	type positioned struct {
		attr     domain.ProductAttribute
		position int
	}
	items := make([]positioned, 0, len(snapshots))
	for _, snap := range snapshots {
		var doc productAttributeDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore: decode attribute %s: %w", snap.Ref.ID, err)
		}
		attr, err := doc.toDomain(snap.Ref.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, positioned{attr: attr, position: doc.Position})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].position != items[j].position {
			return items[i].position < items[j].position
		}
		return items[i].attr.Attribute.Name < items[j].attr.Attribute.Name
	})

	out := make([]domain.ProductAttribute, 0, len(items))
	for _, item := range items {
		out = append(out, item.attr)
	}
	return out, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
