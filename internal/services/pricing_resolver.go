package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

// PricingResolverDeps wires the catalog lookups used to price products.
type PricingResolverDeps struct {
	Catalog repositories.CatalogRepository
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type pricingResolver struct {
	catalog repositories.CatalogRepository
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewPricingResolver constructs a PricingResolver backed by the catalog repository.
func NewPricingResolver(deps PricingResolverDeps) (PricingResolver, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing resolver: catalog repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingResolver{catalog: deps.Catalog, logger: logger}, nil
}

// ResolvePrice loads the product and its attribute mappings and prices the selections. When the
// attribute lookup fails the quote degrades to the effective price unless the caller asked for
// customisation, which cannot be priced without the modifiers.
func (r *pricingResolver) ResolvePrice(ctx context.Context, cmd ResolvePriceCommand) (PriceQuote, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return PriceQuote{}, fmt.Errorf("%w: product id is required", ErrCheckoutValidation)
	}

	product, err := r.catalog.GetProduct(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return PriceQuote{}, &ProductUnavailableError{ProductIDs: []string{productID}}
		}
		return PriceQuote{}, fmt.Errorf("%w: load product: %v", ErrCheckoutUnavailable, err)
	}
	if !product.Active {
		return PriceQuote{}, &ProductUnavailableError{ProductIDs: []string{productID}}
	}

	base := product.EffectivePrice()
	attributes, err := r.catalog.ListProductAttributes(ctx, productID)
	if err != nil {
		r.logger(ctx, "pricing.attributes.lookup_failed", map[string]any{
			"productId": productID,
			"error":     err.Error(),
		})
		if len(cmd.Selections) > 0 {
			return PriceQuote{}, fmt.Errorf("%w: attribute lookup failed", ErrCheckoutUnavailable)
		}
		return PriceQuote{
			Product:   product,
			UnitPrice: base,
			Range:     domain.PointRange(base),
			Degraded:  true,
		}, nil
	}

	unit, err := UnitPrice(product, attributes, cmd.Selections)
	if err != nil {
		return PriceQuote{}, err
	}
	return PriceQuote{
		Product:   product,
		UnitPrice: unit,
		Range:     PriceRangeFor(product, attributes),
	}, nil
}

// UnitPrice adds the modifier of each enabled attribute's chosen option to the effective price.
// Attributes without a selection contribute nothing.
func UnitPrice(product domain.Product, attributes []domain.ProductAttribute, selections []domain.VariantSelection) (decimal.Decimal, error) {
	price := product.EffectivePrice()
	if len(selections) == 0 {
		return price, nil
	}

	byID := make(map[string]domain.ProductAttribute, len(attributes))
	for _, attr := range attributes {
		byID[attr.Attribute.ID] = attr
	}

	seen := make(map[string]struct{}, len(selections))
	for _, sel := range selections {
		attrID := strings.TrimSpace(sel.AttributeID)
		optionID := strings.TrimSpace(sel.OptionID)
		if attrID == "" || optionID == "" {
			return decimal.Zero, fmt.Errorf("%w: selection requires attribute and option", ErrCheckoutValidation)
		}
		if _, dup := seen[attrID]; dup {
			return decimal.Zero, fmt.Errorf("%w: attribute %s selected more than once", ErrCheckoutValidation, attrID)
		}
		seen[attrID] = struct{}{}

		attr, ok := byID[attrID]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: attribute %s is not offered for product %s", ErrCheckoutValidation, attrID, product.ID)
		}
		option, ok := findSelectableOption(attr, optionID)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: option %s is not selectable for attribute %s", ErrCheckoutValidation, optionID, attrID)
		}
		price = price.Add(option.PriceModifier)
	}
	return price, nil
}

// PriceRangeFor computes the display range across every selection combination. Optional
// attributes never lower the floor; a required attribute's cheapest option does.
func PriceRangeFor(product domain.Product, attributes []domain.ProductAttribute) domain.PriceRange {
	base := product.EffectivePrice()
	minTotal := base
	maxTotal := base

	for _, attr := range attributes {
		options := attr.AvailableOptions()
		if len(options) == 0 {
			continue
		}

		lowest := options[0].PriceModifier
		highest := decimal.Zero
		for _, opt := range options {
			if opt.PriceModifier.LessThan(lowest) {
				lowest = opt.PriceModifier
			}
			if opt.PriceModifier.GreaterThan(highest) {
				highest = opt.PriceModifier
			}
		}

		if attr.Required && lowest.IsNegative() {
			minTotal = minTotal.Add(lowest)
		}
		maxTotal = maxTotal.Add(highest)
	}

	return domain.PriceRange{
		Min:      minTotal,
		Max:      maxTotal,
		HasRange: !minTotal.Equal(maxTotal),
	}
}

func findSelectableOption(attr domain.ProductAttribute, optionID string) (domain.AttributeOption, bool) {
	for _, opt := range attr.WithDefaultOption() {
		if opt.ID == optionID {
			return opt, true
		}
	}
	return domain.AttributeOption{}, false
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
