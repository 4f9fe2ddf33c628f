package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const (
	couponsCollection     = "coupons"
	redemptionsCollection = "redemptions"
)

type couponDocument struct {
	Code            string     `firestore:"code"`
	DiscountType    string     `firestore:"discountType"`
	DiscountValue   int64      `firestore:"discountValueMinor"`
	MinimumAmount   int64      `firestore:"minimumAmountMinor"`
	MaximumDiscount *int64     `firestore:"maximumDiscountMinor,omitempty"`
	UsageLimit      *int       `firestore:"usageLimit,omitempty"`
	PerUserLimit    *int       `firestore:"perUserLimit,omitempty"`
	UsedCount       int        `firestore:"usedCount"`
	ValidFrom       time.Time  `firestore:"validFrom"`
	ValidUntil      *time.Time `firestore:"validUntil,omitempty"`
	Active          bool       `firestore:"active"`
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:              id,
		Code:            d.Code,
		DiscountType:    domain.DiscountType(strings.ToLower(strings.TrimSpace(d.DiscountType))),
		DiscountValue:   moneyFromMinor(d.DiscountValue),
		MinimumAmount:   moneyFromMinor(d.MinimumAmount),
		MaximumDiscount: optionalMoneyFromMinor(d.MaximumDiscount),
		UsageLimit:      d.UsageLimit,
		PerUserLimit:    d.PerUserLimit,
		UsedCount:       d.UsedCount,
		ValidFrom:       d.ValidFrom,
		ValidUntil:      optionalTime(d.ValidUntil),
		Active:          d.Active,
	}
}

type redemptionDocument struct {
	RedeemerKey string    `firestore:"redeemerKey"`
	OrderID     string    `firestore:"orderId"`
	RedeemedAt  time.Time `firestore:"redeemedAt"`
}

// CouponRepository resolves coupons by their normalised code.
type CouponRepository struct {
	coupons *pfirestore.Collection[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		coupons: pfirestore.NewCollection[couponDocument](provider, couponsCollection),
	}, nil
}

// FindByCode returns the coupon stored with the given code. Codes are stored upper-cased.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := strings.TrimSpace(code)
	if normalized == "" {
		return domain.Coupon{}, pfirestore.NewNotFound("coupons.find_by_code", "coupon code is empty")
	}
	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.NewNotFound("coupons.find_by_code", fmt.Sprintf("coupon %q not found", normalized))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// CountRedemptions counts the redemptions recorded for the redeemer using an aggregation query.
func (r *CouponRepository) CountRedemptions(ctx context.Context, couponID string, redeemerKey string) (int, error) {
	if r == nil || r.coupons == nil {
		return 0, errors.New("coupon repository not initialised")
	}
	key := strings.TrimSpace(redeemerKey)
	if key == "" {
		return 0, nil
	}
	ref, err := r.coupons.DocumentRef(ctx, strings.TrimSpace(couponID))
	if err != nil {
		return 0, err
	}
	query := ref.Collection(redemptionsCollection).Where("redeemerKey", "==", key)
	result, err := query.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("coupons.count_redemptions", err)
	}
	value, ok := result["count"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("coupons.count_redemptions: unexpected aggregation result %T", result["count"])
	}
	return int(value.GetIntegerValue()), nil
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
