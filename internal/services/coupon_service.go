package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const maxCouponCodeLength = 64

var percentScale = decimal.NewFromInt(100)

// CouponServiceDeps wires the coupon lookups.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewCouponService constructs a CouponService.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		coupons: deps.Coupons,
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Validate checks the coupon in a fixed order and returns the discount it grants. Validation never
// consumes a usage slot.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponResult, error) {
	code := NormalizeCouponCode(cmd.Code)
	if code == "" || len(code) > maxCouponCodeLength {
		return CouponResult{}, s.reject(ctx, code, CouponNotFound)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return CouponResult{}, s.reject(ctx, code, CouponNotFound)
		}
		return CouponResult{}, fmt.Errorf("%w: coupon lookup: %v", ErrCheckoutUnavailable, err)
	}

	if !coupon.Active {
		return CouponResult{}, s.reject(ctx, code, CouponInactive)
	}
	now := s.now()
	if now.Before(coupon.ValidFrom) || (coupon.ValidUntil != nil && now.After(*coupon.ValidUntil)) {
		return CouponResult{}, s.reject(ctx, code, CouponOutsideValidityWindow)
	}
	if cmd.Subtotal.LessThan(coupon.MinimumAmount) {
		return CouponResult{}, s.reject(ctx, code, CouponBelowMinimumAmount)
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return CouponResult{}, s.reject(ctx, code, CouponGlobalUsageLimitReached)
	}
	if coupon.PerUserLimit != nil && strings.TrimSpace(cmd.RedeemerKey) != "" {
		used, err := s.coupons.CountRedemptions(ctx, coupon.ID, cmd.RedeemerKey)
		if err != nil {
			return CouponResult{}, fmt.Errorf("%w: coupon redemptions: %v", ErrCheckoutUnavailable, err)
		}
		if used >= *coupon.PerUserLimit {
			return CouponResult{}, s.reject(ctx, code, CouponPerUserLimitReached)
		}
	}

	return CouponResult{
		Coupon:         coupon,
		CouponID:       coupon.ID,
		Code:           coupon.Code,
		DiscountType:   coupon.DiscountType,
		DiscountAmount: ComputeDiscount(coupon, cmd.Subtotal, cmd.DeliveryFee),
	}, nil
}

func (s *couponService) reject(ctx context.Context, code string, reason CouponReason) error {
	s.logger(ctx, "coupon.rejected", map[string]any{
		"code":   code,
		"reason": string(reason),
	})
	return &CouponError{Code: code, Reason: reason}
}

// ComputeDiscount returns the amount a coupon takes off. Free shipping waives the delivery fee;
// the other types never discount more than the subtotal.
func ComputeDiscount(coupon domain.Coupon, subtotal decimal.Decimal, deliveryFee decimal.Decimal) decimal.Decimal {
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case domain.DiscountPercentage:
		discount = subtotal.Mul(coupon.DiscountValue).Div(percentScale).Round(2)
		if coupon.MaximumDiscount != nil && discount.GreaterThan(*coupon.MaximumDiscount) {
			discount = *coupon.MaximumDiscount
		}
	case domain.DiscountFixedAmount:
		discount = decimal.Min(coupon.DiscountValue, subtotal)
	case domain.DiscountFreeShipping:
		return decimal.Max(deliveryFee, decimal.Zero)
	default:
		return decimal.Zero
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, subtotal)
}

// NormalizeCouponCode folds compatibility characters and upper-cases the code so lookups are
// case-insensitive.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(code)))
}

// RedeemerKey scopes per-user coupon limits. Guests are keyed by contact.
func RedeemerKey(customer domain.CustomerIdentity) string {
	if uid := strings.TrimSpace(customer.UserID); uid != "" {
		return ownerUserPrefix + uid
	}
	if email := strings.ToLower(strings.TrimSpace(customer.Email)); email != "" {
		return "email:" + email
	}
	if phone := normalizePhone(customer.Phone); phone != "" {
		return "phone:" + phone
	}
	return ""
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
