package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCheckoutValidation indicates bad address, contact or draft input.
	ErrCheckoutValidation = errors.New("checkout: validation failed")
	// ErrCoupon indicates a coupon could not be applied.
	ErrCoupon = errors.New("checkout: coupon rejected")
	// ErrStockUnavailable indicates a requested quantity exceeds availability.
	ErrStockUnavailable = errors.New("checkout: stock unavailable")
	// ErrProductUnavailable indicates a referenced product vanished or was deactivated.
	ErrProductUnavailable = errors.New("checkout: product unavailable")
	// ErrPaymentVerificationFailed indicates the gateway did not confirm the payment.
	ErrPaymentVerificationFailed = errors.New("checkout: payment verification failed")
	// ErrOrderCreationFailed indicates persistence failed after payment was captured.
	ErrOrderCreationFailed = errors.New("checkout: order creation failed")
	// ErrPartialOrderFailure indicates some drafts of a mixed cart failed while others succeeded.
	ErrPartialOrderFailure = errors.New("checkout: partial order failure")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutNotFound indicates the requested order or staged checkout does not exist.
	ErrCheckoutNotFound = errors.New("checkout: not found")
	// ErrNothingToSettle indicates a verified payment has no recoverable drafts.
	ErrNothingToSettle = errors.New("checkout: nothing to settle")
)

// CouponReason enumerates why a coupon was rejected.
type CouponReason string

const (
	CouponNotFound                CouponReason = "not_found"
	CouponInactive                CouponReason = "inactive"
	CouponOutsideValidityWindow   CouponReason = "outside_validity_window"
	CouponBelowMinimumAmount      CouponReason = "below_minimum_amount"
	CouponGlobalUsageLimitReached CouponReason = "global_usage_limit_reached"
	CouponPerUserLimitReached     CouponReason = "per_user_limit_reached"
)

// CouponError reports a rejected coupon with its reason.
type CouponError struct {
	Code   string
	Reason CouponReason
}

func (e *CouponError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s (%s)", ErrCoupon.Error(), e.Reason, e.Code)
}

// Unwrap exposes ErrCoupon.
func (e *CouponError) Unwrap() error { return ErrCoupon }

// StockError reports a product whose stock cannot cover the requested quantity.
type StockError struct {
	ProductIDs []string
	Requested  int
	Available  int
}

func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: products %s (requested %d, available %d)", ErrStockUnavailable.Error(), strings.Join(e.ProductIDs, ","), e.Requested, e.Available)
}

// Unwrap exposes ErrStockUnavailable.
func (e *StockError) Unwrap() error { return ErrStockUnavailable }

// ProductUnavailableError lists the products that no longer exist or were deactivated.
type ProductUnavailableError struct {
	ProductIDs []string
}

func (e *ProductUnavailableError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", ErrProductUnavailable.Error(), strings.Join(e.ProductIDs, ","))
}

// Unwrap exposes ErrProductUnavailable.
func (e *ProductUnavailableError) Unwrap() error { return ErrProductUnavailable }

// UnsettledPaymentError reports a captured payment for which no order could be created. It
// matches ErrOrderCreationFailed only: the per-draft causes in Failures are not unwrapped, since
// the customer has already paid and cannot resolve them by editing the cart.
type UnsettledPaymentError struct {
	Reference string
	Failures  []DraftFailure
}

func (e *UnsettledPaymentError) Error() string {
	if e == nil {
		return ""
	}
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, string(f.Kind)+"="+f.Reason)
	}
	return fmt.Sprintf("%s: payment %s captured, no order created (%s)", ErrOrderCreationFailed.Error(), e.Reference, strings.Join(reasons, ", "))
}

// Unwrap exposes ErrOrderCreationFailed.
func (e *UnsettledPaymentError) Unwrap() error { return ErrOrderCreationFailed }

// failureReason maps an order creation error to the reason reported for a draft.
func failureReason(err error) string {
	var couponErr *CouponError
	switch {
	case errors.As(err, &couponErr):
		return "coupon_" + string(couponErr.Reason)
	case errors.Is(err, ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, ErrStockUnavailable):
		return "stock_unavailable"
	case errors.Is(err, ErrCheckoutValidation):
		return "validation"
	default:
		return "order_creation_failed"
	}
}

func failureProducts(err error) []string {
	var productErr *ProductUnavailableError
	if errors.As(err, &productErr) {
		return productErr.ProductIDs
	}
	var stockErr *StockError
	if errors.As(err, &stockErr) {
		return stockErr.ProductIDs
	}
	return nil
}
