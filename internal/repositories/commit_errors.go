package repositories

import (
	"fmt"
	"strings"
)

// RejectionReason says why the order commit transaction refused to write.
type RejectionReason string

const (
	RejectProductMissing    RejectionReason = "product_missing"
	RejectInsufficientStock RejectionReason = "insufficient_stock"
	RejectCouponExhausted   RejectionReason = "coupon_exhausted"
	RejectCouponPerRedeemer RejectionReason = "coupon_per_redeemer_limit"
)

// StockShortfall is a product whose stock could not cover the ordered quantity.
type StockShortfall struct {
	ProductID string
	Available int
}

// CommitRejection is returned by OrderRepository.Create when the data read inside the transaction
// rules the order out. Nothing was written.
type CommitRejection struct {
	Op         string
	Reason     RejectionReason
	ProductIDs []string
	Shortfalls []StockShortfall
	CouponCode string
}

func (e *CommitRejection) Error() string {
	if e == nil {
		return ""
	}
	var detail string
	switch e.Reason {
	case RejectCouponExhausted:
		detail = "coupon " + e.CouponCode + " is exhausted"
	case RejectCouponPerRedeemer:
		detail = "coupon " + e.CouponCode + " already used by this customer"
	default:
		detail = string(e.Reason) + " for " + strings.Join(e.ProductIDs, ", ")
	}
	if e.Op == "" {
		return detail
	}
	return fmt.Sprintf("%s: %s", e.Op, detail)
}

// RejectMissingProducts reports products that were deleted or deactivated.
func RejectMissingProducts(productIDs ...string) *CommitRejection {
	return &CommitRejection{Reason: RejectProductMissing, ProductIDs: productIDs}
}

// RejectShortfalls reports products without enough stock.
func RejectShortfalls(shortfalls ...StockShortfall) *CommitRejection {
	ids := make([]string, len(shortfalls))
	for i, s := range shortfalls {
		ids[i] = s.ProductID
	}
	return &CommitRejection{Reason: RejectInsufficientStock, ProductIDs: ids, Shortfalls: shortfalls}
}

// RejectCoupon reports a coupon that hit its usage limit or was deactivated before commit.
func RejectCoupon(code string) *CommitRejection {
	return &CommitRejection{Reason: RejectCouponExhausted, CouponCode: code}
}

// RejectCouponRedeemer reports a customer who reached the coupon's per-customer limit.
func RejectCouponRedeemer(code string) *CommitRejection {
	return &CommitRejection{Reason: RejectCouponPerRedeemer, CouponCode: code}
}
