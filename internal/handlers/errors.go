package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cimonstech/ventechfront-sub000/internal/platform/httpx"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

const unavailableRetryAfter = 5 * time.Second

// writeServiceError maps service sentinels onto the API error envelope. Checkout errors carry the
// product ids or coupon reason so the storefront can point the customer at the offending line.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var unsettled *services.UnsettledPaymentError
	var couponErr *services.CouponError
	var stockErr *services.StockError
	var productErr *services.ProductUnavailableError

	switch {
	case errors.As(err, &unsettled):
		httpx.WriteError(ctx, w, httpx.NewError("order_creation_failed", "your payment was received but the order could not be created; support has been notified", http.StatusBadGateway).
			WithDetails(map[string]any{"reference": unsettled.Reference, "failures": failureDetails(unsettled.Failures)}))
	case errors.As(err, &couponErr):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", couponMessage(couponErr.Reason), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(couponErr.Reason), "code": couponErr.Code}))
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "requested quantity is no longer in stock; reduce the quantity and retry", http.StatusConflict).
			WithDetails(map[string]any{"product_ids": stockErr.ProductIDs, "requested": stockErr.Requested, "available": stockErr.Available}))
	case errors.As(err, &productErr):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "a product in your cart is no longer available; remove it and retry", http.StatusConflict).
			WithDetails(map[string]any{"product_ids": productErr.ProductIDs}))
	case errors.Is(err, services.ErrCheckoutValidation), errors.Is(err, services.ErrCartInvalidInput), errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "cart line not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict), errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource was modified concurrently; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_verified", "payment could not be verified; if you were charged it will be reconciled", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrNothingToSettle):
		httpx.WriteError(ctx, w, httpx.NewError("nothing_to_settle", "no checkout is waiting for this payment; support has been notified", http.StatusConflict))
	case errors.Is(err, services.ErrOrderCreationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_creation_failed", "order could not be created; support has been notified", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable), errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "checkout is temporarily unavailable; retry shortly", http.StatusServiceUnavailable).WithRetryAfter(unavailableRetryAfter))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request timed out; retry shortly", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func failureDetails(failures []services.DraftFailure) []map[string]any {
	out := make([]map[string]any, 0, len(failures))
	for _, f := range failures {
		entry := map[string]any{"kind": string(f.Kind), "reason": f.Reason}
		if len(f.ProductIDs) > 0 {
			entry["product_ids"] = f.ProductIDs
		}
		out = append(out, entry)
	}
	return out
}

func couponMessage(reason services.CouponReason) string {
	switch reason {
	case services.CouponNotFound:
		return "coupon code does not exist"
	case services.CouponInactive:
		return "coupon is no longer active"
	case services.CouponOutsideValidityWindow:
		return "coupon is not valid at this time"
	case services.CouponBelowMinimumAmount:
		return "order subtotal is below the coupon minimum"
	case services.CouponGlobalUsageLimitReached:
		return "coupon has reached its usage limit"
	case services.CouponPerUserLimitReached:
		return "you have already used this coupon"
	default:
		return "coupon cannot be applied"
	}
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrEmptyBody) {
		writeBadRequest(ctx, w, "request body is required")
		return
	}
	writeBadRequest(ctx, w, err.Error())
}
