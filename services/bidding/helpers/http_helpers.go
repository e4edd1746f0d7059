package helpers

import (
	"errors"
	"fmt"
	"net/http"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/idempotency"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the error envelope
const (
	CodeBidTooLow        = "BID_TOO_LOW"
	CodeAuctionNotActive = "AUCTION_NOT_ACTIVE"
	CodeAuctionExpired   = "AUCTION_EXPIRED"
	CodeSelfBid          = "SELF_BID"
	CodeAlreadyLeading   = "ALREADY_LEADING"
	CodeTimeout          = "TIMEOUT"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotSeller        = "NOT_SELLER"
	CodeCannotCancel     = "CANNOT_CANCEL"
	CodeInProgress       = "IN_PROGRESS"
	CodeKeyReused        = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal         = "INTERNAL"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, CodeInvalidRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code, message and code.
// Timeouts are checked first since ledger conflicts are reported wrapped in one.
func MapErrorToHTTP(err error) (int, string, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrTimeout):
		return http.StatusServiceUnavailable, "auction is busy, retry the request", CodeTimeout
	case errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict, "request with this idempotency key is in progress", CodeInProgress
	case errors.Is(err, idempotency.ErrKeyReused):
		return http.StatusUnprocessableEntity, "idempotency key was already used with a different request body", CodeKeyReused
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found", CodeNotFound
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusNotFound, "no bids found for auction", CodeNotFound
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details", CodeInvalidRequest
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details", CodeInvalidRequest
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low", CodeBidTooLow
	case errors.Is(err, biddingerrors.ErrAuctionExpired):
		return http.StatusConflict, "auction has expired", CodeAuctionExpired
	case errors.Is(err, biddingerrors.ErrAuctionNotActive), errors.Is(err, biddingerrors.ErrInvalidTransition):
		return http.StatusConflict, "auction is not active", CodeAuctionNotActive
	case errors.Is(err, biddingerrors.ErrSelfBid):
		return http.StatusForbidden, "seller cannot bid on own auction", CodeSelfBid
	case errors.Is(err, biddingerrors.ErrAlreadyLeading):
		return http.StatusConflict, "bidder already holds the leading bid", CodeAlreadyLeading
	case errors.Is(err, biddingerrors.ErrNotSeller):
		return http.StatusForbidden, "only the seller may perform this action", CodeNotSeller
	case errors.Is(err, biddingerrors.ErrCannotCancel):
		return http.StatusConflict, "auction cannot be cancelled", CodeCannotCancel
	default:
		return http.StatusInternalServerError, "internal server error", CodeInternal
	}
}

// RespondError writes the mapped error envelope and logs the failure.
// Server-side failures log at error level, rejections at warn.
func RespondError(c *gin.Context, handlerName string, err error, fields map[string]any) {
	status, message, code := MapErrorToHTTP(err)
	utils.JSONError(c, status, code, fmt.Errorf("%s: %w", message, err), message)

	if fields == nil {
		fields = map[string]any{}
	}
	fields["handler"] = handlerName
	fields["code"] = code
	fields["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": request failed", fields)
		return
	}
	utils.Warn(handlerName+": request rejected", fields)
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
