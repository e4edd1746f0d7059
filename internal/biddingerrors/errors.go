package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrNoBids           = errors.New("no bids found for auction")
	ErrBidderNoAuctions = errors.New("bidder has not placed any bids")
	ErrConflict         = errors.New("bid ledger ordering conflict")
	ErrTimeout          = errors.New("timed out waiting for auction lock")
)

// business logic errors
var (
	ErrInvalidBid        = errors.New("invalid bid")
	ErrInvalidAuction    = errors.New("invalid auction")
	ErrBidTooLow         = errors.New("bid amount too low")
	ErrAuctionNotActive  = errors.New("auction is not active")
	ErrAuctionExpired    = errors.New("auction has expired")
	ErrSelfBid           = errors.New("seller cannot bid on own auction")
	ErrAlreadyLeading    = errors.New("bidder already holds the leading bid")
	ErrNotSeller         = errors.New("only the seller may perform this action")
	ErrCannotCancel      = errors.New("auction cannot be cancelled")
	ErrInvalidTransition = errors.New("invalid auction status transition")
)
