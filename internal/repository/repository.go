package repository

import (
	"context"
	"iter"
	"time"

	model "auction-engine/internal/models"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the auction and bid ledger storage interface
type AuctionDB interface {
	// CreateAuction stores a new auction. The id must be unused.
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	// History yields the auction's ledger in sequence order. Every range over the
	// returned sequence reads a fresh snapshot.
	History(ctx context.Context, auctionID string) iter.Seq2[model.Bid, error]
	// GetLeadingBid returns the highest bid, earliest on ties
	GetLeadingBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByBidder(ctx context.Context, bidderID string) ([]model.Auction, error)
	// ListExpiredActive returns ids of active auctions whose end time is at or before now
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListPendingNotifications returns sold auctions the order initiator has not acknowledged
	ListPendingNotifications(ctx context.Context, limit int) ([]model.Auction, error)
	MarkNotified(ctx context.Context, auctionID string, at time.Time) error
	// WithAuctionLock runs fn inside the auction's exclusive section. Changes made
	// through tx are published only when fn returns nil. Waiting for the section
	// is bounded by ctx and fails with ErrTimeout.
	WithAuctionLock(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error
}

// AuctionTx is the view of one auction held under its exclusive lock
type AuctionTx interface {
	// Auction returns the auction as staged so far
	Auction() model.Auction
	// LeadingBid reports the current leader including bids staged in this section
	LeadingBid(ctx context.Context) (model.Bid, bool, error)
	LastBid(ctx context.Context) (model.Bid, bool, error)
	// AppendBid stages a ledger entry. It fails with ErrConflict when the entry
	// does not directly follow the last one in sequence and time.
	AppendBid(ctx context.Context, bid model.Bid) error
	UpdateAuction(ctx context.Context, auction model.Auction) error
}

// leads reports whether candidate outranks current as the leading bid
func leads(candidate, current model.Bid) bool {
	if !candidate.Amount.Equal(current.Amount) {
		return candidate.Amount.GreaterThan(current.Amount)
	}
	return candidate.Sequence < current.Sequence
}
