package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction represents an item put up for auction by a seller
type Auction struct {
	AuctionID     string              `json:"auction_id"`
	SellerID      string              `json:"seller_id"`
	CategoryID    string              `json:"category_id"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	StartingPrice decimal.Decimal     `json:"starting_price"`
	CurrentPrice  decimal.Decimal     `json:"current_price"`
	StepPrice     decimal.Decimal     `json:"step_price"`
	BuyNowPrice   decimal.NullDecimal `json:"buy_now_price"`
	AutoExtend    bool                `json:"auto_extend"`
	Status        AuctionStatus       `json:"status"`
	WinnerID      string              `json:"winner_id,omitempty"`
	BidCount      int                 `json:"bid_count"`
	CreatedAt     time.Time           `json:"created_at"`
	EndTime       time.Time           `json:"end_time"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
	NotifiedAt    *time.Time          `json:"-"`
}

// HasBuyNow reports whether a buy-now price is configured
func (a Auction) HasBuyNow() bool {
	return a.BuyNowPrice.Valid
}

// MinimumBid is the lowest proxy amount the auction currently admits
func (a Auction) MinimumBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.StepPrice)
}

// BidKind tells how a ledger entry came to exist
type BidKind string

const (
	// BidKindManual is a bid submitted by the bidder that became leading
	BidKindManual BidKind = "manual"
	// BidKindOutbid is a submitted bid that lost to an existing ceiling on arrival
	BidKindOutbid BidKind = "outbid"
	// BidKindAuto is a counter-bid placed on behalf of the leader
	BidKindAuto BidKind = "auto"
)

// Bid is one append-only ledger entry for an auction
type Bid struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	// MaxProxyAmount is the bidder's private ceiling and is never serialised.
	MaxProxyAmount decimal.Decimal `json:"-"`
	Kind           BidKind         `json:"kind"`
	Sequence       int64           `json:"sequence"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewAuction carries the seller-supplied fields for auction creation
type NewAuction struct {
	SellerID      string
	CategoryID    string
	Title         string
	Description   string
	StartingPrice decimal.Decimal
	StepPrice     decimal.Decimal
	BuyNowPrice   decimal.NullDecimal
	EndTime       time.Time
	AutoExtend    bool
}

// BidResult is the outcome of an admitted bid
type BidResult struct {
	Accepted     bool            `json:"accepted"`
	BidID        string          `json:"bid_id"`
	AuctionID    string          `json:"auction_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	IsLeading    bool            `json:"is_leading"`
	Status       AuctionStatus   `json:"status"`
	EndTime      time.Time       `json:"end_time"`
}

// AuctionClosed is handed to the order initiator once an auction is sold
type AuctionClosed struct {
	AuctionID  string          `json:"auction_id"`
	WinnerID   string          `json:"winner_id"`
	SellerID   string          `json:"seller_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
	ClosedAt   time.Time       `json:"closed_at"`
}
