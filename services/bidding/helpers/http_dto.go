package helpers

import (
	"time"

	"auction-engine/internal/auction"
	model "auction-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs
type CreateAuctionRequest struct {
	SellerID      string    `json:"seller_id" binding:"required"`
	CategoryID    string    `json:"category_id"`
	Title         string    `json:"title" binding:"required"`
	Description   string    `json:"description"`
	StartingPrice float64   `json:"starting_price" binding:"required,gt=0"`
	StepPrice     float64   `json:"step_price" binding:"required,gt=0"`
	BuyNowPrice   *float64  `json:"buy_now_price" binding:"omitempty,gt=0"`
	EndTime       time.Time `json:"end_time" binding:"required"`
	AutoExtend    bool      `json:"auto_extend"`
}

type PlaceBidRequest struct {
	BidderID  string  `json:"bidder_id" binding:"required"`
	MaxAmount float64 `json:"max_amount" binding:"required,gt=0"`
}

type CancelAuctionRequest struct {
	SellerID string `json:"seller_id" binding:"required"`
}

type AuctionResponse struct {
	AuctionID     string   `json:"auction_id"`
	SellerID      string   `json:"seller_id"`
	CategoryID    string   `json:"category_id,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	StartingPrice float64  `json:"starting_price"`
	CurrentPrice  float64  `json:"current_price"`
	StepPrice     float64  `json:"step_price"`
	MinimumBid    float64  `json:"minimum_bid"`
	BuyNowPrice   *float64 `json:"buy_now_price,omitempty"`
	AutoExtend    bool     `json:"auto_extend"`
	Status        string   `json:"status"`
	WinnerID      string   `json:"winner_id,omitempty"`
	BidCount      int      `json:"bid_count"`
	CreatedAt     string   `json:"created_at"`
	EndTime       string   `json:"end_time"`
	ClosedAt      string   `json:"closed_at,omitempty"`
}

type BidResponse struct {
	BidID     string  `json:"bid_id"`
	AuctionID string  `json:"auction_id"`
	BidderID  string  `json:"bidder_id"`
	Amount    float64 `json:"amount"`
	Kind      string  `json:"kind"`
	Sequence  int64   `json:"sequence"`
	CreatedAt string  `json:"created_at"`
}

type BidResultResponse struct {
	Accepted     bool    `json:"accepted"`
	BidID        string  `json:"bid_id"`
	AuctionID    string  `json:"auction_id"`
	CurrentPrice float64 `json:"current_price"`
	IsLeading    bool    `json:"is_leading"`
	Status       string  `json:"status"`
	EndTime      string  `json:"end_time"`
}

// ToDecimal converts a JSON amount to a two decimal place price
func ToDecimal(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// ToNewAuction converts the request into service input
func (r CreateAuctionRequest) ToNewAuction() model.NewAuction {
	in := model.NewAuction{
		SellerID:      r.SellerID,
		CategoryID:    r.CategoryID,
		Title:         r.Title,
		Description:   r.Description,
		StartingPrice: ToDecimal(r.StartingPrice),
		StepPrice:     ToDecimal(r.StepPrice),
		EndTime:       r.EndTime,
		AutoExtend:    r.AutoExtend,
	}
	if r.BuyNowPrice != nil {
		in.BuyNowPrice = decimal.NewNullDecimal(ToDecimal(*r.BuyNowPrice))
	}
	return in
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func NewAuctionResponse(a model.Auction) AuctionResponse {
	resp := AuctionResponse{
		AuctionID:     a.AuctionID,
		SellerID:      a.SellerID,
		CategoryID:    a.CategoryID,
		Title:         a.Title,
		Description:   a.Description,
		StartingPrice: a.StartingPrice.InexactFloat64(),
		CurrentPrice:  a.CurrentPrice.InexactFloat64(),
		StepPrice:     a.StepPrice.InexactFloat64(),
		MinimumBid:    auction.MinimumBid(a).InexactFloat64(),
		AutoExtend:    a.AutoExtend,
		Status:        string(a.Status),
		WinnerID:      a.WinnerID,
		BidCount:      a.BidCount,
		CreatedAt:     formatTime(a.CreatedAt),
		EndTime:       formatTime(a.EndTime),
	}
	if a.HasBuyNow() {
		v := a.BuyNowPrice.Decimal.InexactFloat64()
		resp.BuyNowPrice = &v
	}
	if a.ClosedAt != nil {
		resp.ClosedAt = formatTime(*a.ClosedAt)
	}
	return resp
}

func NewAuctionResponses(auctions []model.Auction) []AuctionResponse {
	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, NewAuctionResponse(a))
	}
	return out
}

// NewBidResponse never carries the bidder's ceiling
func NewBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:     b.BidID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount.InexactFloat64(),
		Kind:      string(b.Kind),
		Sequence:  b.Sequence,
		CreatedAt: formatTime(b.CreatedAt),
	}
}

func NewBidResponses(bids []model.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, NewBidResponse(b))
	}
	return out
}

func NewBidResultResponse(r model.BidResult) BidResultResponse {
	return BidResultResponse{
		Accepted:     r.Accepted,
		BidID:        r.BidID,
		AuctionID:    r.AuctionID,
		CurrentPrice: r.CurrentPrice.InexactFloat64(),
		IsLeading:    r.IsLeading,
		Status:       string(r.Status),
		EndTime:      formatTime(r.EndTime),
	}
}
