package auction

import (
	"auction-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Entry is a ledger entry produced by Resolve, before ids and timestamps are assigned
type Entry struct {
	BidderID string
	Amount   decimal.Decimal
	MaxProxy decimal.Decimal
	Kind     models.BidKind
}

// Resolution is the outcome of resolving one proxy bid against the current leader
type Resolution struct {
	// Entries are appended to the ledger in order.
	Entries []Entry
	// CallerIndex points at the submitting bidder's entry in Entries.
	CallerIndex int
	LeaderID    string
	Price       decimal.Decimal
	// BuyNow is set when the resolved leader's ceiling reached the buy-now price.
	BuyNow bool
}

// CallerLeading reports whether the submitting bidder holds the lead after resolution
func (r Resolution) CallerLeading() bool {
	return r.Entries[r.CallerIndex].BidderID == r.LeaderID
}

// MinimumBid is the lowest ceiling the auction admits right now. A buy-now price
// below the next step still lets a bidder buy outright.
func MinimumBid(a models.Auction) decimal.Decimal {
	minimum := a.MinimumBid()
	if a.HasBuyNow() && a.BuyNowPrice.Decimal.LessThan(minimum) {
		return a.BuyNowPrice.Decimal
	}
	return minimum
}

// Resolve applies second-price proxy bidding for a ceiling of proxy submitted by
// bidderID. leading is nil when the auction has no bids yet. Admission checks are
// the caller's job; Resolve assumes the bid is admissible.
func Resolve(a models.Auction, leading *models.Bid, bidderID string, proxy decimal.Decimal) Resolution {
	var res Resolution
	var leaderCeiling decimal.Decimal

	switch {
	case leading == nil:
		res.Entries = []Entry{{BidderID: bidderID, Amount: a.StartingPrice, MaxProxy: proxy, Kind: models.BidKindManual}}
		res.LeaderID = bidderID
		res.Price = a.StartingPrice
		leaderCeiling = proxy

	case proxy.GreaterThan(leading.MaxProxyAmount):
		price := decimal.Min(proxy, decimal.Max(leading.MaxProxyAmount.Add(a.StepPrice), a.StartingPrice))
		res.Entries = []Entry{{BidderID: bidderID, Amount: price, MaxProxy: proxy, Kind: models.BidKindManual}}
		res.LeaderID = bidderID
		res.Price = price
		leaderCeiling = proxy

	default:
		counter := decimal.Min(leading.MaxProxyAmount, proxy.Add(a.StepPrice))
		challenger := Entry{BidderID: bidderID, Amount: proxy, MaxProxy: proxy, Kind: models.BidKindOutbid}
		auto := Entry{BidderID: leading.BidderID, Amount: counter, MaxProxy: leading.MaxProxyAmount, Kind: models.BidKindAuto}
		if counter.Equal(proxy) {
			// equal ceilings: the earlier one keeps priority at the same amount
			res.Entries = []Entry{auto, challenger}
			res.CallerIndex = 1
		} else {
			res.Entries = []Entry{challenger, auto}
		}
		res.LeaderID = leading.BidderID
		res.Price = counter
		leaderCeiling = leading.MaxProxyAmount
	}

	if a.HasBuyNow() {
		buyNow := a.BuyNowPrice.Decimal
		if leaderCeiling.GreaterThanOrEqual(buyNow) || res.Price.GreaterThanOrEqual(buyNow) {
			res.Price = buyNow
			res.BuyNow = true
			for i := range res.Entries {
				if res.Entries[i].BidderID == res.LeaderID && res.Entries[i].Kind != models.BidKindOutbid {
					res.Entries[i].Amount = buyNow
				}
			}
		}
	}

	return res
}
