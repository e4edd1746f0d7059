package bidding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auction-engine/internal/auction"
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/clock"
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"

	"github.com/shopspring/decimal"
)

const DefaultLockTimeout = 2 * time.Second

// BiddingService defines the business logic for auction bidding
type BiddingService struct {
	repo        repository.AuctionDB
	clock       clock.Clock
	lockTimeout time.Duration
	extend      auction.ExtendPolicy
	onSold      func()
	newID       func() string
}

// Option configures a BiddingService
type Option func(*BiddingService)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(s *BiddingService) { s.clock = c }
}

// WithLockTimeout bounds how long a call waits for an auction's exclusive section
func WithLockTimeout(d time.Duration) Option {
	return func(s *BiddingService) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithExtendWindow sets the anti-sniping window. Zero disables extension.
func WithExtendWindow(d time.Duration) Option {
	return func(s *BiddingService) { s.extend = auction.ExtendPolicy{Window: d} }
}

// WithOnSold registers a hook run after a bid sells an auction outright
func WithOnSold(fn func()) Option {
	return func(s *BiddingService) { s.onSold = fn }
}

// WithIDGenerator replaces the bid and auction id source
func WithIDGenerator(fn func() string) Option {
	return func(s *BiddingService) { s.newID = fn }
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:        repo,
		clock:       clock.NewSystem(),
		lockTimeout: DefaultLockTimeout,
		extend:      auction.ExtendPolicy{Window: auction.DefaultExtendWindow},
		onSold:      func() {},
		newID:       utils.GenerateID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAuction validates seller input and opens the auction for bidding
func (s *BiddingService) CreateAuction(ctx context.Context, in model.NewAuction) (model.Auction, error) {
	now := s.now()
	a, err := auction.New(s.newID(), in, now)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: %w", err)
	}
	if err := auction.Activate(&a, now); err != nil {
		return model.Auction{}, fmt.Errorf("service: %w", err)
	}
	if err := s.repo.CreateAuction(ctx, a); err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to create auction for seller %s: %w", in.SellerID, err)
	}

	utils.Info("auction created", map[string]any{
		"auction_id":     a.AuctionID,
		"seller_id":      a.SellerID,
		"starting_price": a.StartingPrice.StringFixed(2),
		"end_time":       a.EndTime.Format(time.RFC3339),
	})
	return a, nil
}

// SubmitBid admits a proxy bid with ceiling proxyAmount. Checks, proxy
// resolution, the ledger append and the auction update happen inside one
// exclusive section; nothing is applied when any step fails.
func (s *BiddingService) SubmitBid(ctx context.Context, auctionID, bidderID string, proxyAmount decimal.Decimal) (model.BidResult, error) {
	start := time.Now()
	if err := s.validateBid(auctionID, bidderID, proxyAmount); err != nil {
		metrics.ObserveBid("rejected_invalid", start)
		return model.BidResult{}, err
	}
	proxyAmount = auction.RoundPrice(proxyAmount)

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var (
		result   model.BidResult
		sold     bool
		extended bool
	)
	err := s.repo.WithAuctionLock(lockCtx, auctionID, func(tx repository.AuctionTx) error {
		a := tx.Auction()
		now := s.now()

		if err := checkAdmission(a, bidderID, proxyAmount, now); err != nil {
			return err
		}

		leading, hasLeader, err := tx.LeadingBid(lockCtx)
		if err != nil {
			return fmt.Errorf("read leading bid: %w", err)
		}
		var current *model.Bid
		if hasLeader {
			if leading.BidderID == bidderID {
				return fmt.Errorf("service: %w - raise the ceiling only after being outbid", biddingerrors.ErrAlreadyLeading)
			}
			current = &leading
		}

		res := auction.Resolve(a, current, bidderID, proxyAmount)

		bidIDs, err := s.appendEntries(lockCtx, tx, auctionID, res.Entries, now)
		if err != nil {
			return err
		}
		a.BidCount += len(res.Entries)

		if res.BuyNow {
			if err := auction.Sell(&a, res.LeaderID, res.Price, now); err != nil {
				return err
			}
			sold = true
		} else {
			if err := auction.ApplyPrice(&a, res.Price); err != nil {
				return err
			}
			extended = s.extend.Apply(&a, now)
		}

		if err := tx.UpdateAuction(lockCtx, a); err != nil {
			return err
		}

		result = model.BidResult{
			Accepted:     true,
			BidID:        bidIDs[res.CallerIndex],
			AuctionID:    a.AuctionID,
			CurrentPrice: a.CurrentPrice,
			IsLeading:    res.CallerLeading(),
			Status:       a.Status,
			EndTime:      a.EndTime,
		}
		return nil
	})
	if err != nil {
		metrics.ObserveBid(rejectionOutcome(err), start)
		return model.BidResult{}, s.wrapLockErr("submit bid", auctionID, bidderID, err)
	}

	outcome := "outbid"
	switch {
	case sold:
		outcome = "buy_now"
	case result.IsLeading:
		outcome = "leading"
	}
	metrics.ObserveBid(outcome, start)
	if extended {
		metrics.AuctionExtensions.Inc()
	}

	utils.Info("bid admitted", map[string]any{
		"auction_id":    auctionID,
		"bidder_id":     bidderID,
		"bid_id":        result.BidID,
		"current_price": result.CurrentPrice.StringFixed(2),
		"is_leading":    result.IsLeading,
		"status":        result.Status,
		"extended":      extended,
	})

	if sold {
		s.onSold()
	}
	return result, nil
}

// validateBid checks input shape before any lock is taken
func (s *BiddingService) validateBid(auctionID, bidderID string, proxyAmount decimal.Decimal) error {
	if strings.TrimSpace(auctionID) == "" || strings.TrimSpace(bidderID) == "" {
		return fmt.Errorf("service: %w - missing auctionID or bidderID", biddingerrors.ErrInvalidBid)
	}
	if !proxyAmount.IsPositive() {
		return fmt.Errorf("service: %w - non-positive proxy amount", biddingerrors.ErrInvalidBid)
	}
	return nil
}

// checkAdmission enforces the business preconditions under the auction lock
func checkAdmission(a model.Auction, bidderID string, proxyAmount decimal.Decimal, now time.Time) error {
	if a.Status != model.StatusActive {
		return fmt.Errorf("service: %w - auction %s is %s", biddingerrors.ErrAuctionNotActive, a.AuctionID, a.Status)
	}
	if !now.Before(a.EndTime) {
		return fmt.Errorf("service: %w - auction %s ended at %s", biddingerrors.ErrAuctionExpired, a.AuctionID, a.EndTime.Format(time.RFC3339))
	}
	if bidderID == a.SellerID {
		return fmt.Errorf("service: %w", biddingerrors.ErrSelfBid)
	}
	if minimum := auction.MinimumBid(a); proxyAmount.LessThan(minimum) {
		return fmt.Errorf("service: %w - minimum bid is %s", biddingerrors.ErrBidTooLow, minimum.StringFixed(2))
	}
	return nil
}

// appendEntries stamps resolved entries with ids, sequence numbers and strictly
// increasing timestamps, and appends them to the ledger
func (s *BiddingService) appendEntries(ctx context.Context, tx repository.AuctionTx, auctionID string, entries []auction.Entry, now time.Time) ([]string, error) {
	last, hasLast, err := tx.LastBid(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last bid: %w", err)
	}
	seq, at := int64(1), now
	if hasLast {
		seq = last.Sequence + 1
		if !at.After(last.CreatedAt) {
			at = last.CreatedAt.Add(time.Microsecond)
		}
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		bid := model.Bid{
			BidID:          s.newID(),
			AuctionID:      auctionID,
			BidderID:       e.BidderID,
			Amount:         e.Amount,
			MaxProxyAmount: e.MaxProxy,
			Kind:           e.Kind,
			Sequence:       seq,
			CreatedAt:      at,
		}
		if err := tx.AppendBid(ctx, bid); err != nil {
			return nil, err
		}
		metrics.LedgerEntries.WithLabelValues(string(e.Kind)).Inc()
		ids = append(ids, bid.BidID)
		seq++
		at = at.Add(time.Microsecond)
	}
	return ids, nil
}

// GetAuction returns the auction snapshot
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// GetBidHistory returns the auction's ledger in order
func (s *BiddingService) GetBidHistory(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	bids := make([]model.Bid, 0)
	for b, err := range s.repo.History(ctx, auctionID) {
		if err != nil {
			return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
		}
		bids = append(bids, b)
	}
	return bids, nil
}

// GetLeadingBid returns the currently winning bid for an auction
func (s *BiddingService) GetLeadingBid(ctx context.Context, auctionID string) (model.Bid, error) {
	if auctionID == "" {
		return model.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	leading, err := s.repo.GetLeadingBid(ctx, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to get leading bid for auction %s: %w", auctionID, err)
	}
	return leading, nil
}

// GetAuctionsByBidder returns all auctions a bidder has placed bids on
func (s *BiddingService) GetAuctionsByBidder(ctx context.Context, bidderID string) ([]model.Auction, error) {
	if bidderID == "" {
		return nil, fmt.Errorf("service: %w - empty bidder ID", biddingerrors.ErrInvalidBid)
	}

	auctions, err := s.repo.GetAuctionsByBidder(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for bidder %s: %w", bidderID, err)
	}
	return auctions, nil
}

// CancelAuction withdraws an auction on behalf of its seller while it has no bids
func (s *BiddingService) CancelAuction(ctx context.Context, auctionID, sellerID string) (model.Auction, error) {
	if auctionID == "" || sellerID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - missing auctionID or sellerID", biddingerrors.ErrInvalidAuction)
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var cancelled model.Auction
	err := s.repo.WithAuctionLock(lockCtx, auctionID, func(tx repository.AuctionTx) error {
		a := tx.Auction()
		if a.SellerID != sellerID {
			return fmt.Errorf("service: %w", biddingerrors.ErrNotSeller)
		}
		if err := auction.Cancel(&a, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateAuction(lockCtx, a); err != nil {
			return err
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return model.Auction{}, s.wrapLockErr("cancel auction", auctionID, sellerID, err)
	}

	utils.Info("auction cancelled", map[string]any{"auction_id": auctionID, "seller_id": sellerID})
	return cancelled, nil
}

func (s *BiddingService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// wrapLockErr adds service context to failures from an exclusive section. A
// ledger ordering conflict means the section was not exclusive; it is logged
// and reported to the caller as a timeout so the request can be retried.
func (s *BiddingService) wrapLockErr(op, auctionID, actorID string, err error) error {
	switch {
	case errors.Is(err, biddingerrors.ErrConflict):
		utils.Error("service: ledger ordering conflict", map[string]any{
			"operation":  op,
			"auction_id": auctionID,
			"actor_id":   actorID,
			"error":      err.Error(),
		})
		return fmt.Errorf("service: failed to %s on auction %s: %w: %w", op, auctionID, biddingerrors.ErrTimeout, err)
	case errors.Is(err, biddingerrors.ErrTimeout):
		metrics.LockTimeouts.WithLabelValues(op).Inc()
		utils.Warn("service: auction lock wait timed out", map[string]any{
			"operation":  op,
			"auction_id": auctionID,
			"actor_id":   actorID,
		})
	}
	return fmt.Errorf("service: failed to %s on auction %s: %w", op, auctionID, err)
}

func rejectionOutcome(err error) string {
	switch {
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return "rejected_too_low"
	case errors.Is(err, biddingerrors.ErrAuctionNotActive):
		return "rejected_not_active"
	case errors.Is(err, biddingerrors.ErrAuctionExpired):
		return "rejected_expired"
	case errors.Is(err, biddingerrors.ErrSelfBid):
		return "rejected_self_bid"
	case errors.Is(err, biddingerrors.ErrAlreadyLeading):
		return "rejected_already_leading"
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return "rejected_not_found"
	case errors.Is(err, biddingerrors.ErrTimeout), errors.Is(err, biddingerrors.ErrConflict):
		return "timeout"
	default:
		return "error"
	}
}
