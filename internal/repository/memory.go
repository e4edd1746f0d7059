package repository

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
)

// auctionRecord holds one auction and its ledger. lock is a one-slot semaphore
// guarding the auction's exclusive section.
type auctionRecord struct {
	lock    chan struct{}
	auction model.Auction
	bids    []model.Bid
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu             sync.RWMutex
	auctions       map[string]*auctionRecord // key: auctionID
	bidderAuctions map[string][]string       // key: bidderID -> auctionIDs in first-bid order
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:       make(map[string]*auctionRecord),
		bidderAuctions: make(map[string][]string),
	}
}

// CreateAuction stores a new auction with an empty ledger
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w - empty auction id", biddingerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.auctions[auction.AuctionID]; exists {
		return fmt.Errorf("create auction %s: %w - id already in use", auction.AuctionID, biddingerrors.ErrConflict)
	}
	r.auctions[auction.AuctionID] = &auctionRecord{
		lock:    make(chan struct{}, 1),
		auction: auction,
	}
	return nil
}

// GetAuction returns a snapshot of an auction
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return rec.auction, nil
}

// History yields the auction's bids in ledger order
func (r *MemoryRepo) History(ctx context.Context, auctionID string) iter.Seq2[model.Bid, error] {
	return func(yield func(model.Bid, error) bool) {
		r.mu.RLock()
		rec, ok := r.auctions[auctionID]
		var snapshot []model.Bid
		if ok {
			snapshot = slices.Clone(rec.bids)
		}
		r.mu.RUnlock()

		if !ok {
			yield(model.Bid{}, fmt.Errorf("bid history for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound))
			return
		}
		for _, b := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(model.Bid{}, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// GetLeadingBid returns the highest bid for an auction
func (r *MemoryRepo) GetLeadingBid(_ context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.auctions[auctionID]
	if !ok {
		return model.Bid{}, fmt.Errorf("get leading bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	leading, ok := leadingOf(rec.bids)
	if !ok {
		return model.Bid{}, fmt.Errorf("get leading bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return leading, nil
}

// GetAuctionsByBidder returns all auctions a bidder has placed bids on
func (r *MemoryRepo) GetAuctionsByBidder(_ context.Context, bidderID string) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auctionIDs, ok := r.bidderAuctions[bidderID]
	if !ok || len(auctionIDs) == 0 {
		return nil, fmt.Errorf("get auctions for bidder %s: %w", bidderID, biddingerrors.ErrBidderNoAuctions)
	}

	auctions := make([]model.Auction, 0, len(auctionIDs))
	for _, id := range auctionIDs {
		if rec, exists := r.auctions[id]; exists {
			auctions = append(auctions, rec.auction)
		}
	}
	return auctions, nil
}

// ListExpiredActive returns active auctions due for closing, earliest end first
func (r *MemoryRepo) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	due := make([]model.Auction, 0)
	for _, rec := range r.auctions {
		if rec.auction.Status == model.StatusActive && !rec.auction.EndTime.After(now) {
			due = append(due, rec.auction)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(due, func(a, b model.Auction) int { return a.EndTime.Compare(b.EndTime) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, a := range due {
		ids = append(ids, a.AuctionID)
	}
	return ids, nil
}

// ListPendingNotifications returns sold auctions not yet handed to the order initiator
func (r *MemoryRepo) ListPendingNotifications(_ context.Context, limit int) ([]model.Auction, error) {
	r.mu.RLock()
	pending := make([]model.Auction, 0)
	for _, rec := range r.auctions {
		if rec.auction.Status == model.StatusSold && rec.auction.NotifiedAt == nil {
			pending = append(pending, rec.auction)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(pending, func(a, b model.Auction) int { return closedAt(a).Compare(closedAt(b)) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkNotified records that the order initiator accepted the auction's close event
func (r *MemoryRepo) MarkNotified(ctx context.Context, auctionID string, at time.Time) error {
	return r.WithAuctionLock(ctx, auctionID, func(tx AuctionTx) error {
		a := tx.Auction()
		if a.NotifiedAt != nil {
			return nil
		}
		a.NotifiedAt = &at
		return tx.UpdateAuction(ctx, a)
	})
}

// WithAuctionLock runs fn with exclusive access to one auction and publishes the
// staged auction and bids together when fn succeeds
func (r *MemoryRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error {
	r.mu.RLock()
	rec, ok := r.auctions[auctionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	select {
	case rec.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("lock auction %s: %w: %w", auctionID, biddingerrors.ErrTimeout, ctx.Err())
	}
	defer func() { <-rec.lock }()

	r.mu.RLock()
	tx := &memoryTx{auction: rec.auction, committed: slices.Clone(rec.bids)}
	r.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec.auction = tx.auction
	rec.bids = append(rec.bids, tx.staged...)
	for _, b := range tx.staged {
		r.trackBidder(b.BidderID, auctionID)
	}
	return nil
}

// trackBidder must be called with r.mu held for writing
func (r *MemoryRepo) trackBidder(bidderID, auctionID string) {
	for _, id := range r.bidderAuctions[bidderID] {
		if id == auctionID {
			return
		}
	}
	r.bidderAuctions[bidderID] = append(r.bidderAuctions[bidderID], auctionID)
}

type memoryTx struct {
	auction   model.Auction
	committed []model.Bid
	staged    []model.Bid
}

func (tx *memoryTx) Auction() model.Auction {
	return tx.auction
}

func (tx *memoryTx) LeadingBid(_ context.Context) (model.Bid, bool, error) {
	leading, ok := leadingOf(tx.committed)
	if staged, stagedOK := leadingOf(tx.staged); stagedOK && (!ok || leads(staged, leading)) {
		return staged, true, nil
	}
	return leading, ok, nil
}

func (tx *memoryTx) LastBid(_ context.Context) (model.Bid, bool, error) {
	if n := len(tx.staged); n > 0 {
		return tx.staged[n-1], true, nil
	}
	if n := len(tx.committed); n > 0 {
		return tx.committed[n-1], true, nil
	}
	return model.Bid{}, false, nil
}

func (tx *memoryTx) AppendBid(ctx context.Context, bid model.Bid) error {
	if bid.AuctionID != tx.auction.AuctionID {
		return fmt.Errorf("append bid to auction %s: %w - bid belongs to %q",
			tx.auction.AuctionID, biddingerrors.ErrInvalidBid, bid.AuctionID)
	}
	last, ok, _ := tx.LastBid(ctx)
	if err := checkOrder(last, ok, bid); err != nil {
		return err
	}
	tx.staged = append(tx.staged, bid)
	return nil
}

func (tx *memoryTx) UpdateAuction(_ context.Context, auction model.Auction) error {
	if auction.AuctionID != tx.auction.AuctionID {
		return fmt.Errorf("update auction %s: %w - got %q", tx.auction.AuctionID, biddingerrors.ErrInvalidAuction, auction.AuctionID)
	}
	tx.auction = auction
	return nil
}

// checkOrder enforces the ledger's total order for an entry following last
func checkOrder(last model.Bid, hasLast bool, bid model.Bid) error {
	wantSeq := int64(1)
	if hasLast {
		wantSeq = last.Sequence + 1
	}
	if bid.Sequence != wantSeq {
		return fmt.Errorf("append bid %s: %w - sequence %d, want %d", bid.BidID, biddingerrors.ErrConflict, bid.Sequence, wantSeq)
	}
	if hasLast && !bid.CreatedAt.After(last.CreatedAt) {
		return fmt.Errorf("append bid %s: %w - created_at %s not after %s", bid.BidID, biddingerrors.ErrConflict,
			bid.CreatedAt.Format(time.RFC3339Nano), last.CreatedAt.Format(time.RFC3339Nano))
	}
	return nil
}

func leadingOf(bids []model.Bid) (model.Bid, bool) {
	if len(bids) == 0 {
		return model.Bid{}, false
	}
	leading := bids[0]
	for _, b := range bids[1:] {
		if leads(b, leading) {
			leading = b
		}
	}
	return leading, true
}

func closedAt(a model.Auction) time.Time {
	if a.ClosedAt == nil {
		return time.Time{}
	}
	return *a.ClosedAt
}
