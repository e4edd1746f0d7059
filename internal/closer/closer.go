// Package closer finalizes auctions whose end time has passed and hands sold
// auctions to the order initiator.
package closer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/auction"
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/clock"
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/internal/orders"
	"auction-engine/internal/repository"
	"auction-engine/utils"
)

const (
	DefaultInterval  = 2 * time.Second
	DefaultBatchSize = 100
)

// Result is the outcome of one finalize attempt
type Result string

const (
	ResultSold    Result = "sold"
	ResultEnded   Result = "ended"
	ResultSkipped Result = "skipped"
)

// Closer polls for expired auctions. It runs as a supervised service; Wake
// triggers an early cycle.
type Closer struct {
	repo      repository.AuctionDB
	notifier  orders.Notifier
	clock     clock.Clock
	interval  time.Duration
	batchSize int
	wake      chan struct{}
}

// Option configures a Closer
type Option func(*Closer)

func WithClock(c clock.Clock) Option {
	return func(cl *Closer) { cl.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(cl *Closer) {
		if d > 0 {
			cl.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(cl *Closer) {
		if n > 0 {
			cl.batchSize = n
		}
	}
}

// New builds a closer over repo that reports sales to notifier
func New(repo repository.AuctionDB, notifier orders.Notifier, opts ...Option) *Closer {
	c := &Closer{
		repo:      repo,
		notifier:  notifier,
		clock:     clock.NewSystem(),
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Serve implements suture.Service
func (c *Closer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	utils.Info("auction closer started", map[string]any{"interval": c.interval.String(), "batch_size": c.batchSize})
	for {
		c.RunOnce(ctx)

		select {
		case <-ctx.Done():
			utils.Info("auction closer stopped", nil)
			return ctx.Err()
		case <-ticker.C:
		case <-c.wake:
		}
	}
}

func (c *Closer) String() string {
	return "auction-closer"
}

// Wake asks for a cycle as soon as the current one finishes. It never blocks.
func (c *Closer) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// RunOnce finalizes one batch of expired auctions and then dispatches pending
// notifications. Failures are logged and retried on the next cycle.
func (c *Closer) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.CloserCycleDuration.Observe(time.Since(start).Seconds()) }()

	ids, err := c.repo.ListExpiredActive(ctx, c.clock.Now(), c.batchSize)
	if err != nil {
		utils.Error("closer: failed to list expired auctions", map[string]any{"error": err.Error()})
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		result, err := c.FinalizeAuction(ctx, id)
		if err != nil {
			metrics.Finalizations.WithLabelValues("error").Inc()
			utils.Warn("closer: failed to finalize auction", map[string]any{"auction_id": id, "error": err.Error()})
			continue
		}
		metrics.Finalizations.WithLabelValues(string(result)).Inc()
	}

	c.dispatchPending(ctx)
}

// FinalizeAuction closes an auction whose end time has passed. Auctions that
// are no longer active, or whose end time moved into the future, are skipped,
// so repeated calls have no further effect.
func (c *Closer) FinalizeAuction(ctx context.Context, auctionID string) (Result, error) {
	result := ResultSkipped
	var closed model.Auction

	err := c.repo.WithAuctionLock(ctx, auctionID, func(tx repository.AuctionTx) error {
		a := tx.Auction()
		now := c.clock.Now().UTC().Truncate(time.Microsecond)
		if a.Status != model.StatusActive || a.EndTime.After(now) {
			return nil
		}

		leading, ok, err := tx.LeadingBid(ctx)
		if err != nil {
			return fmt.Errorf("read leading bid: %w", err)
		}
		if ok {
			if err := auction.Sell(&a, leading.BidderID, a.CurrentPrice, now); err != nil {
				return err
			}
			result = ResultSold
		} else {
			if err := auction.End(&a, now); err != nil {
				return err
			}
			result = ResultEnded
		}
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}
		closed = a
		return nil
	})
	if err != nil {
		if errors.Is(err, biddingerrors.ErrTimeout) {
			metrics.LockTimeouts.WithLabelValues("finalize").Inc()
		}
		return ResultSkipped, fmt.Errorf("closer: finalize auction %s: %w", auctionID, err)
	}

	if result != ResultSkipped {
		utils.Info("auction finalized", map[string]any{
			"auction_id":  auctionID,
			"status":      closed.Status,
			"winner_id":   closed.WinnerID,
			"final_price": closed.CurrentPrice.StringFixed(2),
		})
	}
	return result, nil
}

// dispatchPending notifies the order initiator of every sold auction it has
// not acknowledged yet, buy-now sales included. The acknowledgement is stored
// only after a successful notify.
func (c *Closer) dispatchPending(ctx context.Context) {
	pending, err := c.repo.ListPendingNotifications(ctx, c.batchSize)
	if err != nil {
		utils.Error("closer: failed to list pending notifications", map[string]any{"error": err.Error()})
		return
	}

	for _, a := range pending {
		if ctx.Err() != nil {
			return
		}
		event := model.AuctionClosed{
			AuctionID:  a.AuctionID,
			WinnerID:   a.WinnerID,
			SellerID:   a.SellerID,
			FinalPrice: a.CurrentPrice,
		}
		if a.ClosedAt != nil {
			event.ClosedAt = *a.ClosedAt
		}

		if err := c.notifier.Notify(ctx, event); err != nil {
			metrics.Notifications.WithLabelValues("error").Inc()
			utils.Warn("closer: order initiator notify failed", map[string]any{"auction_id": a.AuctionID, "error": err.Error()})
			if errors.Is(err, orders.ErrUnavailable) {
				return
			}
			continue
		}
		metrics.Notifications.WithLabelValues("sent").Inc()

		if err := c.repo.MarkNotified(ctx, a.AuctionID, c.clock.Now()); err != nil {
			utils.Error("closer: failed to record notification", map[string]any{"auction_id": a.AuctionID, "error": err.Error()})
		}
	}
}
