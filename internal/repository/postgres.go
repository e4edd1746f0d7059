package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auctionColumns = `auction_id, seller_id, category_id, title, description,
	starting_price, current_price, step_price, buy_now_price, auto_extend, status,
	winner_id, bid_count, created_at, end_time, closed_at, notified_at`

const bidColumns = `bid_id, auction_id, bidder_id, amount, max_proxy_amount, kind, sequence, created_at`

// Connect opens a pgx pool and verifies the server is reachable
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresRepo implements AuctionDB on Postgres. The auction row lock taken with
// SELECT ... FOR UPDATE is the exclusive section.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo wraps an open pool
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// Ping reports whether the database answers
func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepo) CreateAuction(ctx context.Context, a model.Auction) error {
	const query = `
INSERT INTO auctions (` + auctionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.pool.Exec(ctx, query, auctionArgs(a)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create auction %s: %w - id already in use", a.AuctionID, biddingerrors.ErrConflict)
		}
		if isCheckViolation(err) {
			return fmt.Errorf("create auction %s: %w - %v", a.AuctionID, biddingerrors.ErrInvalidAuction, err)
		}
		return fmt.Errorf("create auction %s: %w", a.AuctionID, err)
	}
	return nil
}

func (r *PostgresRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	a, err := scanAuction(r.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id = $1`, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return a, nil
}

func (r *PostgresRepo) History(ctx context.Context, auctionID string) iter.Seq2[model.Bid, error] {
	return func(yield func(model.Bid, error) bool) {
		rows, err := r.pool.Query(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY sequence`, auctionID)
		if err != nil {
			yield(model.Bid{}, fmt.Errorf("bid history for auction %s: %w", auctionID, err))
			return
		}
		defer rows.Close()

		seen := 0
		for rows.Next() {
			b, err := scanBid(rows)
			if err != nil {
				yield(model.Bid{}, fmt.Errorf("bid history for auction %s: %w", auctionID, err))
				return
			}
			seen++
			if !yield(b, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Bid{}, fmt.Errorf("bid history for auction %s: %w", auctionID, err))
			return
		}
		if seen == 0 {
			if err := r.ensureAuction(ctx, r.pool, auctionID); err != nil {
				yield(model.Bid{}, fmt.Errorf("bid history for auction %s: %w", auctionID, err))
			}
		}
	}
}

func (r *PostgresRepo) GetLeadingBid(ctx context.Context, auctionID string) (model.Bid, error) {
	b, ok, err := leadingBid(ctx, r.pool, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("get leading bid for auction %s: %w", auctionID, err)
	}
	if !ok {
		if err := r.ensureAuction(ctx, r.pool, auctionID); err != nil {
			return model.Bid{}, fmt.Errorf("get leading bid for auction %s: %w", auctionID, err)
		}
		return model.Bid{}, fmt.Errorf("get leading bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return b, nil
}

func (r *PostgresRepo) GetAuctionsByBidder(ctx context.Context, bidderID string) ([]model.Auction, error) {
	const query = `
SELECT ` + auctionColumns + `
FROM auctions
JOIN (
	SELECT auction_id, MIN(sequence) AS first_seq, MIN(created_at) AS first_bid_at
	FROM bids WHERE bidder_id = $1 GROUP BY auction_id
) mine USING (auction_id)
ORDER BY mine.first_bid_at, auction_id`

	rows, err := r.pool.Query(ctx, query, bidderID)
	if err != nil {
		return nil, fmt.Errorf("get auctions for bidder %s: %w", bidderID, err)
	}
	auctions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Auction, error) {
		return scanAuction(row)
	})
	if err != nil {
		return nil, fmt.Errorf("get auctions for bidder %s: %w", bidderID, err)
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("get auctions for bidder %s: %w", bidderID, biddingerrors.ErrBidderNoAuctions)
	}
	return auctions, nil
}

func (r *PostgresRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT auction_id FROM auctions WHERE status = 'active' AND end_time <= $1 ORDER BY end_time LIMIT $2`,
		now, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepo) ListPendingNotifications(ctx context.Context, limit int) ([]model.Auction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status = 'sold' AND notified_at IS NULL ORDER BY closed_at LIMIT $1`,
		limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	auctions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Auction, error) {
		return scanAuction(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return auctions, nil
}

func (r *PostgresRepo) MarkNotified(ctx context.Context, auctionID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE auctions SET notified_at = $2 WHERE auction_id = $1 AND notified_at IS NULL`, auctionID, at)
	if err != nil {
		return fmt.Errorf("mark auction %s notified: %w", auctionID, err)
	}
	if tag.RowsAffected() == 0 {
		if err := r.ensureAuction(ctx, r.pool, auctionID); err != nil {
			return fmt.Errorf("mark auction %s notified: %w", auctionID, err)
		}
	}
	return nil
}

// WithAuctionLock locks the auction row for the duration of fn. The lock wait
// is bounded by the context deadline through SET LOCAL lock_timeout.
func (r *PostgresRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("lock auction %s: %w", auctionID, mapLockErr(err))
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if deadline, ok := ctx.Deadline(); ok {
		wait := time.Until(deadline).Milliseconds()
		if wait < 1 {
			return fmt.Errorf("lock auction %s: %w", auctionID, biddingerrors.ErrTimeout)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait)); err != nil {
			return fmt.Errorf("lock auction %s: %w", auctionID, mapLockErr(err))
		}
	}

	a, err := scanAuction(tx.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id = $1 FOR UPDATE`, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return fmt.Errorf("lock auction %s: %w", auctionID, mapLockErr(err))
	}

	if err := fn(&postgresTx{tx: tx, auction: a}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit auction %s: %w", auctionID, mapLockErr(err))
	}
	return nil
}

// querier is satisfied by both the pool and an open transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepo) ensureAuction(ctx context.Context, q querier, auctionID string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auctions WHERE auction_id = $1)`, auctionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return biddingerrors.ErrAuctionNotFound
	}
	return nil
}

type postgresTx struct {
	tx      pgx.Tx
	auction model.Auction
}

func (t *postgresTx) Auction() model.Auction {
	return t.auction
}

func (t *postgresTx) LeadingBid(ctx context.Context) (model.Bid, bool, error) {
	return leadingBid(ctx, t.tx, t.auction.AuctionID)
}

func (t *postgresTx) LastBid(ctx context.Context) (model.Bid, bool, error) {
	b, err := scanBid(t.tx.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY sequence DESC LIMIT 1`, t.auction.AuctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Bid{}, false, nil
		}
		return model.Bid{}, false, fmt.Errorf("last bid for auction %s: %w", t.auction.AuctionID, err)
	}
	return b, true, nil
}

func (t *postgresTx) AppendBid(ctx context.Context, bid model.Bid) error {
	if bid.AuctionID != t.auction.AuctionID {
		return fmt.Errorf("append bid to auction %s: %w - bid belongs to %q",
			t.auction.AuctionID, biddingerrors.ErrInvalidBid, bid.AuctionID)
	}
	last, ok, err := t.LastBid(ctx)
	if err != nil {
		return err
	}
	if err := checkOrder(last, ok, bid); err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `INSERT INTO bids (`+bidColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		bid.BidID, bid.AuctionID, bid.BidderID, bid.Amount, bid.MaxProxyAmount, string(bid.Kind), bid.Sequence, bid.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("append bid %s: %w - %v", bid.BidID, biddingerrors.ErrConflict, err)
		}
		return fmt.Errorf("append bid %s: %w", bid.BidID, err)
	}
	return nil
}

func (t *postgresTx) UpdateAuction(ctx context.Context, a model.Auction) error {
	if a.AuctionID != t.auction.AuctionID {
		return fmt.Errorf("update auction %s: %w - got %q", t.auction.AuctionID, biddingerrors.ErrInvalidAuction, a.AuctionID)
	}
	const query = `
UPDATE auctions SET
	current_price = $2, status = $3, winner_id = $4, bid_count = $5,
	end_time = $6, closed_at = $7, notified_at = $8
WHERE auction_id = $1`

	_, err := t.tx.Exec(ctx, query,
		a.AuctionID, a.CurrentPrice, string(a.Status), nullableString(a.WinnerID), a.BidCount,
		a.EndTime, a.ClosedAt, a.NotifiedAt)
	if err != nil {
		return fmt.Errorf("update auction %s: %w", a.AuctionID, err)
	}
	t.auction = a
	return nil
}

func leadingBid(ctx context.Context, q querier, auctionID string) (model.Bid, bool, error) {
	b, err := scanBid(q.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY amount DESC, sequence ASC LIMIT 1`, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Bid{}, false, nil
		}
		return model.Bid{}, false, err
	}
	return b, true, nil
}

func scanAuction(row pgx.Row) (model.Auction, error) {
	var (
		a        model.Auction
		status   string
		winnerID *string
	)
	err := row.Scan(&a.AuctionID, &a.SellerID, &a.CategoryID, &a.Title, &a.Description,
		&a.StartingPrice, &a.CurrentPrice, &a.StepPrice, &a.BuyNowPrice, &a.AutoExtend, &status,
		&winnerID, &a.BidCount, &a.CreatedAt, &a.EndTime, &a.ClosedAt, &a.NotifiedAt)
	if err != nil {
		return model.Auction{}, err
	}
	a.Status = model.AuctionStatus(status)
	if winnerID != nil {
		a.WinnerID = *winnerID
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.EndTime = a.EndTime.UTC()
	return a, nil
}

func scanBid(row pgx.Row) (model.Bid, error) {
	var (
		b    model.Bid
		kind string
	)
	if err := row.Scan(&b.BidID, &b.AuctionID, &b.BidderID, &b.Amount, &b.MaxProxyAmount, &kind, &b.Sequence, &b.CreatedAt); err != nil {
		return model.Bid{}, err
	}
	b.Kind = model.BidKind(kind)
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func auctionArgs(a model.Auction) []any {
	return []any{
		a.AuctionID, a.SellerID, a.CategoryID, a.Title, a.Description,
		a.StartingPrice, a.CurrentPrice, a.StepPrice, a.BuyNowPrice, a.AutoExtend, string(a.Status),
		nullableString(a.WinnerID), a.BidCount, a.CreatedAt, a.EndTime, a.ClosedAt, a.NotifiedAt,
	}
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// limitOrAll turns a non-positive limit into Postgres' LIMIT ALL
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

// mapLockErr folds lock waits that ran out of time into ErrTimeout
func mapLockErr(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && (pgErr.Code == "55P03" || pgErr.Code == "57014"):
		return fmt.Errorf("%w: %v", biddingerrors.ErrTimeout, err)
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return fmt.Errorf("%w: %v", biddingerrors.ErrTimeout, err)
	default:
		return err
	}
}
