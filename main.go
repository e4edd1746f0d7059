package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/closer"
	"auction-engine/internal/config"
	"auction-engine/internal/idempotency"
	model "auction-engine/internal/models"
	"auction-engine/internal/orders"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/utils"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		utils.Warn("failed to read .env file", map[string]any{"error": err.Error()})
	}

	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("failed to load configuration", map[string]any{"error": err.Error()})
	}
	utils.Configure(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && ctx.Err() == nil {
		utils.Fatal("auction engine stopped", map[string]any{"error": err.Error()})
	}
	utils.Info("auction engine stopped", nil)
}

func run(ctx context.Context, cfg *config.Config) error {
	checks := map[string]server.HealthCheck{}

	repo, closeRepo, err := openRepository(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeRepo()

	notifier, closeNotifier := openNotifier(cfg)
	defer closeNotifier()

	idem, closeIdem, err := openIdempotency(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeIdem()

	auctionCloser := closer.New(repo, notifier,
		closer.WithInterval(cfg.Closer.Interval),
		closer.WithBatchSize(cfg.Closer.BatchSize),
	)
	biddingSvc := bidding.NewBiddingService(repo,
		bidding.WithLockTimeout(cfg.Bidding.LockTimeout),
		bidding.WithExtendWindow(cfg.Bidding.ExtendWindow),
		bidding.WithOnSold(auctionCloser.Wake),
	)

	if cfg.Bidding.SeedDemo {
		seedDemoAuctions(ctx, biddingSvc)
	}

	router := server.SetupRouter(biddingSvc, idem, checks)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sup := server.NewSupervisor(cfg.ServiceName, cfg.Server.ShutdownTimeout)
	sup.Add(auctionCloser)
	sup.Add(server.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	utils.Info("starting auction engine", map[string]any{
		"addr":    cfg.Server.Addr,
		"storage": cfg.Storage.Driver,
		"kafka":   cfg.Kafka.Enabled,
		"redis":   cfg.Redis.Enabled,
	})
	return sup.Serve(ctx)
}

func openRepository(ctx context.Context, cfg *config.Config, checks map[string]server.HealthCheck) (repository.AuctionDB, func(), error) {
	if cfg.Storage.Driver != "postgres" {
		return repository.NewMemoryRepo(), func() {}, nil
	}

	pool, err := repository.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	repo := repository.NewPostgresRepo(pool)
	checks["postgres"] = repo.Ping
	return repo, pool.Close, nil
}

func openNotifier(cfg *config.Config) (orders.Notifier, func()) {
	if !cfg.Kafka.Enabled {
		return orders.LogNotifier{}, func() {}
	}
	n := orders.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.ServiceName, orders.BreakerSettings{
		FailureThreshold: cfg.Kafka.BreakerFailures,
		OpenTimeout:      cfg.Kafka.BreakerOpenAfter,
	})
	return n, func() {
		if err := n.Close(); err != nil {
			utils.Warn("failed to close kafka writer", map[string]any{"error": err.Error()})
		}
	}
}

func openIdempotency(ctx context.Context, cfg *config.Config, checks map[string]server.HealthCheck) (idempotency.Store, func(), error) {
	if !cfg.Redis.Enabled {
		return idempotency.NewMemoryStore(cfg.Redis.TTL), func() {}, nil
	}
	rdb, err := idempotency.NewRedisClient(ctx, cfg.Redis.Addr)
	if err != nil {
		return nil, nil, err
	}
	checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	return idempotency.NewRedisStore(rdb, cfg.ServiceName, cfg.Redis.TTL), func() { _ = rdb.Close() }, nil
}

// seedDemoAuctions opens a few auctions for local testing
func seedDemoAuctions(ctx context.Context, svc *bidding.BiddingService) {
	end := time.Now().Add(30 * time.Minute)
	demos := []model.NewAuction{
		{SellerID: "seller1", Title: "Vintage guitar", StartingPrice: decimal.NewFromInt(100), StepPrice: decimal.NewFromInt(10), EndTime: end, AutoExtend: true},
		{SellerID: "seller1", Title: "Film camera", StartingPrice: decimal.NewFromInt(200), StepPrice: decimal.NewFromInt(5), EndTime: end.Add(time.Hour)},
		{
			SellerID: "seller2", Title: "Road bike", StartingPrice: decimal.NewFromInt(150), StepPrice: decimal.NewFromInt(25),
			BuyNowPrice: decimal.NewNullDecimal(decimal.NewFromInt(600)), EndTime: end.Add(2 * time.Hour),
		},
	}
	for _, in := range demos {
		a, err := svc.CreateAuction(ctx, in)
		if err != nil {
			utils.Warn("failed to seed demo auction", map[string]any{"title": in.Title, "error": err.Error()})
			continue
		}
		utils.Info("seeded demo auction", map[string]any{"auction_id": a.AuctionID, "title": a.Title})
	}
}
