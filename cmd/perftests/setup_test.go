package perftests

import (
	"context"
	"fmt"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"

	"github.com/shopspring/decimal"
)

// setupService creates a bidding service over the memory repository with
// numAuctions open auctions, returning their ids
func setupService(tb testing.TB, numAuctions int) (*bidding.BiddingService, []string) {
	tb.Helper()
	svc := bidding.NewBiddingService(repository.NewMemoryRepo(), bidding.WithLockTimeout(5*time.Second))
	ids := make([]string, 0, numAuctions)
	for i := 0; i < numAuctions; i++ {
		a, err := svc.CreateAuction(context.Background(), model.NewAuction{
			SellerID:      "seller",
			Title:         fmt.Sprintf("Load test auction %d", i),
			StartingPrice: decimal.NewFromInt(100),
			StepPrice:     decimal.NewFromInt(1),
			EndTime:       time.Now().Add(time.Hour),
		})
		if err != nil {
			tb.Fatalf("failed to create auction: %v", err)
		}
		ids = append(ids, a.AuctionID)
	}
	return svc, ids
}
