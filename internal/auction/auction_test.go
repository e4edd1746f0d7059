package auction

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// Helper to create an active auction
func newActive(starting, step string) models.Auction {
	return models.Auction{
		AuctionID:     "auction1",
		SellerID:      "seller1",
		Title:         "Camera",
		StartingPrice: d(starting),
		CurrentPrice:  d(starting),
		StepPrice:     d(step),
		Status:        models.StatusActive,
		CreatedAt:     baseTime,
		EndTime:       baseTime.Add(time.Hour),
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	valid := models.NewAuction{
		SellerID:      "seller1",
		Title:         "Lamp",
		StartingPrice: d("100"),
		StepPrice:     d("10"),
		EndTime:       baseTime.Add(time.Hour),
	}

	tests := []struct {
		name    string
		mutate  func(*models.NewAuction)
		wantErr error
	}{
		{name: "valid", mutate: func(*models.NewAuction) {}},
		{name: "missing_seller", mutate: func(in *models.NewAuction) { in.SellerID = " " }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "missing_title", mutate: func(in *models.NewAuction) { in.Title = "" }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "zero_starting_price", mutate: func(in *models.NewAuction) { in.StartingPrice = decimal.Zero }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "negative_step", mutate: func(in *models.NewAuction) { in.StepPrice = d("-1") }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "buy_now_below_start", mutate: func(in *models.NewAuction) { in.BuyNowPrice = decimal.NewNullDecimal(d("100")) }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "buy_now_above_start", mutate: func(in *models.NewAuction) { in.BuyNowPrice = decimal.NewNullDecimal(d("500")) }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			in := valid
			tc.mutate(&in)
			a, err := New("auction1", in, baseTime)
			if tc.wantErr != nil {
				require.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, models.StatusPending, a.Status)
			require.True(t, a.CurrentPrice.Equal(a.StartingPrice))
		})
	}
}

func TestNew_RoundsPrices(t *testing.T) {
	t.Parallel()

	a, err := New("a", models.NewAuction{
		SellerID:      "s",
		Title:         "t",
		StartingPrice: d("10.005"),
		StepPrice:     d("0.999"),
		EndTime:       baseTime.Add(time.Minute),
	}, baseTime)
	require.NoError(t, err)
	require.Equal(t, "10.01", a.StartingPrice.StringFixed(2))
	require.Equal(t, "1.00", a.StepPrice.StringFixed(2))
}

func TestActivate(t *testing.T) {
	t.Parallel()

	a := newActive("100", "10")
	a.Status = models.StatusPending
	require.NoError(t, Activate(&a, baseTime))
	require.Equal(t, models.StatusActive, a.Status)

	past := newActive("100", "10")
	past.Status = models.StatusPending
	past.EndTime = baseTime
	err := Activate(&past, baseTime)
	require.True(t, errors.Is(err, biddingerrors.ErrInvalidAuction))
	require.Equal(t, models.StatusPending, past.Status)

	require.True(t, errors.Is(Activate(&a, baseTime), biddingerrors.ErrInvalidTransition))
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	t.Run("sell_sets_winner_once", func(t *testing.T) {
		t.Parallel()
		a := newActive("100", "10")
		a.BidCount = 1
		require.NoError(t, Sell(&a, "bidder1", d("150"), baseTime))
		require.Equal(t, models.StatusSold, a.Status)
		require.Equal(t, "bidder1", a.WinnerID)
		require.NotNil(t, a.ClosedAt)

		err := Sell(&a, "bidder2", d("200"), baseTime)
		require.True(t, errors.Is(err, biddingerrors.ErrInvalidTransition))
		require.Equal(t, "bidder1", a.WinnerID)
	})

	t.Run("sell_rejects_lower_price", func(t *testing.T) {
		t.Parallel()
		a := newActive("100", "10")
		err := Sell(&a, "bidder1", d("90"), baseTime)
		require.True(t, errors.Is(err, biddingerrors.ErrInvalidTransition))
		require.Equal(t, models.StatusActive, a.Status)
		require.Empty(t, a.WinnerID)
	})

	t.Run("end_without_bids", func(t *testing.T) {
		t.Parallel()
		a := newActive("100", "10")
		require.NoError(t, End(&a, baseTime))
		require.Equal(t, models.StatusEnded, a.Status)
		require.Empty(t, a.WinnerID)
	})

	t.Run("end_with_bids_refused", func(t *testing.T) {
		t.Parallel()
		a := newActive("100", "10")
		a.BidCount = 2
		require.True(t, errors.Is(End(&a, baseTime), biddingerrors.ErrInvalidTransition))
	})

	t.Run("cancel_rules", func(t *testing.T) {
		t.Parallel()
		a := newActive("100", "10")
		require.NoError(t, Cancel(&a, baseTime))
		require.Equal(t, models.StatusCancelled, a.Status)
		require.True(t, errors.Is(Cancel(&a, baseTime), biddingerrors.ErrCannotCancel))

		b := newActive("100", "10")
		b.BidCount = 1
		require.True(t, errors.Is(Cancel(&b, baseTime), biddingerrors.ErrCannotCancel))
	})

	t.Run("terminal_states_are_final", func(t *testing.T) {
		t.Parallel()
		for _, s := range []models.AuctionStatus{models.StatusSold, models.StatusEnded, models.StatusCancelled} {
			a := newActive("100", "10")
			a.Status = s
			require.True(t, errors.Is(End(&a, baseTime), biddingerrors.ErrInvalidTransition), s)
			require.True(t, errors.Is(ApplyPrice(&a, d("500")), biddingerrors.ErrAuctionNotActive), s)
			require.Equal(t, s, a.Status)
		}
	})
}

func TestResolve(t *testing.T) {
	t.Parallel()

	leader := func(bidder, ceiling string) *models.Bid {
		return &models.Bid{BidderID: bidder, MaxProxyAmount: d(ceiling)}
	}

	tests := []struct {
		name       string
		current    string
		buyNow     string
		leading    *models.Bid
		proxy      string
		wantLeader string
		wantPrice  string
		wantKinds  []models.BidKind
		wantBuyNow bool
	}{
		{
			name: "first_bid_opens_at_starting_price", current: "100", proxy: "200",
			wantLeader: "b1", wantPrice: "100", wantKinds: []models.BidKind{models.BidKindManual},
		},
		{
			name: "overtake_pays_one_step_over_ceiling", current: "100", leading: leader("b1", "200"), proxy: "300",
			wantLeader: "b2", wantPrice: "210", wantKinds: []models.BidKind{models.BidKindManual},
		},
		{
			name: "overtake_inside_one_step_pays_own_ceiling", current: "100", leading: leader("b1", "200"), proxy: "205",
			wantLeader: "b2", wantPrice: "205", wantKinds: []models.BidKind{models.BidKindManual},
		},
		{
			name: "lower_challenger_triggers_counter", current: "100", leading: leader("b1", "200"), proxy: "150",
			wantLeader: "b1", wantPrice: "160", wantKinds: []models.BidKind{models.BidKindOutbid, models.BidKindAuto},
		},
		{
			name: "counter_capped_at_ceiling", current: "100", leading: leader("b1", "200"), proxy: "195",
			wantLeader: "b1", wantPrice: "200", wantKinds: []models.BidKind{models.BidKindOutbid, models.BidKindAuto},
		},
		{
			name: "equal_ceiling_keeps_earlier_leader", current: "100", leading: leader("b1", "200"), proxy: "200",
			wantLeader: "b1", wantPrice: "200", wantKinds: []models.BidKind{models.BidKindAuto, models.BidKindOutbid},
		},
		{
			name: "first_bid_over_buy_now_sells", current: "100", buyNow: "500", proxy: "600",
			wantLeader: "b1", wantPrice: "500", wantKinds: []models.BidKind{models.BidKindManual}, wantBuyNow: true,
		},
		{
			name: "overtake_clamped_to_buy_now", current: "300", buyNow: "500", leading: leader("b1", "490"), proxy: "800",
			wantLeader: "b2", wantPrice: "500", wantKinds: []models.BidKind{models.BidKindManual}, wantBuyNow: true,
		},
		{
			name: "counter_below_buy_now_does_not_sell", current: "100", buyNow: "500", leading: leader("b1", "450"), proxy: "300",
			wantLeader: "b1", wantPrice: "310", wantKinds: []models.BidKind{models.BidKindOutbid, models.BidKindAuto},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := newActive("100", "10")
			a.CurrentPrice = d(tc.current)
			if tc.buyNow != "" {
				a.BuyNowPrice = decimal.NewNullDecimal(d(tc.buyNow))
			}
			bidder := "b2"
			if tc.leading == nil {
				bidder = "b1"
			}

			res := Resolve(a, tc.leading, bidder, d(tc.proxy))
			require.Equal(t, tc.wantLeader, res.LeaderID)
			require.True(t, res.Price.Equal(d(tc.wantPrice)), "price %s", res.Price)
			require.Equal(t, tc.wantBuyNow, res.BuyNow)

			kinds := make([]models.BidKind, 0, len(res.Entries))
			for _, e := range res.Entries {
				kinds = append(kinds, e.Kind)
			}
			require.Equal(t, tc.wantKinds, kinds)
			require.Equal(t, bidder, res.Entries[res.CallerIndex].BidderID)
			require.Equal(t, bidder == tc.wantLeader, res.CallerLeading())
		})
	}
}

func TestMinimumBid_BuyNowBelowNextStep(t *testing.T) {
	t.Parallel()

	a := newActive("100", "10")
	a.CurrentPrice = d("495")
	a.BuyNowPrice = decimal.NewNullDecimal(d("500"))
	require.True(t, MinimumBid(a).Equal(d("500")))

	a.BuyNowPrice = decimal.NewNullDecimal(d("900"))
	require.True(t, MinimumBid(a).Equal(d("505")))
}

// TestResolve_RandomSequences replays random ceilings and checks that the
// price never falls, never exceeds the leader's ceiling, and that the highest
// ceiling seen so far always holds the lead (earliest wins ties).
func TestResolve_RandomSequences(t *testing.T) {
	t.Parallel()

	for seed := uint64(1); seed <= 50; seed++ {
		seed := seed
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			t.Parallel()
			rng := rand.New(rand.NewPCG(seed, seed*7))

			a := newActive("100", "5")
			ceilings := map[string]decimal.Decimal{}
			var leading *models.Bid
			bestBidder, best := "", decimal.Zero

			for i := 0; i < 40; i++ {
				bidder := fmt.Sprintf("bidder-%d", rng.IntN(6))
				if leading != nil && leading.BidderID == bidder {
					continue
				}
				proxy := MinimumBid(a).Add(decimal.NewFromInt(int64(rng.IntN(80))))

				res := Resolve(a, leading, bidder, proxy)
				require.False(t, res.Price.LessThan(a.CurrentPrice), "price fell")
				require.NoError(t, ApplyPrice(&a, res.Price))
				a.BidCount += len(res.Entries)

				ceilings[bidder] = proxy
				if proxy.GreaterThan(best) {
					best, bestBidder = proxy, bidder
				}

				require.Equal(t, bestBidder, res.LeaderID)
				require.False(t, a.CurrentPrice.GreaterThan(ceilings[res.LeaderID]), "price above leader ceiling")

				leading = &models.Bid{BidderID: res.LeaderID, MaxProxyAmount: ceilings[res.LeaderID]}
			}
		})
	}
}

func TestExtendPolicy(t *testing.T) {
	t.Parallel()

	window := 5 * time.Minute
	tests := []struct {
		name       string
		autoExtend bool
		remaining  time.Duration
		wantMoved  bool
		wantEnd    time.Duration
	}{
		{name: "disabled", autoExtend: false, remaining: time.Minute, wantEnd: time.Minute},
		{name: "outside_window", autoExtend: true, remaining: 10 * time.Minute, wantEnd: 10 * time.Minute},
		{name: "inside_window", autoExtend: true, remaining: 2 * time.Minute, wantMoved: true, wantEnd: window},
		{name: "exactly_at_window", autoExtend: true, remaining: window, wantEnd: window},
		{name: "last_second", autoExtend: true, remaining: time.Second, wantMoved: true, wantEnd: window},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := newActive("100", "10")
			a.AutoExtend = tc.autoExtend
			a.EndTime = baseTime.Add(tc.remaining)

			moved := ExtendPolicy{Window: window}.Apply(&a, baseTime)
			require.Equal(t, tc.wantMoved, moved)
			require.Equal(t, baseTime.Add(tc.wantEnd), a.EndTime)
		})
	}
}
