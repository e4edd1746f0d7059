package integrationtests

import (
	"net/http"
	"testing"
	"time"

	"auction-engine/services/bidding/helpers"

	"github.com/stretchr/testify/require"
)

func createAuction(t *testing.T, env *TestEnv, req helpers.CreateAuctionRequest) string {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, env.Router, http.MethodPost, "/auctions", req)
	require.Equal(t, http.StatusCreated, w.Code, resp)
	return Data(resp)["auction_id"].(string)
}

func guitar(end time.Time) helpers.CreateAuctionRequest {
	return helpers.CreateAuctionRequest{
		SellerID:      "seller",
		Title:         "Guitar",
		StartingPrice: 100,
		StepPrice:     10,
		EndTime:       end,
	}
}

func bid(t *testing.T, env *TestEnv, auctionID, bidderID string, ceiling float64) (map[string]any, int) {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, env.Router, http.MethodPost, "/auctions/"+auctionID+"/bids",
		helpers.PlaceBidRequest{BidderID: bidderID, MaxAmount: ceiling})
	return resp, w.Code
}

func TestProxyBiddingFlow(t *testing.T) {
	env := SetupTestEnv()
	id := createAuction(t, env, guitar(start.Add(time.Hour)))

	resp, code := bid(t, env, id, "X", 150)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, true, Data(resp)["is_leading"])
	require.Equal(t, 100.0, Data(resp)["current_price"])

	resp, code = bid(t, env, id, "Y", 120)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, false, Data(resp)["is_leading"])
	require.Equal(t, 130.0, Data(resp)["current_price"])

	resp, code = bid(t, env, id, "Y", 200)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, true, Data(resp)["is_leading"])
	require.Equal(t, 160.0, Data(resp)["current_price"])

	resp, w := ExecuteRequestAndParse(t, env.Router, http.MethodGet, "/auctions/"+id+"/bids", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := resp["data"].([]any)
	require.Len(t, history, 4)
	for i, raw := range history {
		entry := raw.(map[string]any)
		require.Equal(t, float64(i+1), entry["sequence"])
		require.NotContains(t, entry, "max_proxy_amount")
	}

	resp, w = ExecuteRequestAndParse(t, env.Router, http.MethodGet, "/auctions/"+id+"/leading", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Y", Data(resp)["bidder_id"])
	require.Equal(t, 160.0, Data(resp)["amount"])
}

func TestBidRejections(t *testing.T) {
	env := SetupTestEnv()
	id := createAuction(t, env, guitar(start.Add(time.Hour)))

	_, code := bid(t, env, id, "X", 150)
	require.Equal(t, http.StatusCreated, code)

	tests := []struct {
		name     string
		auction  string
		bidder   string
		ceiling  float64
		wantCode string
	}{
		{"Too_Low", id, "Y", 105, helpers.CodeBidTooLow},
		{"Self_Bid", id, "seller", 500, helpers.CodeSelfBid},
		{"Already_Leading", id, "X", 500, helpers.CodeAlreadyLeading},
		{"Unknown_Auction", "missing", "Y", 500, helpers.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := bid(t, env, tt.auction, tt.bidder, tt.ceiling)
			require.Equal(t, tt.wantCode, resp["code"])
		})
	}

	resp, _ := ExecuteRequestAndParse(t, env.Router, http.MethodGet, "/auctions/"+id, nil)
	require.Equal(t, 1.0, Data(resp)["bid_count"], "rejections leave no ledger entries")
}

func TestExpiryAndClose(t *testing.T) {
	env := SetupTestEnv()
	id := createAuction(t, env, guitar(start.Add(10*time.Minute)))
	idle := createAuction(t, env, guitar(start.Add(10*time.Minute)))

	_, code := bid(t, env, id, "X", 150)
	require.Equal(t, http.StatusCreated, code)
	_, code = bid(t, env, id, "Y", 120)
	require.Equal(t, http.StatusCreated, code)

	env.Clock.Advance(10 * time.Minute)
	resp, _ := bid(t, env, id, "Z", 500)
	require.Equal(t, helpers.CodeAuctionExpired, resp["code"])

	env.Closer.RunOnce(t.Context())

	resp, _ = ExecuteRequestAndParse(t, env.Router, http.MethodGet, "/auctions/"+id, nil)
	require.Equal(t, "sold", Data(resp)["status"])
	require.Equal(t, "X", Data(resp)["winner_id"])
	require.Equal(t, 130.0, Data(resp)["current_price"])

	resp, _ = ExecuteRequestAndParse(t, env.Router, http.MethodGet, "/auctions/"+idle, nil)
	require.Equal(t, "ended", Data(resp)["status"])
	require.NotContains(t, Data(resp), "winner_id")

	events := env.Orders.Events()
	require.Len(t, events, 1)
	require.Equal(t, id, events[0].AuctionID)
	require.Equal(t, "X", events[0].WinnerID)

	resp, _ = bid(t, env, id, "Z", 500)
	require.Equal(t, helpers.CodeAuctionNotActive, resp["code"])
}

func TestBuyNow(t *testing.T) {
	env := SetupTestEnv()
	req := guitar(start.Add(time.Hour))
	buyNow := 300.0
	req.BuyNowPrice = &buyNow
	id := createAuction(t, env, req)

	resp, code := bid(t, env, id, "X", 350)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "sold", Data(resp)["status"])
	require.Equal(t, 300.0, Data(resp)["current_price"])

	env.Closer.RunOnce(t.Context())
	require.Len(t, env.Orders.Events(), 1)
}

func TestAutoExtend(t *testing.T) {
	env := SetupTestEnv()
	req := guitar(start.Add(10 * time.Minute))
	req.AutoExtend = true
	id := createAuction(t, env, req)

	env.Clock.Advance(8 * time.Minute)
	resp, code := bid(t, env, id, "X", 150)
	require.Equal(t, http.StatusCreated, code)

	end, err := time.Parse(time.RFC3339Nano, Data(resp)["end_time"].(string))
	require.NoError(t, err)
	require.True(t, end.Equal(start.Add(13*time.Minute)), "end moves to bid time plus window, got %s", end)
}

func TestCancelAuction(t *testing.T) {
	env := SetupTestEnv()
	id := createAuction(t, env, guitar(start.Add(time.Hour)))

	resp, w := ExecuteRequestAndParse(t, env.Router, http.MethodPost, "/auctions/"+id+"/cancel", helpers.CancelAuctionRequest{SellerID: "someone"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, helpers.CodeNotSeller, resp["code"])

	resp, w = ExecuteRequestAndParse(t, env.Router, http.MethodPost, "/auctions/"+id+"/cancel", helpers.CancelAuctionRequest{SellerID: "seller"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "cancelled", Data(resp)["status"])

	resp, _ = bid(t, env, id, "X", 150)
	require.Equal(t, helpers.CodeAuctionNotActive, resp["code"])
}

func TestGetAuctionsByBidder(t *testing.T) {
	env := SetupTestEnv()
	a := createAuction(t, env, guitar(start.Add(time.Hour)))
	b := createAuction(t, env, guitar(start.Add(time.Hour)))

	_, code := bid(t, env, a, "X", 150)
	require.Equal(t, http.StatusCreated, code)
	_, code = bid(t, env, b, "X", 150)
	require.Equal(t, http.StatusCreated, code)

	resp, w := ExecuteRequestAndParse(t, env.Router, http.MethodGet, "/users/X/auctions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"].([]any), 2)

	resp, w = ExecuteRequestAndParse(t, env.Router, http.MethodGet, "/users/nobody/auctions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, resp["data"])
}

func TestInvalidRequests(t *testing.T) {
	env := SetupTestEnv()

	tests := []struct {
		name string
		url  string
		body any
	}{
		{"Invalid_JSON", "/auctions", "{seller_id: 'missing quotes'}"},
		{"Missing_Step", "/auctions", map[string]any{"seller_id": "s", "title": "t", "starting_price": 10, "end_time": start.Add(time.Hour)}},
		{"Past_End", "/auctions", guitar(start.Add(-time.Minute))},
		{"Buy_Now_Below_Start", "/auctions", func() helpers.CreateAuctionRequest {
			r := guitar(start.Add(time.Hour))
			v := 50.0
			r.BuyNowPrice = &v
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, w := ExecuteRequestAndParse(t, env.Router, http.MethodPost, tt.url, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, resp)
			require.Equal(t, helpers.CodeInvalidRequest, resp["code"])
		})
	}
}
