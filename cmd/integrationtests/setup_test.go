package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/clock"
	"auction-engine/internal/closer"
	"auction-engine/internal/idempotency"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"

	"github.com/gin-gonic/gin"
)

var start = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// capturedOrders records close events handed to the order initiator
type capturedOrders struct {
	mu     sync.Mutex
	events []model.AuctionClosed
}

func (c *capturedOrders) Notify(_ context.Context, event model.AuctionClosed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturedOrders) Events() []model.AuctionClosed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.AuctionClosed(nil), c.events...)
}

// TestEnv is the full stack over the in-memory repository with a manual clock
type TestEnv struct {
	Router *gin.Engine
	Clock  *clock.Manual
	Closer *closer.Closer
	Orders *capturedOrders
}

// SetupTestEnv wires router, bidding service and closer the way main does
func SetupTestEnv() *TestEnv {
	gin.SetMode(gin.TestMode)
	repo := repository.NewMemoryRepo()
	env := &TestEnv{Clock: clock.NewManual(start), Orders: &capturedOrders{}}
	env.Closer = closer.New(repo, env.Orders, closer.WithClock(env.Clock))
	service := bidding.NewBiddingService(repo, bidding.WithClock(env.Clock), bidding.WithOnSold(env.Closer.Wake))
	env.Router = server.SetupRouter(service, idempotency.NewMemoryStore(time.Hour), nil)
	return env
}

// ExecuteRequestAndParse executes an HTTP request on the given router and
// returns the decoded envelope
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}
	return resp, w
}

// Data returns the envelope's data object
func Data(resp map[string]any) map[string]any {
	d, _ := resp["data"].(map[string]any)
	return d
}
