package server

import (
	"context"
	"net/http"
	"time"

	"auction-engine/internal/idempotency"
	handler "auction-engine/services/bidding/handler"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether a backing store is reachable
type HealthCheck func(ctx context.Context) error

// SetupRouter configures all Gin routes for the application. idem may be nil
// to disable Idempotency-Key handling.
func SetupRouter(biddingService handler.BiddingServiceInterface, idem idempotency.Store, checks map[string]HealthCheck) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware)
	router.Use(RequestLoggerMiddleware)

	biddingHandler := handler.NewBiddingHandler(biddingService)

	auctions := router.Group("/auctions")
	{
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.POST("/:auction_id/bids", IdempotencyMiddleware(idem), biddingHandler.PlaceBidHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidHistoryHandler)
		auctions.GET("/:auction_id/leading", biddingHandler.GetLeadingBidHandler)
		auctions.POST("/:auction_id/cancel", biddingHandler.CancelAuctionHandler)
	}

	users := router.Group("/users")
	{
		users.GET("/:user_id/auctions", biddingHandler.GetAuctionsByBidderHandler)
	}

	router.GET("/healthz", healthHandler(checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		message := "healthy"
		if status != http.StatusOK {
			message = "unhealthy"
			utils.Warn("health check failed", map[string]any{"checks": results})
		}
		utils.JSONResponse(c, status, results, message)
	}
}
