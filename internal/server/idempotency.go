package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"auction-engine/internal/idempotency"
	"auction-engine/internal/metrics"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

// capturingWriter keeps a copy of the body so it can be cached
type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// requestFingerprint identifies a bid request by its raw body, which carries
// the bidder and the ceiling
func requestFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// IdempotencyMiddleware replays the first response produced under an
// Idempotency-Key. Keys are scoped to the auction in the path and bound to the
// body of the first request; a different body under the same key is refused.
// Server-side failures and panics release the key so the client can retry.
func IdempotencyMiddleware(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" || store == nil {
			c.Next()
			return
		}
		scoped := c.Param("auction_id") + ":" + key
		ctx := c.Request.Context()

		body, err := c.GetRawData()
		if err != nil {
			helpers.HandleBindError(c, "IdempotencyMiddleware", err)
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		fingerprint := requestFingerprint(body)

		cached, ok, err := store.Reserve(ctx, scoped)
		if err == nil && ok && cached.Fingerprint != fingerprint {
			err = idempotency.ErrKeyReused
		}
		if err != nil {
			status, message, code := helpers.MapErrorToHTTP(err)
			switch {
			case errors.Is(err, idempotency.ErrInProgress), errors.Is(err, idempotency.ErrKeyReused):
				utils.Warn("idempotency: request refused", map[string]any{"key": scoped, "error": err.Error()})
			default:
				utils.Error("idempotency: reserve failed", map[string]any{"key": scoped, "error": err.Error()})
			}
			utils.JSONError(c, status, code, err, message)
			c.Abort()
			return
		}
		if ok {
			metrics.IdempotentReplays.Inc()
			c.Header(ReplayedHeader, "true")
			c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
			c.Abort()
			return
		}

		stored := false
		defer func() {
			if stored {
				return
			}
			if err := store.Release(ctx, scoped); err != nil {
				utils.Warn("idempotency: release failed", map[string]any{"key": scoped, "error": err.Error()})
			}
		}()

		w := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		resp := idempotency.Response{
			Status:      status,
			Body:        append([]byte(nil), w.body.Bytes()...),
			Fingerprint: fingerprint,
		}
		if err := store.Complete(ctx, scoped, resp); err != nil {
			utils.Warn("idempotency: failed to store response", map[string]any{"key": scoped, "error": err.Error()})
			return
		}
		stored = true
	}
}
