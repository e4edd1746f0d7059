package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	model "auction-engine/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func sampleEvent() model.AuctionClosed {
	return model.AuctionClosed{
		AuctionID:  "auction-1",
		WinnerID:   "bidder-1",
		SellerID:   "seller-1",
		FinalPrice: decimal.RequireFromString("130.5"),
		ClosedAt:   time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventID_Deterministic(t *testing.T) {
	t.Parallel()

	require.Equal(t, EventID("auction-1"), EventID("auction-1"))
	require.NotEqual(t, EventID("auction-1"), EventID("auction-2"))
}

func TestKafkaNotifier_Notify(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	n := newKafkaNotifier(w, "auction-engine", BreakerSettings{})

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 2)

	msg := w.msgs[0]
	require.Equal(t, []byte("auction-1"), msg.Key)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	require.Equal(t, EventAuctionClosed, env.EventType)
	require.Equal(t, EventID("auction-1"), env.EventID)
	require.Equal(t, "auction-1", env.CorrelationID)
	require.Equal(t, "auction-engine", env.Producer)

	payload, err := UnwrapPayload[AuctionClosedPayload](env.Payload)
	require.NoError(t, err)
	require.Equal(t, "bidder-1", payload.BuyerID)
	require.Equal(t, "130.50", payload.FinalPrice)

	// redelivery carries the same event id
	var again Envelope
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &again))
	require.Equal(t, env.EventID, again.EventID)
}

func TestKafkaNotifier_BreakerOpens(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{err: errors.New("broker down")}
	n := newKafkaNotifier(w, "auction-engine", BreakerSettings{FailureThreshold: 2, OpenTimeout: time.Minute})

	for range 2 {
		err := n.Notify(context.Background(), sampleEvent())
		require.Error(t, err)
		require.False(t, errors.Is(err, ErrUnavailable))
	}

	err := n.Notify(context.Background(), sampleEvent())
	require.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
	require.Equal(t, "open", n.State())
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()
	require.NoError(t, LogNotifier{}.Notify(context.Background(), sampleEvent()))
}
