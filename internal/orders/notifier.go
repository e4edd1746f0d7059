package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	model "auction-engine/internal/models"
	"auction-engine/utils"

	"github.com/segmentio/kafka-go"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned while the breaker in front of the broker is open
var ErrUnavailable = errors.New("order initiator unavailable")

// LogNotifier records close events in the service log. Used when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event model.AuctionClosed) error {
	utils.Info("order initiator: auction closed", map[string]any{
		"event_id":    EventID(event.AuctionID),
		"auction_id":  event.AuctionID,
		"winner_id":   event.WinnerID,
		"seller_id":   event.SellerID,
		"final_price": event.FinalPrice.StringFixed(2),
	})
	return nil
}

// messageWriter is the part of *kafka.Writer the notifier uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BreakerSettings tunes the circuit breaker in front of the broker
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// KafkaNotifier publishes close events synchronously so a failed write leaves
// the auction pending for the next closer cycle
type KafkaNotifier struct {
	w        messageWriter
	producer string
	cb       *gobreaker.CircuitBreaker[any]
}

// NewKafkaNotifier writes to topic on brokers with the given producer name
func NewKafkaNotifier(brokers []string, topic, producer string, bs BreakerSettings) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return newKafkaNotifier(w, producer, bs)
}

func newKafkaNotifier(w messageWriter, producer string, bs BreakerSettings) *KafkaNotifier {
	if bs.FailureThreshold == 0 {
		bs.FailureThreshold = 5
	}
	if bs.OpenTimeout <= 0 {
		bs.OpenTimeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "order-initiator",
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			utils.Warn("order initiator: circuit breaker state change", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return &KafkaNotifier{w: w, producer: producer, cb: cb}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event model.AuctionClosed) error {
	env, err := NewEnvelope(n.producer, event, time.Now())
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   PartitionKey(event.AuctionID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	}

	_, err = n.cb.Execute(func() (any, error) {
		return nil, n.w.WriteMessages(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("notify auction %s: %w: %v", event.AuctionID, ErrUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("notify auction %s: %w", event.AuctionID, err)
	}
	return nil
}

// State reports the breaker state for health output
func (n *KafkaNotifier) State() string {
	return n.cb.State().String()
}

func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}
