// Package orders hands sold auctions to the order initiator. Delivery is
// at-least-once; consumers deduplicate on the envelope's event id, which is
// derived from the auction id.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	model "auction-engine/internal/models"

	"github.com/google/uuid"
)

const (
	EventAuctionClosed = "AuctionClosed"
	TopicAuctionClosed = "auction.closed"
	eventVersion       = 1
)

// eventNamespace scopes deterministic event ids to this service's events
var eventNamespace = uuid.MustParse("6f1c2a7e-3b8d-4e55-9a0f-2c7d1e9b4a31")

// Notifier accepts close events for sold auctions
type Notifier interface {
	Notify(ctx context.Context, event model.AuctionClosed) error
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // auction_id
	Payload       json.RawMessage `json:"payload"`
}

// AuctionClosedPayload is what the order initiator needs to create an order
type AuctionClosedPayload struct {
	AuctionID  string    `json:"auction_id"`
	BuyerID    string    `json:"buyer_id"`
	SellerID   string    `json:"seller_id"`
	FinalPrice string    `json:"final_price"`
	ClosedAt   time.Time `json:"closed_at"`
}

// EventID is stable across redeliveries of the same auction's close event
func EventID(auctionID string) string {
	return uuid.NewSHA1(eventNamespace, []byte(EventAuctionClosed+":"+auctionID)).String()
}

// PartitionKey keeps every event of one auction on the same partition
func PartitionKey(auctionID string) []byte { return []byte(auctionID) }

// NewEnvelope wraps a close event for the wire
func NewEnvelope(producer string, event model.AuctionClosed, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(AuctionClosedPayload{
		AuctionID:  event.AuctionID,
		BuyerID:    event.WinnerID,
		SellerID:   event.SellerID,
		FinalPrice: event.FinalPrice.StringFixed(2),
		ClosedAt:   event.ClosedAt.UTC(),
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode auction closed payload: %w", err)
	}
	return Envelope{
		EventID:       EventID(event.AuctionID),
		EventType:     EventAuctionClosed,
		EventVersion:  eventVersion,
		OccurredAt:    now.UTC(),
		Producer:      producer,
		CorrelationID: event.AuctionID,
		Payload:       payload,
	}, nil
}

// UnwrapPayload decodes an envelope's payload into T
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
