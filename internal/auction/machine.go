// Package auction holds the lifecycle rules of a single auction: creation-time
// validation, status transitions and the pricing fields that move with them.
//
// Functions here mutate the auction value they are given and never touch storage;
// callers run them inside the auction's exclusive section and persist the result.
package auction

import (
	"fmt"
	"strings"
	"time"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"

	"github.com/shopspring/decimal"
)

// monetaryPlaces is the precision every price is rounded to
const monetaryPlaces int32 = 2

// RoundPrice normalises a monetary amount to the engine's precision
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(monetaryPlaces)
}

// New validates seller input and builds an auction in pending status
func New(id string, in models.NewAuction, now time.Time) (models.Auction, error) {
	if id == "" || strings.TrimSpace(in.SellerID) == "" {
		return models.Auction{}, fmt.Errorf("auction: %w - missing auction or seller id", biddingerrors.ErrInvalidAuction)
	}
	if strings.TrimSpace(in.Title) == "" {
		return models.Auction{}, fmt.Errorf("auction: %w - missing title", biddingerrors.ErrInvalidAuction)
	}

	starting := RoundPrice(in.StartingPrice)
	step := RoundPrice(in.StepPrice)
	if !starting.IsPositive() {
		return models.Auction{}, fmt.Errorf("auction: %w - starting price must be positive", biddingerrors.ErrInvalidAuction)
	}
	if !step.IsPositive() {
		return models.Auction{}, fmt.Errorf("auction: %w - step price must be positive", biddingerrors.ErrInvalidAuction)
	}

	buyNow := decimal.NullDecimal{}
	if in.BuyNowPrice.Valid {
		buyNow = decimal.NewNullDecimal(RoundPrice(in.BuyNowPrice.Decimal))
		if !buyNow.Decimal.GreaterThan(starting) {
			return models.Auction{}, fmt.Errorf("auction: %w - buy-now price %s must exceed starting price %s",
				biddingerrors.ErrInvalidAuction, buyNow.Decimal, starting)
		}
	}

	return models.Auction{
		AuctionID:     id,
		SellerID:      in.SellerID,
		CategoryID:    in.CategoryID,
		Title:         in.Title,
		Description:   in.Description,
		StartingPrice: starting,
		CurrentPrice:  starting,
		StepPrice:     step,
		BuyNowPrice:   buyNow,
		AutoExtend:    in.AutoExtend,
		Status:        models.StatusPending,
		CreatedAt:     now,
		EndTime:       in.EndTime.UTC(),
	}, nil
}

// Activate opens bidding. An end time that is not in the future keeps the auction pending.
func Activate(a *models.Auction, now time.Time) error {
	if !a.EndTime.After(now) {
		return fmt.Errorf("auction: %w - end time %s is not after %s",
			biddingerrors.ErrInvalidAuction, a.EndTime.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return transition(a, models.StatusActive)
}

// ApplyPrice records a new current price on an active auction
func ApplyPrice(a *models.Auction, amount decimal.Decimal) error {
	if a.Status != models.StatusActive {
		return fmt.Errorf("auction: %w - status is %s", biddingerrors.ErrAuctionNotActive, a.Status)
	}
	if amount.LessThan(a.CurrentPrice) {
		return fmt.Errorf("auction: %w - price cannot fall from %s to %s",
			biddingerrors.ErrInvalidTransition, a.CurrentPrice, amount)
	}
	a.CurrentPrice = amount
	return nil
}

// Sell closes the auction in favour of winnerID at price
func Sell(a *models.Auction, winnerID string, price decimal.Decimal, at time.Time) error {
	if winnerID == "" {
		return fmt.Errorf("auction: %w - sold auction needs a winner", biddingerrors.ErrInvalidTransition)
	}
	if a.WinnerID != "" {
		return fmt.Errorf("auction: %w - winner already set to %s", biddingerrors.ErrInvalidTransition, a.WinnerID)
	}
	if !models.CanTransition(a.Status, models.StatusSold) {
		return fmt.Errorf("auction: %w - %s to %s", biddingerrors.ErrInvalidTransition, a.Status, models.StatusSold)
	}
	if err := ApplyPrice(a, price); err != nil {
		return err
	}
	a.Status = models.StatusSold
	a.WinnerID = winnerID
	a.ClosedAt = &at
	return nil
}

// End closes an auction that attracted no bids
func End(a *models.Auction, at time.Time) error {
	if a.BidCount > 0 {
		return fmt.Errorf("auction: %w - auction with %d bids cannot end without a winner",
			biddingerrors.ErrInvalidTransition, a.BidCount)
	}
	if err := transition(a, models.StatusEnded); err != nil {
		return err
	}
	a.ClosedAt = &at
	return nil
}

// Cancel withdraws an active auction on the seller's behalf
func Cancel(a *models.Auction, at time.Time) error {
	if a.Status != models.StatusActive {
		return fmt.Errorf("auction: %w - status is %s", biddingerrors.ErrCannotCancel, a.Status)
	}
	if a.BidCount > 0 {
		return fmt.Errorf("auction: %w - auction already has %d bids", biddingerrors.ErrCannotCancel, a.BidCount)
	}
	if err := transition(a, models.StatusCancelled); err != nil {
		return err
	}
	a.ClosedAt = &at
	return nil
}

func transition(a *models.Auction, to models.AuctionStatus) error {
	if !models.CanTransition(a.Status, to) {
		return fmt.Errorf("auction: %w - %s to %s", biddingerrors.ErrInvalidTransition, a.Status, to)
	}
	a.Status = to
	return nil
}
