package auction

import (
	"time"

	"auction-engine/internal/models"
)

// DefaultExtendWindow is how close to the end a bid must land to push the end time
const DefaultExtendWindow = 5 * time.Minute

// ExtendPolicy is the anti-sniping rule applied on each admitted bid
type ExtendPolicy struct {
	Window time.Duration
}

// Apply pushes a.EndTime to now+Window when a bid lands inside the closing
// window of an auto-extend auction. It never moves the end time backwards and
// reports whether it changed anything.
func (p ExtendPolicy) Apply(a *models.Auction, now time.Time) bool {
	if !a.AutoExtend || p.Window <= 0 {
		return false
	}
	if a.EndTime.Sub(now) > p.Window {
		return false
	}
	next := now.Add(p.Window)
	if !next.After(a.EndTime) {
		return false
	}
	a.EndTime = next
	return true
}
