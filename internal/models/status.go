package models

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusPending   AuctionStatus = "pending"
	StatusActive    AuctionStatus = "active"
	StatusEnded     AuctionStatus = "ended"
	StatusSold      AuctionStatus = "sold"
	StatusCancelled AuctionStatus = "cancelled"
)

var validNext = map[AuctionStatus]map[AuctionStatus]bool{
	StatusPending:   {StatusActive: true},
	StatusActive:    {StatusSold: true, StatusEnded: true, StatusCancelled: true},
	StatusEnded:     {},
	StatusSold:      {},
	StatusCancelled: {},
}

// CanTransition reports whether an auction may move from one status to another.
// The self-loop on active is not a transition and is rejected here.
func CanTransition(from, to AuctionStatus) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no further transition is possible from s
func (s AuctionStatus) IsTerminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// Valid reports whether s is a known status
func (s AuctionStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}
