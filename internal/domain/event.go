package domain

import "time"

// Bus channels carrying matrix events.
const (
	ChannelPlacements = "placements"
	ChannelCycles     = "cycles"
	ChannelLedger     = "ledger"
	ChannelBoards     = "boards"
)

// StreamCycles is the durable stream of cycle completions.
const StreamCycles = "stream:cycles"

// Event is the JSON envelope published on the bus.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}
