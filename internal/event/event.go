package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	TransferStarted Type = iota + 1
	TransferSucceeded
	TransferFailed
	InventoryRefreshed
	RefreshFailed
	NoDestination
)

var typeNames = [...]string{
	TransferStarted:    "TransferStarted",
	TransferSucceeded:  "TransferSucceeded",
	TransferFailed:     "TransferFailed",
	InventoryRefreshed: "InventoryRefreshed",
	RefreshFailed:      "RefreshFailed",
	NoDestination:      "NoDestination",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single scheduler lifecycle event.
type Event struct {
	Type      Type
	Timestamp time.Time
	TaskID    int64
	Source    string // staging file path
	Dest      string // destination mount path
	BusID     string
	Size      int64 // source size at start
	Buses     int   // high-speed buses known (InventoryRefreshed)
	Busy      int   // buses with an active transfer
	Active    int   // active transfers after this event
	Error     error
}
