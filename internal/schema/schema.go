package schema

import (
	"fmt"
	"time"
)

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventKind defines the category of an event emitted to sinks.
type EventKind uint16

const (
	EventUnknown EventKind = iota
	EventTick
	EventSignal
	EventTrade
	EventPositionSnapshot
	EventStopLossUpdate
	EventRiskDecision
	EventSession
)

var eventKindNames = [...]string{
	EventUnknown:          "unknown",
	EventTick:             "tick",
	EventSignal:           "signal",
	EventTrade:            "trade",
	EventPositionSnapshot: "position_snapshot",
	EventStopLossUpdate:   "sl_update",
	EventRiskDecision:     "risk_decision",
	EventSession:          "session",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("event(%d)", uint16(k))
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind by name.
func (k *EventKind) UnmarshalText(text []byte) error {
	name := string(text)
	for i, n := range eventKindNames {
		if n == name {
			*k = EventKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind: %s", name)
}

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Kind      EventKind `json:"kind"`
	Version   uint16    `json:"version"`
	Seq       uint64    `json:"seq"`
	Symbol    string    `json:"symbol,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHeader builds a header with the current schema version.
func NewHeader(kind EventKind, seq uint64, symbol string, ts time.Time) EventHeader {
	return EventHeader{
		Kind:      kind,
		Version:   SchemaVersion,
		Seq:       seq,
		Symbol:    symbol,
		Timestamp: ts,
	}
}

// Event pairs a header with one of the payload types in this package.
type Event struct {
	Header  EventHeader `json:"header"`
	Payload any         `json:"payload"`
}
