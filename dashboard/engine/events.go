package engine

import (
	"time"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/merger"
)

type EventKind string

const (
	EventTransientFetchError EventKind = "transient_fetch_error"
	EventMalformedRecord     EventKind = "malformed_record"
	EventCounterUnderflow    EventKind = "counter_underflow"
)

// Event is a notification for the presentation layer. Stale writes are only counted.
type Event struct {
	Kind   EventKind   `json:"kind"`
	Feed   merger.Feed `json:"feed,omitempty"`
	TeamID string      `json:"team_id,omitempty"`
	Detail string      `json:"detail"`
	Err    error       `json:"-"`
	At     time.Time   `json:"at"`
}
