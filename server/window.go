package quakepulse

import (
	"time"

	Qt "github.com/maroda/quakepulse/types"
)

// Clock supplies "now" so nothing in the engine reads wall time directly
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// WallClock is the default clock
var WallClock Clock = wallClock{}

// NewObservationWindow returns [now - span, now] from the given clock
func NewObservationWindow(c Clock, span time.Duration) Qt.ObservationWindow {
	if c == nil {
		c = WallClock
	}
	now := c.Now()
	return Qt.ObservationWindow{
		Start: now.Add(-span),
		End:   now,
	}
}
