package quakepulse

import (
	"log/slog"
	"math"
	"time"

	Qt "github.com/maroda/quakepulse/types"
)

// ValidateSpeedFactor makes sure the compression ratio can divide real time
func ValidateSpeedFactor(speedFactor float64) error {
	if !(speedFactor > 0) {
		return ErrInvalidSpeedFactor
	}
	return nil
}

// ComputeDelay compresses the real time between windowStart and occurredAt
// into playback time. Anything older than windowStart fires immediately.
//
// With speedFactor 5000 an event 5,000,000ms after windowStart
// plays 1000ms into the animation. A tiny factor saturates at the
// longest Duration instead of wrapping negative.
func ComputeDelay(occurredAt, windowStart time.Time, speedFactor float64) time.Duration {
	real := occurredAt.Sub(windowStart)
	if real <= 0 || !(speedFactor > 0) {
		return 0
	}
	d := float64(real) / speedFactor
	if !(d > 0) {
		return 0
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// DelayReport counts the events that fell outside the window during annotation
type DelayReport struct {
	Annotated int
	Early     int // before the window start, clamped to zero
	Late      int // after the window end, delay beyond the playback range
}

// AnnotateDelays stores the compressed delay on every event in a single pass.
// Events already carrying a delay are left alone, a delay never changes once set.
func AnnotateDelays(events []*Qt.Event, window Qt.ObservationWindow, speedFactor float64) (DelayReport, error) {
	var report DelayReport
	if err := ValidateSpeedFactor(speedFactor); err != nil {
		return report, err
	}

	for _, ev := range events {
		if ev == nil || ev.DelaySet {
			continue
		}
		switch {
		case ev.OccurredAt.Before(window.Start):
			report.Early++
		case ev.OccurredAt.After(window.End):
			report.Late++
		}
		ev.Delay = ComputeDelay(ev.OccurredAt, window.Start, speedFactor)
		ev.DelaySet = true
		report.Annotated++
	}

	if report.Early > 0 || report.Late > 0 {
		slog.Warn("Events outside the observation window",
			slog.Int("early", report.Early),
			slog.Int("late", report.Late))
	}

	return report, nil
}

// MaxDelay is the largest delay in the set, not the last one,
// so out-of-order feeds still size the cursor correctly
func MaxDelay(events []*Qt.Event) time.Duration {
	var longest time.Duration
	for _, ev := range events {
		if ev != nil && ev.DelaySet && ev.Delay > longest {
			longest = ev.Delay
		}
	}
	return longest
}
