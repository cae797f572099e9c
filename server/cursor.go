package quakepulse

import (
	"context"
	"time"
)

// Cursor is the single "now" indicator moving linearly along the axis
type Cursor struct {
	Total       time.Duration // longest delay + lead-in
	TrackLength float64
}

// NewCursor sizes the traversal from the longest scheduled delay.
// With no events totalDuration is zero and only the lead-in runs.
func NewCursor(totalDuration, leadIn time.Duration, trackLength float64) Cursor {
	if totalDuration < 0 {
		totalDuration = 0
	}
	if leadIn < 0 {
		leadIn = 0
	}
	return Cursor{
		Total:       totalDuration + leadIn,
		TrackLength: trackLength,
	}
}

// At is the position along the track at the given playback time
func (c Cursor) At(elapsed time.Duration) float64 {
	if c.Total <= 0 || elapsed >= c.Total {
		return c.TrackLength
	}
	if elapsed <= 0 {
		return 0
	}
	return c.TrackLength * float64(elapsed) / float64(c.Total)
}

// Done reports whether the traversal is finished
func (c Cursor) Done(elapsed time.Duration) bool {
	return elapsed >= c.Total
}

// CursorSink receives cursor positions
type CursorSink func(x float64, at time.Duration)

// RunCursor drives the cursor on its own ticker, independent of any event timers.
// It runs once, always ends with the final position, and stops early on cancel.
func RunCursor(ctx context.Context, clock Clock, c Cursor, tick time.Duration, sink CursorSink) error {
	if tick <= 0 {
		tick = time.Second / DefaultFrameRate
	}
	if clock == nil {
		clock = WallClock
	}
	start := clock.Now()
	sink(0, 0)

	if c.Total <= 0 {
		sink(c.TrackLength, 0)
		return nil
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			elapsed := clock.Now().Sub(start)
			if c.Done(elapsed) {
				sink(c.TrackLength, c.Total)
				return nil
			}
			sink(c.At(elapsed), elapsed)
		}
	}
}
