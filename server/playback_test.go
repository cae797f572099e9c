package quakepulse_test

import (
	"context"
	"sync"
	"testing"
	"time"

	Qs "github.com/maroda/quakepulse/server"
	Qt "github.com/maroda/quakepulse/types"
)

func TestPlayback_Step(t *testing.T) {
	surface := &recordingSurface{}
	pb := Qs.NewPlayback(makeScenarioPlan(t), surface, time.Second, 1120)

	var fired []string
	pb.OnFire = func(ev *Qt.Event) { fired = append(fired, ev.ID) }

	t.Run("Draws only started transitions", func(t *testing.T) {
		frames := pb.Step(250 * time.Millisecond)
		// us1 marker and pulse
		assertInt(t, len(frames), 2)
		assertInt(t, len(fired), 1)
		assertString(t, fired[0], "us1")
	})

	t.Run("Fires each event once", func(t *testing.T) {
		pb.Step(600 * time.Millisecond)
		pb.Step(700 * time.Millisecond)
		assertInt(t, len(fired), 2)
		assertInt(t, pb.Fired(), 2)
	})

	t.Run("Grows the marker to its final radius", func(t *testing.T) {
		frames := pb.Step(2000 * time.Millisecond)
		marker, ok := findFrame(frames, "marker-us3")
		assertBool(t, ok, true)
		assertFloat(t, marker.Radius, 10)
		assertFloat(t, marker.Opacity, Qt.MarkerOpacity)
	})

	t.Run("Removes a finished pulse once and stops drawing it", func(t *testing.T) {
		frames := pb.Step(2100 * time.Millisecond)
		_, ok := findFrame(frames, "pulse-us1")
		assertBool(t, ok, false)
		pb.Step(2200 * time.Millisecond)

		assertInt(t, surface.removedCount("pulse-us1"), 1)
	})

	t.Run("Keeps markers after everything is done", func(t *testing.T) {
		frames := pb.Step(10 * time.Second)
		assertInt(t, len(frames), 3)
		for _, f := range frames {
			assertBool(t, f.Kind == Qt.Marker, true)
		}
		assertInt(t, surface.removedCount("pulse-us3"), 1)
	})
}

func TestPlayback_Length(t *testing.T) {
	t.Run("Covers the last pulse and the cursor", func(t *testing.T) {
		pb := Qs.NewPlayback(makeScenarioPlan(t), nil, time.Second, 1120)
		assertDuration(t, pb.Cursor.Total, 2000*time.Millisecond)
		assertDuration(t, pb.Length(), 3000*time.Millisecond)
	})

	t.Run("Is the lead-in alone with no events", func(t *testing.T) {
		pb := Qs.NewPlayback(nil, nil, 100*time.Millisecond, 1120)
		assertDuration(t, pb.Length(), 100*time.Millisecond)
	})
}

func TestPlayback_Run(t *testing.T) {
	t.Run("Completes an empty plan in bounded time without drawing", func(t *testing.T) {
		surface := &recordingSurface{}
		pb := Qs.NewPlayback(&Qs.Plan{}, surface, 50*time.Millisecond, 1120)
		pb.FrameRate = 100

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		err := pb.Run(ctx)
		assertError(t, err, nil)
		assertInt(t, surface.drawCount(), 0)

		xs := surface.cursorPositions()
		assertFloat(t, xs[len(xs)-1], 1120)

		select {
		case <-pb.Done():
		default:
			t.Errorf("Done was not closed")
		}
	})

	t.Run("Stops on cancel", func(t *testing.T) {
		surface := &recordingSurface{}
		pb := Qs.NewPlayback(makeScenarioPlan(t), surface, time.Hour, 1120)
		pb.FrameRate = 100

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := pb.Run(ctx)
		assertError(t, err, context.DeadlineExceeded)
		if surface.drawCount() == 0 {
			t.Errorf("expected frames before cancel")
		}
	})

	t.Run("Reports a crashed surface as an error", func(t *testing.T) {
		pb := Qs.NewPlayback(makeScenarioPlan(t), &crashingSurface{}, 10*time.Millisecond, 1120)
		pb.FrameRate = 100

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		err := pb.Run(ctx)
		assertGotError(t, err)
		assertStringContains(t, err.Error(), "playback panic")

		select {
		case <-pb.Done():
		default:
			t.Errorf("Done was not closed")
		}
	})
}

func makeScenarioPlan(t testing.TB) *Qs.Plan {
	t.Helper()
	window := Qt.ObservationWindow{Start: t0, End: t0.Add(24 * time.Hour)}
	events := makeScenarioEvents()
	if _, err := Qs.AnnotateDelays(events, window, 5000); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	plan, err := Qs.NewScheduler(Qs.DefaultSchedulerConfig()).Schedule(events)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return plan
}

func findFrame(frames []Qt.Frame, id string) (Qt.Frame, bool) {
	for _, f := range frames {
		if f.ID == id {
			return f, true
		}
	}
	return Qt.Frame{}, false
}

// recordingSurface keeps every call for inspection
type recordingSurface struct {
	mu      sync.Mutex
	draws   [][]Qt.Frame
	removed map[string]int
	cursor  []float64
}

func (rs *recordingSurface) Draw(frames []Qt.Frame) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.draws = append(rs.draws, frames)
}

func (rs *recordingSurface) Remove(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.removed == nil {
		rs.removed = make(map[string]int)
	}
	rs.removed[id]++
}

func (rs *recordingSurface) Cursor(x float64, _ time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.cursor = append(rs.cursor, x)
}

// crashingSurface panics on the first frame
type crashingSurface struct {
	recordingSurface
}

func (cs *crashingSurface) Draw([]Qt.Frame) {
	panic("surface gone")
}

func (rs *recordingSurface) drawCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.draws)
}

func (rs *recordingSurface) removedCount(id string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.removed[id]
}

func (rs *recordingSurface) cursorPositions() []float64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]float64(nil), rs.cursor...)
}
