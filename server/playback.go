package quakepulse

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	Qt "github.com/maroda/quakepulse/types"
)

// Surface materializes frames. Implementations must be safe to call
// from the render loop and the cursor driver at the same time.
type Surface interface {
	Draw(frames []Qt.Frame)
	Remove(id string)
	Cursor(x float64, at time.Duration)
}

// MultiSurface fans every call out to each surface in order
type MultiSurface []Surface

func (ms MultiSurface) Draw(frames []Qt.Frame) {
	for _, s := range ms {
		s.Draw(frames)
	}
}

func (ms MultiSurface) Remove(id string) {
	for _, s := range ms {
		s.Remove(id)
	}
}

func (ms MultiSurface) Cursor(x float64, at time.Duration) {
	for _, s := range ms {
		s.Cursor(x, at)
	}
}

// Playback is the render loop: every tick it samples all transitions
// of a Plan against elapsed playback time and hands the frames to the Surface.
// The cursor runs next to it on its own ticker.
type Playback struct {
	MU        sync.Mutex
	Plan      *Plan
	Cursor    Cursor
	Surface   Surface
	Clock     Clock
	FrameRate int
	OnFire    func(ev *Qt.Event)  // once per event, when its delay elapses
	OnRemove  func(tr Transition) // once per removed element
	fired     map[string]bool
	removed   map[string]bool
	events    map[string]*Qt.Event
	done      chan struct{}
}

// NewPlayback wires a plan to a surface with a cursor sized from the plan's longest delay
func NewPlayback(plan *Plan, surface Surface, leadIn time.Duration, trackLength float64) *Playback {
	if plan == nil {
		plan = &Plan{}
	}
	events := make(map[string]*Qt.Event, len(plan.Events))
	for _, ev := range plan.Events {
		events[ev.ID] = ev
	}
	return &Playback{
		Plan:      plan,
		Cursor:    NewCursor(plan.MaxDelay, leadIn, trackLength),
		Surface:   surface,
		Clock:     WallClock,
		FrameRate: DefaultFrameRate,
		fired:     make(map[string]bool),
		removed:   make(map[string]bool),
		events:    events,
		done:      make(chan struct{}),
	}
}

// Length is the playback time after which nothing changes anymore
func (p *Playback) Length() time.Duration {
	return max(p.Plan.End, p.Cursor.Total)
}

// Done is closed when Run returns
func (p *Playback) Done() <-chan struct{} {
	return p.done
}

// Step renders the transitions at a single instant and returns the frames drawn.
// Pulses that have finished are removed from the surface once and not drawn again.
// Hooks and the surface are called after the state lock is released.
func (p *Playback) Step(elapsed time.Duration) []Qt.Frame {
	var (
		fired   []*Qt.Event
		removed []Transition
	)

	p.MU.Lock()
	frames := make([]Qt.Frame, 0, len(p.Plan.Transitions))
	for _, tr := range p.Plan.Transitions {
		s := tr.At(elapsed)
		if !s.Started {
			continue
		}

		if !p.fired[tr.EventID] {
			p.fired[tr.EventID] = true
			fired = append(fired, p.events[tr.EventID])
		}

		if s.Done && tr.RemoveOnDone {
			if !p.removed[tr.ElementID] {
				p.removed[tr.ElementID] = true
				removed = append(removed, tr)
			}
			continue
		}

		frames = append(frames, tr.Frame(s, elapsed))
	}
	p.MU.Unlock()

	if p.OnFire != nil {
		for _, ev := range fired {
			p.OnFire(ev)
		}
	}
	for _, tr := range removed {
		if p.Surface != nil {
			p.Surface.Remove(tr.ElementID)
		}
		if p.OnRemove != nil {
			p.OnRemove(tr)
		}
	}
	if p.Surface != nil && len(frames) > 0 {
		p.Surface.Draw(frames)
	}
	return frames
}

// Fired is the number of events whose transitions have started
func (p *Playback) Fired() int {
	p.MU.Lock()
	defer p.MU.Unlock()
	return len(p.fired)
}

// Run drives the plan to completion or until ctx is cancelled
func (p *Playback) Run(ctx context.Context) (err error) {
	defer close(p.done)

	// Panic recovery and logging
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in playback loop", slog.Any("panic", r))
			slog.Error("Recovered from panic", slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("playback panic: %v", r)
		}
	}()

	clock := p.Clock
	if clock == nil {
		clock = WallClock
	}
	rate := p.FrameRate
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	tick := time.Second / time.Duration(rate)

	slog.Info("Starting playback",
		slog.Int("transitions", len(p.Plan.Transitions)),
		slog.Duration("maxDelay", p.Plan.MaxDelay),
		slog.Duration("length", p.Length()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink := func(x float64, at time.Duration) {
			if p.Surface != nil {
				p.Surface.Cursor(x, at)
			}
		}
		if err := RunCursor(ctx, clock, p.Cursor, tick, sink); err != nil {
			slog.Debug("Cursor stopped", slog.Any("Error", err))
		}
	}()

	start := clock.Now()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			wg.Wait()
			return err
		case <-ticker.C:
			elapsed := clock.Now().Sub(start)
			p.Step(elapsed)
			if elapsed >= p.Length() {
				wg.Wait()
				slog.Info("Playback complete", slog.Int("fired", p.Fired()))
				return nil
			}
		}
	}
}
