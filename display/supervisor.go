package quakepulse

import (
	"context"
	"sync"
)

type PlaybackSupervisor struct {
	View   *View
	MU     sync.Mutex
	WG     sync.WaitGroup
	Err    error
	swap   sync.Mutex // serializes Restart
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlaybackSupervisor is a wrapper around the View that manages the playback goroutine
// They are strongly coupled, one knows about the other
func (v *View) NewPlaybackSupervisor() *PlaybackSupervisor {
	ps := &PlaybackSupervisor{
		View: v,
	}
	v.Supervisor = ps
	return ps
}

// Start a fresh session in the background
func (p *PlaybackSupervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s := p.View.NewSession()

	p.MU.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.Err = nil
	done := p.done
	p.MU.Unlock()

	p.WG.Add(1)
	go func() {
		defer p.WG.Done()
		defer close(done)

		err := p.View.Play(ctx, s)
		p.MU.Lock()
		p.Err = err
		p.MU.Unlock()
	}()
}

// Stop cancels the running session and waits for it to return
func (p *PlaybackSupervisor) Stop() {
	p.MU.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.MU.Unlock()

	if cancel != nil {
		cancel()
		p.WG.Wait()
	}
}

// Wait blocks until the current session finishes on its own
func (p *PlaybackSupervisor) Wait() error {
	p.MU.Lock()
	done := p.done
	p.MU.Unlock()

	if done == nil {
		return nil
	}
	<-done

	p.MU.Lock()
	defer p.MU.Unlock()
	return p.Err
}

// Restart replays from the feed with a new observation window
func (p *PlaybackSupervisor) Restart() {
	p.swap.Lock()
	defer p.swap.Unlock()

	p.Stop()
	p.View.Reset()
	p.Start()
}
