package main

import (
	"context"
	"sync"

	"github.com/MrWong99/concierge/internal/config"
	"github.com/MrWong99/concierge/pkg/realtime"
)

// voiceHost owns the current realtime session. Realtime settings changed
// at runtime are applied by building a fresh session on the next start;
// a running session keeps the settings it was started with.
type voiceHost struct {
	build func(cfg *config.Config) *realtime.Session

	mu      sync.Mutex
	cur     *realtime.Session
	pending *config.Config

	lmu       sync.Mutex
	listeners []func(realtime.Snapshot)
}

func newVoiceHost(cfg *config.Config, build func(cfg *config.Config) *realtime.Session) *voiceHost {
	v := &voiceHost{build: build}
	v.cur = v.newSession(cfg)
	return v
}

func (v *voiceHost) newSession(cfg *config.Config) *realtime.Session {
	s := v.build(cfg)
	s.OnChange(v.broadcast)
	return s
}

// Reconfigure records cfg for the next start.
func (v *voiceHost) Reconfigure(cfg *config.Config) {
	v.mu.Lock()
	v.pending = cfg
	v.mu.Unlock()
}

func (v *voiceHost) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.pending != nil && !v.cur.State().Running() {
		v.cur = v.newSession(v.pending)
		v.pending = nil
	}
	s := v.cur
	v.mu.Unlock()
	return s.Start(ctx)
}

func (v *voiceHost) session() *realtime.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

func (v *voiceHost) Stop()                       { v.session().Stop() }
func (v *voiceHost) SendText(text string)        { v.session().SendText(text) }
func (v *voiceHost) Snapshot() realtime.Snapshot { return v.session().Snapshot() }

// OnChange registers fn for snapshots of whichever session is current.
func (v *voiceHost) OnChange(fn func(realtime.Snapshot)) {
	v.lmu.Lock()
	v.listeners = append(v.listeners, fn)
	v.lmu.Unlock()
}

func (v *voiceHost) broadcast(snap realtime.Snapshot) {
	v.lmu.Lock()
	fns := append([]func(realtime.Snapshot){}, v.listeners...)
	v.lmu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
