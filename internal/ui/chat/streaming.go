// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// FRAME GATE
// =============================================================================

// frameInterval is the tick period while a session streams, roughly 30fps.
const frameInterval = 33 * time.Millisecond

// FrameGate throttles transcript rebuilds during streaming. Transport
// goroutines mark the gate dirty on every delta; the Bubble Tea loop asks
// ShouldRender on each frame tick and rebuilds only when new content has
// arrived and the minimum interval has passed.
//
// Rebuilding the transcript on every delta would render far above the
// terminal's useful frame rate and peg a core on long answers.
type FrameGate struct {
	mu          sync.Mutex
	dirty       bool
	lastSig     int64
	lastRender  time.Time
	minInterval time.Duration
}

// NewFrameGate creates a gate capped at the given frames per second.
// Non-positive or excessive rates fall back to 30fps.
func NewFrameGate(maxFPS int) *FrameGate {
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = 30
	}
	return &FrameGate{
		minInterval: time.Second / time.Duration(maxFPS),
	}
}

// MarkDirty records that streamed content changed. Safe to call from any
// goroutine.
func (g *FrameGate) MarkDirty() {
	g.mu.Lock()
	g.dirty = true
	g.mu.Unlock()
}

// Observe marks the gate dirty when the streamed-content signature differs
// from the last observed value. Deltas accumulate off the Bubble Tea loop,
// so the frame tick samples a cheap signature instead of counting tokens.
func (g *FrameGate) Observe(sig int64) {
	g.mu.Lock()
	if sig != g.lastSig {
		g.lastSig = sig
		g.dirty = true
	}
	g.mu.Unlock()
}

// ShouldRender reports whether a rebuild is due. When it returns true the
// dirty flag is consumed and the interval clock restarts.
func (g *FrameGate) ShouldRender(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.dirty {
		return false
	}
	if now.Sub(g.lastRender) < g.minInterval {
		return false
	}
	g.dirty = false
	g.lastRender = now
	return true
}

// ForceRender consumes any pending dirty state and restarts the clock.
// Used for the final rebuild when a session converges, so the last deltas
// are never stuck behind the interval.
func (g *FrameGate) ForceRender(now time.Time) {
	g.mu.Lock()
	g.dirty = false
	g.lastRender = now
	g.mu.Unlock()
}

// frameTickCmd schedules the next streaming frame.
func frameTickCmd() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return FrameTickMsg{Time: t}
	})
}
