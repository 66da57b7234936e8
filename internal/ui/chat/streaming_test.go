// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"
	"time"
)

func TestFrameGate_CleanGateNeverRenders(t *testing.T) {
	g := NewFrameGate(30)
	now := time.Now()

	for i := 0; i < 5; i++ {
		if g.ShouldRender(now.Add(time.Duration(i) * time.Second)) {
			t.Fatal("gate rendered without any dirty mark")
		}
	}
}

func TestFrameGate_DirtyRendersAfterInterval(t *testing.T) {
	g := NewFrameGate(30)
	now := time.Now()

	g.MarkDirty()
	if !g.ShouldRender(now) {
		t.Fatal("first dirty frame should render")
	}

	// Dirty again immediately: too soon for the next frame.
	g.MarkDirty()
	if g.ShouldRender(now.Add(10 * time.Millisecond)) {
		t.Error("rendered inside the minimum interval")
	}
	if !g.ShouldRender(now.Add(40 * time.Millisecond)) {
		t.Error("should render once the interval has passed")
	}
}

func TestFrameGate_RenderConsumesDirty(t *testing.T) {
	g := NewFrameGate(30)
	now := time.Now()

	g.MarkDirty()
	if !g.ShouldRender(now) {
		t.Fatal("expected render")
	}
	if g.ShouldRender(now.Add(time.Second)) {
		t.Error("dirty flag survived a render")
	}
}

func TestFrameGate_ObserveMarksOnChange(t *testing.T) {
	g := NewFrameGate(30)
	now := time.Now()

	g.Observe(100)
	if !g.ShouldRender(now) {
		t.Fatal("changed signature should mark dirty")
	}

	// Same signature: nothing new arrived.
	g.Observe(100)
	if g.ShouldRender(now.Add(time.Second)) {
		t.Error("unchanged signature should not mark dirty")
	}

	g.Observe(150)
	if !g.ShouldRender(now.Add(2 * time.Second)) {
		t.Error("grown signature should mark dirty")
	}
}

func TestFrameGate_ForceRenderClearsPending(t *testing.T) {
	g := NewFrameGate(30)
	now := time.Now()

	g.MarkDirty()
	g.ForceRender(now)
	if g.ShouldRender(now.Add(time.Second)) {
		t.Error("force render should consume the dirty flag")
	}
}

func TestFrameGate_InvalidFPSFallsBack(t *testing.T) {
	for _, fps := range []int{0, -5, 1000} {
		g := NewFrameGate(fps)
		if g.minInterval != time.Second/30 {
			t.Errorf("fps %d: interval = %v, want %v", fps, g.minInterval, time.Second/30)
		}
	}
}
