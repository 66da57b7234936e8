// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"testing"
)

func TestRegistry_AssumeOwnershipCancelsPrior(t *testing.T) {
	r := NewRegistry()

	first := r.AssumeOwnership(context.Background(), "conv1#0")
	second := r.AssumeOwnership(context.Background(), "conv1#0")

	select {
	case <-first.Ctx.Done():
	default:
		t.Error("taking ownership must cancel the prior lease")
	}
	select {
	case <-second.Ctx.Done():
		t.Error("the new lease must stay live")
	default:
	}
}

func TestRegistry_ReleaseIgnoresDisplacedLease(t *testing.T) {
	r := NewRegistry()

	old := r.AssumeOwnership(context.Background(), "conv1#0")
	current := r.AssumeOwnership(context.Background(), "conv1#0")

	// The displaced holder finishing up must not tear down its successor.
	r.Release(old)
	if !r.IsActive("conv1#0") {
		t.Error("release of a displaced lease must not unregister the current one")
	}

	r.Release(current)
	if r.IsActive("conv1#0") {
		t.Error("release of the current lease should unregister it")
	}
}

func TestRegistry_CancelIsPerKey(t *testing.T) {
	r := NewRegistry()
	a := r.AssumeOwnership(context.Background(), "conv1#0")
	b := r.AssumeOwnership(context.Background(), "conv1#1")

	if !r.Cancel("conv1#0") {
		t.Fatal("Cancel should report success for a registered key")
	}
	select {
	case <-a.Ctx.Done():
	default:
		t.Error("cancelled lease context should be done")
	}
	select {
	case <-b.Ctx.Done():
		t.Error("sibling key must be unaffected")
	default:
	}

	if r.Cancel("conv1#0") {
		t.Error("Cancel of an empty key should report false")
	}
}

func TestRegistry_Active(t *testing.T) {
	r := NewRegistry()
	r.AssumeOwnership(context.Background(), "conv1#1")
	r.AssumeOwnership(context.Background(), "conv1#0")

	keys := r.Active()
	if len(keys) != 2 || keys[0] != "conv1#0" || keys[1] != "conv1#1" {
		t.Errorf("Active() = %v, want sorted [conv1#0 conv1#1]", keys)
	}
}
