// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// CANCELLATION REGISTRY
// =============================================================================

// Lease represents ownership of one sub-session key. The holder streams
// under Ctx until it finishes or a newer lease for the same key displaces
// it.
type Lease struct {
	Key    string
	Ctx    context.Context
	cancel context.CancelFunc
}

// Cancel aborts the work running under this lease.
func (l *Lease) Cancel() {
	l.cancel()
}

// Registry maps sub-session keys to their cancellation tokens. It
// guarantees at most one in-flight request per key: taking ownership of a
// key atomically cancels and replaces any prior holder.
type Registry struct {
	mu     sync.Mutex
	leases map[string]*Lease
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{leases: make(map[string]*Lease)}
}

// AssumeOwnership cancels any existing lease for key and registers a new
// one derived from parent.
func (r *Registry) AssumeOwnership(parent context.Context, key string) *Lease {
	ctx, cancel := context.WithCancel(parent)
	lease := &Lease{Key: key, Ctx: ctx, cancel: cancel}

	r.mu.Lock()
	prev := r.leases[key]
	r.leases[key] = lease
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return lease
}

// Release removes the lease from the registry if it is still the current
// holder, and cancels its context. A lease displaced by a newer one is a
// no-op here, so a finishing sub-session never tears down its successor.
func (r *Registry) Release(lease *Lease) {
	r.mu.Lock()
	if r.leases[lease.Key] == lease {
		delete(r.leases, lease.Key)
	}
	r.mu.Unlock()
	lease.cancel()
}

// Cancel aborts and removes the lease for key, if any. Returns true when
// something was cancelled.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	lease := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if lease == nil {
		return false
	}
	lease.cancel()
	return true
}

// IsActive reports whether a lease is registered for key.
func (r *Registry) IsActive(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leases[key] != nil
}

// Active returns the registered keys in sorted order.
func (r *Registry) Active() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.leases))
	for k := range r.leases {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Strings(keys)
	return keys
}
