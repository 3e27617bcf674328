// Package uilock serializes access to the desktop automation surface.
//
// The messaging client's UI can only be driven by one caller at a time.
// Every automation call takes a *Session obtained from a Mutex; a nil or
// released session is a programming error and panics.
package uilock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Observer is told about every acquire and release, in order.
type Observer interface {
	Acquired(op string, waited time.Duration)
	Released(op string, held time.Duration)
}

// Mutex is a context-aware mutual exclusion lock. The zero value is not
// usable; call New.
type Mutex struct {
	sem chan struct{}

	mu       sync.Mutex
	holder   string
	observer Observer
}

// New creates an unlocked Mutex.
func New() *Mutex {
	return &Mutex{sem: make(chan struct{}, 1)}
}

// SetObserver installs an observer. Pass nil to remove it.
func (m *Mutex) SetObserver(o Observer) {
	m.mu.Lock()
	m.observer = o
	m.mu.Unlock()
}

// Session is proof that the caller holds the Mutex.
type Session struct {
	m        *Mutex
	op       string
	acquired time.Time
	released atomic.Bool
}

// Acquire blocks until the lock is free or ctx is done. op names the
// logical operation for diagnostics.
func (m *Mutex) Acquire(ctx context.Context, op string) (*Session, error) {
	start := time.Now()
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s := &Session{m: m, op: op, acquired: time.Now()}
	m.mu.Lock()
	m.holder = op
	obs := m.observer
	m.mu.Unlock()
	if obs != nil {
		obs.Acquired(op, s.acquired.Sub(start))
	}
	return s, nil
}

// Do runs fn while holding the lock and releases it afterwards, even if fn
// panics.
func (m *Mutex) Do(ctx context.Context, op string, fn func(*Session) error) error {
	s, err := m.Acquire(ctx, op)
	if err != nil {
		return err
	}
	defer s.Release()
	return fn(s)
}

// Holder returns the operation currently holding the lock, or "".
func (m *Mutex) Holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

// Release frees the lock. Releasing twice is a no-op.
func (s *Session) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	m := s.m
	m.mu.Lock()
	m.holder = ""
	obs := m.observer
	m.mu.Unlock()
	if obs != nil {
		obs.Released(s.op, time.Since(s.acquired))
	}
	<-m.sem
}

// Op returns the operation name the session was acquired for.
func (s *Session) Op() string {
	return s.op
}

// Check panics unless s is a live session. Automation entry points call it
// first.
func (s *Session) Check() {
	if s == nil {
		panic("uilock: automation call without a session")
	}
	if s.released.Load() {
		panic(fmt.Sprintf("uilock: automation call on released session %q", s.op))
	}
}
