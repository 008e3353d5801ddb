package engine

import (
	"context"
	"sync"
	"time"
)

// Unit handles synchronization management, startup, and shutdown for an
// engine: it tracks launched goroutines, provides a mutex for serial access
// to engine state, and exposes ready/done channels for lifecycle handling.
type Unit struct {
	admitLock sync.Mutex // used for synchronizing context cancellation with work admittance

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	sync.Mutex // can be used to synchronize engine specific state
}

// NewUnit returns a new unit.
func NewUnit() *Unit {
	ctx, cancel := context.WithCancel(context.Background())
	return &Unit{
		ctx:    ctx,
		cancel: cancel,
	}
}

// admit returns true if work is accepted (the unit is not shut down), and
// registers it with the wait group.
func (u *Unit) admit() bool {
	u.admitLock.Lock()
	defer u.admitLock.Unlock()

	select {
	case <-u.ctx.Done():
		return false
	default:
	}

	u.wg.Add(1)
	return true
}

// stopAdmitting cancels the context, so that no more work is admitted.
func (u *Unit) stopAdmitting() {
	u.admitLock.Lock()
	defer u.admitLock.Unlock()

	u.cancel()
}

// Do synchronously executes the input function f unless the unit has shut
// down. It returns the result of f or nil if the unit is shut down.
func (u *Unit) Do(f func() error) error {
	if !u.admit() {
		return nil
	}
	defer u.wg.Done()
	return f()
}

// Launch asynchronously executes the input function unless the unit has shut
// down, in which case the function is not executed.
func (u *Unit) Launch(f func()) {
	if !u.admit() {
		return
	}
	go func() {
		defer u.wg.Done()
		f()
	}()
}

// LaunchAfter asynchronously executes the input function after a delay.
func (u *Unit) LaunchAfter(delay time.Duration, f func()) {
	u.Launch(func() {
		select {
		case <-u.ctx.Done():
			return
		case <-time.After(delay):
			f()
		}
	})
}

// LaunchPeriodically asynchronously executes the input function on a
// periodic interval, waiting for the delay before the first execution.
func (u *Unit) LaunchPeriodically(f func(), interval time.Duration, delay time.Duration) {
	u.Launch(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		select {
		case <-u.ctx.Done():
			return
		case <-time.After(delay):
		}

		for {
			select {
			case <-u.ctx.Done():
				return
			default:
			}

			select {
			case <-u.ctx.Done():
				return
			case <-ticker.C:
				f()
			}
		}
	})
}

// Ready returns a channel that is closed when the unit is ready. Any
// provided startup checks are executed before the channel closes.
func (u *Unit) Ready(checks ...func()) <-chan struct{} {
	ready := make(chan struct{})
	go func() {
		for _, check := range checks {
			check()
		}
		close(ready)
	}()
	return ready
}

// Quit returns a channel that is closed when the unit begins to shut down.
func (u *Unit) Quit() <-chan struct{} {
	return u.ctx.Done()
}

// Ctx returns a context that is cancelled when the unit shuts down, for
// passing to blocking operations launched within the unit.
func (u *Unit) Ctx() context.Context {
	return u.ctx
}

// Done returns a channel that is closed when the unit is done: shutdown has
// been initiated, all pending work has completed, and any provided cleanup
// actions have run.
func (u *Unit) Done(actions ...func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		u.stopAdmitting()
		u.wg.Wait()
		for _, action := range actions {
			action()
		}
		close(done)
	}()
	return done
}
