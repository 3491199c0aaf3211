package gateway

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Mode selects how the lock is acquired.
type Mode int

const (
	// Blocking waits until the lock is free.
	Blocking Mode = iota
	// NonBlocking fails immediately with ErrBusy if the lock is held.
	NonBlocking
)

func (m Mode) String() string {
	switch m {
	case Blocking:
		return "blocking"
	case NonBlocking:
		return "non-blocking"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Locker grants exclusive access to the transport for the duration of fn.
type Locker interface {
	Do(ctx context.Context, mode Mode, fn func(context.Context) error) error
}

// Lock guards the single modem of an endpoint. Failed non-blocking attempts are not queued.
type Lock struct {
	sem *semaphore.Weighted
}

func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the lock is free or the context is done.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return nil
}

// TryAcquire takes the lock if it is free and reports if it did so.
func (l *Lock) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release frees the lock. It must only be called by the current holder.
func (l *Lock) Release() {
	l.sem.Release(1)
}

// Do runs fn while holding the lock. The lock is released on every exit path of fn, including a panic.
func (l *Lock) Do(ctx context.Context, mode Mode, fn func(context.Context) error) error {
	switch mode {
	case NonBlocking:
		if !l.TryAcquire() {
			return ErrBusy
		}
	default:
		if err := l.Acquire(ctx); err != nil {
			return err
		}
	}
	defer l.Release()

	return fn(ctx)
}
