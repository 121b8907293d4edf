package system

import (
	"context"
	"sync"

	"emperror.dev/errors"
)

var (
	ErrLockerLocked = errors.Sentinel("locker: cannot acquire lock, already locked")
	ErrLockerClosed = errors.Sentinel("locker: lock has been closed")
)

// Locker is an exclusive lock that hands out an owner token on acquisition.
// Only the holder of the current token can release it, so a stale owner that
// already gave up the lock can never free it for somebody else. Unlike a
// sync.Mutex it never blocks unless TryAcquire is used.
type Locker struct {
	mu     sync.Mutex
	ch     chan struct{}
	owner  uint64
	next   uint64
	closed bool
}

// NewLocker returns a new Locker instance.
func NewLocker() *Locker {
	return &Locker{
		ch: make(chan struct{}, 1),
	}
}

// IsLocked reports whether something currently holds the lock.
func (l *Locker) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner != 0
}

// Holds reports whether token is the current owner of the lock.
func (l *Locker) Holds(token uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return token != 0 && l.owner == token
}

// Acquire takes the lock if it is free and returns ErrLockerLocked otherwise.
func (l *Locker) Acquire() (uint64, error) {
	select {
	case l.ch <- struct{}{}:
		return l.claim()
	default:
		if l.isClosed() {
			return 0, ErrLockerClosed
		}
		return 0, ErrLockerLocked
	}
}

// TryAcquire waits for the lock until the context is done, in which case
// ErrLockerLocked is returned.
func (l *Locker) TryAcquire(ctx context.Context) (uint64, error) {
	if l.isClosed() {
		return 0, ErrLockerClosed
	}
	select {
	case l.ch <- struct{}{}:
		return l.claim()
	case <-ctx.Done():
		return 0, ErrLockerLocked
	}
}

// Release frees the lock if token is the current owner and reports whether
// it did so.
func (l *Locker) Release(token uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token == 0 || l.owner != token {
		return false
	}
	l.owner = 0
	<-l.ch
	return true
}

// Close releases the lock regardless of its owner. Every later acquisition
// fails with ErrLockerClosed.
func (l *Locker) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.owner = 0
	// Park a value in the channel so nothing can take the slot again.
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

func (l *Locker) claim() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrLockerClosed
	}
	l.next++
	l.owner = l.next
	return l.owner, nil
}

func (l *Locker) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
