package system

import (
	"context"
	"testing"
	"time"

	"emperror.dev/errors"
	. "github.com/franela/goblin"
)

func TestLocker(t *testing.T) {
	g := Goblin(t)

	g.Describe("Locker", func() {
		var l *Locker
		g.BeforeEach(func() {
			l = NewLocker()
		})

		g.Describe("Locker#Acquire", func() {
			g.It("hands out a token when the lock is free", func() {
				tok, err := l.Acquire()

				g.Assert(err).IsNil()
				g.Assert(tok > 0).IsTrue()
				g.Assert(l.IsLocked()).IsTrue()
				g.Assert(l.Holds(tok)).IsTrue()
			})

			g.It("returns an error when the lock is held", func() {
				_, _ = l.Acquire()

				tok, err := l.Acquire()
				g.Assert(err).IsNotNil()
				g.Assert(errors.Is(err, ErrLockerLocked)).IsTrue()
				g.Assert(tok).Equal(uint64(0))
			})

			g.It("never reuses a token", func() {
				a, _ := l.Acquire()
				l.Release(a)
				b, _ := l.Acquire()

				g.Assert(a == b).IsFalse()
				g.Assert(l.Holds(a)).IsFalse()
				g.Assert(l.Holds(b)).IsTrue()
			})
		})

		g.Describe("Locker#TryAcquire", func() {
			g.It("acquires a free lock immediately", func() {
				g.Timeout(time.Second)

				tok, err := l.TryAcquire(context.Background())
				g.Assert(err).IsNil()
				g.Assert(l.Holds(tok)).IsTrue()
			})

			g.It("gives up once the context is done", func() {
				g.Timeout(time.Second)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
				defer cancel()

				_, _ = l.Acquire()
				_, err := l.TryAcquire(ctx)
				g.Assert(errors.Is(err, ErrLockerLocked)).IsTrue()
			})

			g.It("waits until the owner releases the lock", func() {
				g.Timeout(time.Second)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				defer cancel()

				tok, _ := l.Acquire()
				time.AfterFunc(time.Millisecond*50, func() {
					l.Release(tok)
				})

				next, err := l.TryAcquire(ctx)
				g.Assert(err).IsNil()
				g.Assert(l.Holds(next)).IsTrue()
			})
		})

		g.Describe("Locker#Release", func() {
			g.It("frees the lock for the owner", func() {
				tok, _ := l.Acquire()
				g.Assert(l.Release(tok)).IsTrue()
				g.Assert(l.IsLocked()).IsFalse()
			})

			g.It("ignores stale or unknown tokens", func() {
				tok, _ := l.Acquire()
				g.Assert(l.Release(tok + 1)).IsFalse()
				g.Assert(l.Release(0)).IsFalse()
				g.Assert(l.IsLocked()).IsTrue()

				l.Release(tok)
				next, _ := l.Acquire()
				g.Assert(l.Release(tok)).IsFalse()
				g.Assert(l.Holds(next)).IsTrue()
			})
		})

		g.Describe("Locker#Close", func() {
			g.It("releases the lock and refuses new owners", func() {
				tok, _ := l.Acquire()
				l.Close()

				g.Assert(l.IsLocked()).IsFalse()
				g.Assert(l.Holds(tok)).IsFalse()

				_, err := l.Acquire()
				g.Assert(errors.Is(err, ErrLockerClosed)).IsTrue()
				_, err = l.TryAcquire(context.Background())
				g.Assert(errors.Is(err, ErrLockerClosed)).IsTrue()
			})

			g.It("can be called more than once", func() {
				l.Close()
				l.Close()
				_, err := l.Acquire()
				g.Assert(errors.Is(err, ErrLockerClosed)).IsTrue()
			})
		})
	})
}
