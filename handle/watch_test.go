package handle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"emperror.dev/errors"
	. "github.com/franela/goblin"

	"github.com/pterodactyl/sharefs/vfs"
	"github.com/pterodactyl/sharefs/vfs/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []vfs.NotifyEvent
}

func (r *recorder) record(e vfs.NotifyEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []vfs.NotifyEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]vfs.NotifyEvent(nil), r.events...)
}

func (r *recorder) has(path string, action vfs.Action) bool {
	for _, e := range r.snapshot() {
		if e.Path == path && e.Action == action {
			return true
		}
	}
	return false
}

func (r *recorder) hasPrefix(prefix string, action vfs.Action) bool {
	for _, e := range r.snapshot() {
		if strings.HasPrefix(e.Path, prefix) && e.Action == action {
			return true
		}
	}
	return false
}

func eventually(fn func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fn()
}

// flakyDialer fails every dial after the first until it is allowed again.
type flakyDialer struct {
	mu      sync.Mutex
	store   *memory.Store
	dials   int
	failing bool
	active  *memory.Provider
}

func (f *flakyDialer) dial(ctx context.Context) (vfs.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.failing {
		return nil, errors.New("connection refused")
	}
	f.active = f.store.Connect()
	return f.active, nil
}

// droppingProvider goes live and loses its subscription straight away.
type droppingProvider struct {
	*memory.Provider
}

func (p droppingProvider) Watch(_ string, _ vfs.WatchMode, _ vfs.NotifyOp, _ vfs.WatchFunc, ready chan<- struct{}, _ <-chan struct{}) error {
	vfs.Signal(ready)
	return errors.New("connection reset by peer")
}

func TestWatch(t *testing.T) {
	g := Goblin(t)

	g.Describe("Watch", func() {
		var m *Mount
		var store *memory.Store
		var root *DirectoryHandle
		g.BeforeEach(func() {
			m, store = newTestMount()
			root = m.Root()
		})
		g.AfterEach(func() {
			m.Close()
		})

		g.It("delivers changes below the directory", func() {
			var r recorder
			sub, err := root.Watch(r.record)
			g.Assert(err).IsNil()
			defer sub.Cancel()

			first, _ := root.GetDirectoryHandle("first", false)
			_, err = first.GetFileHandle("new", true)
			g.Assert(err).IsNil()
			g.Assert(root.RemoveEntry("3", false)).IsNil()

			g.Assert(eventually(func() bool {
				return r.has("first/new", vfs.ActionCreate) && r.has("3", vfs.ActionRemove)
			})).IsTrue()
		})

		g.It("filters by depth and operation", func() {
			var r recorder
			sub, err := root.WatchWith(vfs.WatchDefault, vfs.OpRemove, r.record)
			g.Assert(err).IsNil()
			defer sub.Cancel()

			first, _ := root.GetDirectoryHandle("first", false)
			_, _ = first.GetFileHandle("new", true)
			g.Assert(first.RemoveEntry("comment", false)).IsNil()
			_, _ = root.GetFileHandle("top", true)
			g.Assert(root.RemoveEntry("3", false)).IsNil()

			g.Assert(eventually(func() bool { return r.has("3", vfs.ActionRemove) })).IsTrue()
			for _, e := range r.snapshot() {
				g.Assert(e.Action).Equal(vfs.ActionRemove)
				g.Assert(e.Path).Equal("3")
			}
		})

		g.It("stops delivering once cancelled", func() {
			var r recorder
			sub, err := root.Watch(r.record)
			g.Assert(err).IsNil()
			g.Assert(store.Listeners()).Equal(1)

			sub.Cancel()
			sub.Cancel()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			g.Assert(sub.WaitContext(ctx)).IsNil()
			g.Assert(sub.Err()).IsNil()
			g.Assert(store.Listeners()).Equal(0)

			_, _ = root.GetFileHandle("after", true)
			time.Sleep(20 * time.Millisecond)
			g.Assert(len(r.snapshot())).Equal(0)
		})

		g.It("fails to start on something that is not a directory", func() {
			d := &DirectoryHandle{Handle{kind: KindDirectory, name: "annar", path: "/annar/", mount: m}}
			_, err := d.Watch(func(vfs.NotifyEvent) {})
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeNotADirectory)).IsTrue()

			gone, _ := root.GetDirectoryHandle("gone", true)
			g.Assert(root.RemoveEntry("gone", false)).IsNil()
			_, err = gone.Watch(func(vfs.NotifyEvent) {})
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeNotFound)).IsTrue()
		})

		g.It("requires a callback and a dialer", func() {
			_, err := root.Watch(nil)
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeInvalidArgument)).IsTrue()

			nm := NewMount(store.Connect(), nil)
			defer nm.Close()
			_, err = nm.Root().Watch(func(vfs.NotifyEvent) {})
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeInvalidState)).IsTrue()
		})

		g.It("retries a subscription that drops right after going live", func() {
			var mu sync.Mutex
			dials := 0
			dial := func(ctx context.Context) (vfs.Provider, error) {
				mu.Lock()
				defer mu.Unlock()
				dials++
				if dials == 1 {
					return droppingProvider{store.Connect()}, nil
				}
				return store.Connect(), nil
			}
			nm := NewMount(store.Connect(), dial, WithReconnect(5*time.Millisecond, 20*time.Millisecond))
			defer nm.Close()

			var r recorder
			sub, err := nm.Root().Watch(r.record)
			g.Assert(err).IsNil()
			defer sub.Cancel()

			attempt := 0
			g.Assert(eventually(func() bool {
				attempt++
				_, _ = nm.Root().GetFileHandle(fmt.Sprintf("retried-%d", attempt), true)
				return r.hasPrefix("retried-", vfs.ActionCreate)
			})).IsTrue()
			g.Assert(sub.Err()).IsNil()
		})

		g.It("subscribes again after losing its connection", func() {
			fd := &flakyDialer{store: store}
			nm := NewMount(store.Connect(), fd.dial, WithReconnect(5*time.Millisecond, 20*time.Millisecond))
			defer nm.Close()

			var r recorder
			sub, err := nm.Root().Watch(r.record)
			g.Assert(err).IsNil()
			defer sub.Cancel()

			// Drop the connection and refuse a couple of redials.
			fd.mu.Lock()
			fd.failing = true
			_ = fd.active.Close()
			fd.mu.Unlock()
			_, _ = nm.Root().GetFileHandle("lost", true)

			g.Assert(eventually(func() bool {
				fd.mu.Lock()
				defer fd.mu.Unlock()
				return fd.dials >= 3
			})).IsTrue()

			fd.mu.Lock()
			fd.failing = false
			fd.mu.Unlock()

			// Creates made before the new subscription is live are not
			// reported, so every attempt uses a fresh name.
			attempt := 0
			g.Assert(eventually(func() bool {
				attempt++
				_, _ = nm.Root().GetFileHandle(fmt.Sprintf("back-%d", attempt), true)
				return r.hasPrefix("back-", vfs.ActionCreate)
			})).IsTrue()
		})
	})
}
