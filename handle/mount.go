// Package handle implements directory and file handles, readable and
// writable streams and change watches on top of a vfs.Provider.
//
// Every handle derived from the same root shares a single Mount. The Mount
// owns the provider connection and serializes all calls made on it, so two
// operations issued concurrently never interleave on the wire. Watches dial
// their own connection and never touch the shared one.
package handle

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gammazero/workerpool"

	"github.com/pterodactyl/sharefs/config"
	"github.com/pterodactyl/sharefs/vfs"
	"github.com/pterodactyl/sharefs/vfs/memory"
	"github.com/pterodactyl/sharefs/vfs/sftpfs"
)

const (
	DefaultWorkers          = 4
	DefaultReconnectInitial = 250 * time.Millisecond
	DefaultReconnectMax     = 30 * time.Second
)

// Mount is one connection to a share plus everything needed to use it from
// many goroutines at once.
type Mount struct {
	mu       sync.Mutex
	provider vfs.Provider
	closed   bool

	dial vfs.Dialer

	// poolMu guards pool against submissions racing with Close.
	poolMu sync.RWMutex
	pool   *workerpool.WorkerPool

	reconnectInitial time.Duration
	reconnectMax     time.Duration

	logger *log.Entry
}

type MountOption func(*Mount)

// WithWorkers sets how many blocking operations dispatched through Go may
// run at the same time.
func WithWorkers(n int) MountOption {
	return func(m *Mount) {
		if n > 0 {
			m.pool = workerpool.New(n)
		}
	}
}

// WithReconnect sets the bounds of the backoff used when a watch loses its
// connection and has to subscribe again.
func WithReconnect(initial, max time.Duration) MountOption {
	return func(m *Mount) {
		if initial > 0 {
			m.reconnectInitial = initial
		}
		if max > 0 {
			m.reconnectMax = max
		}
	}
}

// NewMount wraps an already connected provider. The dialer is used to open
// the independent connections that watches run on; a nil dialer makes Watch
// fail with an invalid state error.
func NewMount(p vfs.Provider, dial vfs.Dialer, opts ...MountOption) *Mount {
	m := &Mount{
		provider:         p,
		dial:             dial,
		reconnectInitial: DefaultReconnectInitial,
		reconnectMax:     DefaultReconnectMax,
		logger:           log.WithField("subsystem", "mount"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pool == nil {
		m.pool = workerpool.New(DefaultWorkers)
	}
	return m
}

// Connect opens the share described by the configuration. The memory
// backend gets a fresh fixture store on every call, and watches dial back
// into that same store.
func Connect(ctx context.Context, c *config.Configuration) (*Mount, error) {
	opts := []MountOption{
		WithWorkers(c.Workers),
		WithReconnect(
			time.Duration(c.Watch.ReconnectInitial)*time.Millisecond,
			time.Duration(c.Watch.ReconnectMax)*time.Millisecond,
		),
	}

	switch c.Share.Backend {
	case config.BackendMemory:
		store := memory.New(memory.WithMaxReadSize(c.Transfer.MaxReadSize))
		m := NewMount(store.Connect(), store.Dialer(), opts...)
		m.logger = m.logger.WithField("backend", config.BackendMemory)
		return m, nil
	case config.BackendSftp:
		cfg := sftpfs.Config{
			Address:        c.Share.Address,
			Username:       c.Share.Username,
			Password:       c.Share.Password,
			PrivateKey:     c.Share.PrivateKey,
			KnownHosts:     c.Share.KnownHosts,
			Insecure:       c.Share.InsecureIgnoreHostKey,
			Root:           c.Share.Root,
			MaxReadSize:    c.Transfer.MaxReadSize,
			BytesPerSecond: c.Transfer.BytesPerSecond,
			PollInterval:   c.PollInterval(),
		}
		p, err := sftpfs.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		m := NewMount(p, sftpfs.Dialer(cfg), opts...)
		m.logger = m.logger.WithFields(log.Fields{"backend": config.BackendSftp, "address": cfg.Address})
		return m, nil
	}
	return nil, vfs.Errorf(vfs.ErrCodeInvalidArgument, "unknown share backend %q", c.Share.Backend)
}

// Root returns a handle to the top level directory of the share.
func (m *Mount) Root() *DirectoryHandle {
	return newDirectoryHandle(m, vfs.Root, vfs.Root)
}

// with runs fn while holding the connection lock.
func (m *Mount) with(fn func(p vfs.Provider) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return vfs.NewError(vfs.ErrCodeInvalidState, "The share has been unmounted.")
	}
	return fn(m.provider)
}

// Close waits for queued operations, then closes the shared connection.
// Watches that are still running keep their own connections until they are
// cancelled.
func (m *Mount) Close() error {
	m.poolMu.Lock()
	if m.pool != nil {
		m.pool.StopWait()
		m.pool = nil
	}
	m.poolMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if err := m.provider.Close(); err != nil {
		return errors.WithMessage(err, "mount: failed to close provider")
	}
	return nil
}

// Result is the outcome of an operation dispatched with Go.
type Result[T any] struct {
	Value T
	Err   error
}

// Go runs fn on the mount's worker pool and delivers its result on the
// returned channel, which is buffered so the worker never blocks on a caller
// that stopped listening.
func Go[T any](m *Mount, fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	if m == nil {
		ch <- Result[T]{Err: vfs.NewError(vfs.ErrCodeUnbound, "")}
		return ch
	}

	m.poolMu.RLock()
	defer m.poolMu.RUnlock()
	if m.pool == nil {
		ch <- Result[T]{Err: vfs.NewError(vfs.ErrCodeInvalidState, "The share has been unmounted.")}
		return ch
	}
	m.pool.Submit(func() {
		v, err := fn()
		ch <- Result[T]{Value: v, Err: err}
	})
	return ch
}

// Await blocks until the result of a Go call is available or ctx is done.
func Await[T any](ctx context.Context, ch <-chan Result[T]) (T, error) {
	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
