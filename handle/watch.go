package handle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/pterodactyl/sharefs/vfs"
)

var errSubscriptionEnded = errors.Sentinel("watch: subscription ended")

// Subscription is a running watch. It owns its own connection to the share
// and keeps subscribing again, with backoff, if that connection drops.
type Subscription struct {
	id   string
	path string
	mode vfs.WatchMode
	mask vfs.NotifyOp
	fn   vfs.WatchFunc
	dial vfs.Dialer

	ready  chan struct{}
	cancel chan struct{}
	done   chan struct{}
	once   sync.Once

	started atomic.Bool
	err     error

	initial, max time.Duration
	logger       *log.Entry
}

// Watch reports every change below the directory to fn until the returned
// subscription is cancelled. It returns once the watch is live, or with the
// error that kept it from starting.
func (d *DirectoryHandle) Watch(fn vfs.WatchFunc) (*Subscription, error) {
	return d.WatchWith(vfs.WatchRecursive, vfs.OpAll, fn)
}

// WatchWith is Watch with an explicit depth and set of operations.
func (d *DirectoryHandle) WatchWith(mode vfs.WatchMode, mask vfs.NotifyOp, fn vfs.WatchFunc) (*Subscription, error) {
	if d.mount == nil {
		return nil, vfs.Errorf(vfs.ErrCodeUnbound, "The %s handle %q is not bound to a share.", d.kind, d.name)
	}
	if d.mount.dial == nil {
		return nil, vfs.NewError(vfs.ErrCodeInvalidState, "The share does not support watching.")
	}
	if fn == nil {
		return nil, vfs.NewError(vfs.ErrCodeInvalidArgument, "A watch callback is required.")
	}

	id := uuid.New().String()
	s := &Subscription{
		id:      id,
		path:    d.path,
		mode:    mode,
		mask:    mask,
		fn:      fn,
		dial:    d.mount.dial,
		ready:   make(chan struct{}, 1),
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
		initial: d.mount.reconnectInitial,
		max:     d.mount.reconnectMax,
		logger:  log.WithFields(log.Fields{"subsystem": "watch", "session": id, "path": d.path}),
	}
	go s.run()

	select {
	case <-s.ready:
		s.logger.Debug("watch subscription is live")
		return s, nil
	case <-s.done:
		// The watch may have gone live and ended before this select ran.
		if !s.started.Load() && s.err != nil {
			return nil, s.err
		}
		return s, nil
	}
}

// ID returns the session id used in log entries.
func (s *Subscription) ID() string {
	return s.id
}

// Cancel asks the watch to stop. It is safe to call any number of times and
// from any goroutine. A callback that is already running may still finish
// after Cancel returns; call Wait to be sure no more events arrive.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.cancel)
	})
}

// Wait blocks until the watch has shut down.
func (s *Subscription) Wait() {
	<-s.done
}

// WaitContext is Wait bounded by ctx.
func (s *Subscription) WaitContext(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the watch has shut down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the watch, if it did not end by being
// cancelled. It is only meaningful after Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) cancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

func (s *Subscription) run() {
	defer close(s.done)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		select {
		case <-s.cancel:
			stop()
		case <-ctx.Done():
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	b.MaxInterval = s.max
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		err := s.subscribe(ctx)
		if s.cancelled() {
			return nil
		}
		if err == nil {
			err = errSubscriptionEnded
		}
		if !s.started.Load() || permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		s.logger.WithField("error", err).WithField("retry_in", d).Warn("watch subscription lost, subscribing again")
	})
	if err != nil && !s.cancelled() {
		s.err = err
		s.logger.WithField("error", err).Error("watch subscription failed")
		return
	}
	s.logger.Debug("watch subscription cancelled")
}

// subscribe dials a new connection and blocks in the provider's watch loop
// until it is cancelled or fails.
func (s *Subscription) subscribe(ctx context.Context) error {
	p, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	live := make(chan struct{}, 1)
	stop := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		select {
		case <-live:
			s.markLive()
		case <-stop:
		}
	}()
	err = p.Watch(s.path, s.mode, s.mask, s.deliver, live, s.cancel)
	close(stop)
	<-forwarded
	select {
	case <-live:
		s.markLive()
	default:
	}
	return err
}

// markLive records that a subscription was established before telling
// WatchWith, so a drop right after is retried rather than treated as a
// failure to start.
func (s *Subscription) markLive() {
	s.started.Store(true)
	vfs.Signal(s.ready)
}

func (s *Subscription) deliver(e vfs.NotifyEvent) {
	if s.cancelled() {
		return
	}
	s.fn(e)
}

// permanent reports whether subscribing again could never succeed.
func permanent(err error) bool {
	switch vfs.CodeOf(err) {
	case vfs.ErrCodeNotFound, vfs.ErrCodeNotADirectory, vfs.ErrCodePermissionDenied, vfs.ErrCodeInvalidArgument, vfs.ErrCodeUnbound:
		return true
	}
	return false
}
