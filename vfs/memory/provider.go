package memory

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pterodactyl/sharefs/events"
	"github.com/pterodactyl/sharefs/vfs"
)

// watchBuffer is the number of events a slow watcher may fall behind before
// the oldest ones are dropped.
const watchBuffer = 64

// Provider is a connection to a Store.
type Provider struct {
	store  *Store
	closed atomic.Bool
	// gone is closed by Close so running watches end with the connection.
	gone chan struct{}
	once sync.Once
}

var _ vfs.Provider = (*Provider)(nil)

func (p *Provider) check() error {
	if p.closed.Load() {
		return vfs.NewError(vfs.ErrCodeInvalidState, "memory: connection is closed")
	}
	return nil
}

func (p *Provider) Stat(path string) (vfs.Stat, error) {
	if err := p.check(); err != nil {
		return vfs.Stat{}, err
	}
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	n, err := p.store.lookup(path)
	if err != nil {
		return vfs.Stat{}, err
	}
	return n.stat(), nil
}

func (p *Provider) Opendir(path string) (vfs.Directory, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	n, err := p.store.lookup(path)
	if err != nil {
		return nil, err
	}
	if !n.dir {
		return nil, vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", path)
	}
	return vfs.NewDirectory(n.listing()), nil
}

func (p *Provider) Mkdir(path string, mode os.FileMode) error {
	if err := p.check(); err != nil {
		return err
	}
	s := p.store
	s.mu.Lock()
	dir, name, err := s.parentOf(path)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := dir.children[name]; ok {
		s.mu.Unlock()
		return vfs.Errorf(vfs.ErrCodeExists, "%q already exists", path)
	}
	dir.children[name] = s.newNode(name, true, mode, s.now())
	dir.mtime = s.now()
	s.mu.Unlock()

	s.publish(path, vfs.ActionCreate)
	return nil
}

func (p *Provider) Rmdir(path string) error {
	if err := p.check(); err != nil {
		return err
	}
	s := p.store
	s.mu.Lock()
	dir, name, err := s.parentOf(path)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	n, ok := dir.children[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return vfs.Errorf(vfs.ErrCodeNotFound, "%q not found", path)
	case !n.dir:
		s.mu.Unlock()
		return vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", path)
	case len(n.children) > 0:
		s.mu.Unlock()
		return vfs.Errorf(vfs.ErrCodeNotEmpty, "%q is not empty", path)
	}
	delete(dir.children, name)
	dir.mtime = s.now()
	s.mu.Unlock()

	s.publish(path, vfs.ActionRemove)
	return nil
}

func (p *Provider) Create(path string, flag int, mode os.FileMode) (vfs.File, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	s := p.store
	s.mu.Lock()
	dir, name, err := s.parentOf(path)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if n, ok := dir.children[name]; ok {
		s.mu.Unlock()
		if n.dir {
			return nil, vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory", path)
		}
		if flag&os.O_EXCL != 0 {
			return nil, vfs.Errorf(vfs.ErrCodeExists, "%q already exists", path)
		}
		return p.openNode(path, n, flag)
	}
	n := s.newNode(name, false, mode, s.now())
	dir.children[name] = n
	dir.mtime = s.now()
	s.mu.Unlock()

	s.publish(path, vfs.ActionCreate)
	return &file{store: s, node: n, path: path, flag: flag}, nil
}

func (p *Provider) Open(path string, flag int) (vfs.File, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	s := p.store
	s.mu.RLock()
	n, err := s.lookup(path)
	s.mu.RUnlock()
	if err != nil {
		if flag&os.O_CREATE != 0 && vfs.IsErrorCode(err, vfs.ErrCodeNotFound) {
			return p.Create(path, flag, 0o666)
		}
		return nil, err
	}
	if n.dir {
		return nil, vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory", path)
	}
	return p.openNode(path, n, flag)
}

func (p *Provider) openNode(path string, n *node, flag int) (vfs.File, error) {
	if flag&os.O_TRUNC != 0 && writable(flag) {
		s := p.store
		s.mu.Lock()
		n.data = nil
		n.mtime = s.now()
		s.mu.Unlock()
		s.publish(path, vfs.ActionWrite)
	}
	return &file{store: p.store, node: n, path: path, flag: flag}, nil
}

func (p *Provider) Unlink(path string) error {
	if err := p.check(); err != nil {
		return err
	}
	s := p.store
	s.mu.Lock()
	dir, name, err := s.parentOf(path)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	n, ok := dir.children[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return vfs.Errorf(vfs.ErrCodeNotFound, "%q not found", path)
	case n.dir:
		s.mu.Unlock()
		return vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory", path)
	}
	delete(dir.children, name)
	dir.mtime = s.now()
	s.mu.Unlock()

	s.publish(path, vfs.ActionRemove)
	return nil
}

func (p *Provider) Truncate(path string, size int64) error {
	if err := p.check(); err != nil {
		return err
	}
	if size < 0 {
		return vfs.NewError(vfs.ErrCodeInvalidArgument, "size must not be negative")
	}
	s := p.store
	s.mu.Lock()
	n, err := s.lookup(path)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if n.dir {
		s.mu.Unlock()
		return vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory", path)
	}
	n.data = resize(n.data, size)
	n.mtime = s.now()
	s.mu.Unlock()

	s.publish(path, vfs.ActionWrite)
	return nil
}

// Watch subscribes to the store's change feed. Events published before the
// ready signal are not seen.
func (p *Provider) Watch(path string, mode vfs.WatchMode, mask vfs.NotifyOp, fn vfs.WatchFunc, ready chan<- struct{}, cancel <-chan struct{}) error {
	if err := p.check(); err != nil {
		return err
	}
	st, err := p.Stat(path)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", path)
	}

	ch := make(chan []byte, watchBuffer)
	p.store.bus.On(ch)
	defer p.store.bus.Off(ch)

	vfs.Signal(ready)
	for {
		select {
		case <-cancel:
			return nil
		case <-p.gone:
			return vfs.NewError(vfs.ErrCodeInvalidState, "memory: connection is closed")
		case b, ok := <-ch:
			if !ok {
				return nil
			}
			var e vfs.NotifyEvent
			if err := events.MustDecode(b).Decode(&e); err != nil {
				continue
			}
			if !e.Action.Matches(mask) {
				continue
			}
			rel, ok := vfs.Relative(path, e.Path, mode)
			if !ok {
				continue
			}
			e.Path = rel
			if e.FromPath != "" {
				e.FromPath, _ = vfs.Relative(path, e.FromPath, vfs.WatchRecursive)
			}
			// Cancellation may have raced with the receive above.
			select {
			case <-cancel:
				return nil
			default:
			}
			fn(e)
		}
	}
}

// Close detaches the provider from the store. The store itself lives on.
func (p *Provider) Close() error {
	p.closed.Store(true)
	p.once.Do(func() {
		close(p.gone)
	})
	return nil
}

func writable(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR) != 0
}

func resize(b []byte, size int64) []byte {
	if int64(len(b)) >= size {
		return b[:size]
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}
