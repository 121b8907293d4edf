package memory

import (
	"os"
	"sync/atomic"

	"github.com/pterodactyl/sharefs/vfs"
)

// file is an open handle on a node. Like a POSIX descriptor it keeps working
// on the node after the entry has been unlinked.
type file struct {
	store  *Store
	node   *node
	path   string
	flag   int
	closed atomic.Bool
}

var _ vfs.File = (*file)(nil)

func (f *file) check() error {
	if f.closed.Load() {
		return vfs.Errorf(vfs.ErrCodeInvalidState, "%q: file already closed", f.path)
	}
	return nil
}

func (f *file) Fstat() (vfs.Stat, error) {
	if err := f.check(); err != nil {
		return vfs.Stat{}, err
	}
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	return f.node.stat(), nil
}

func (f *file) Pread(count int, offset int64) ([]byte, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	if f.flag&os.O_WRONLY != 0 {
		return nil, vfs.Errorf(vfs.ErrCodePermissionDenied, "%q: file not open for reading", f.path)
	}
	if count < 0 || offset < 0 {
		return nil, vfs.NewError(vfs.ErrCodeInvalidArgument, "count and offset must not be negative")
	}
	if count > f.store.maxRead {
		count = f.store.maxRead
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	size := int64(len(f.node.data))
	if offset >= size {
		return []byte{}, nil
	}
	end := offset + int64(count)
	if end > size {
		end = size
	}
	out := make([]byte, end-offset)
	copy(out, f.node.data[offset:end])
	f.node.atime = f.store.now()
	return out, nil
}

func (f *file) Pwrite(data []byte, offset int64) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if !writable(f.flag) {
		return 0, vfs.Errorf(vfs.ErrCodePermissionDenied, "%q: file not open for writing", f.path)
	}
	if offset < 0 {
		return 0, vfs.NewError(vfs.ErrCodeInvalidArgument, "offset must not be negative")
	}

	s := f.store
	s.mu.Lock()
	end := offset + int64(len(data))
	if end > int64(len(f.node.data)) {
		f.node.data = resize(f.node.data, end)
	}
	copy(f.node.data[offset:], data)
	f.node.mtime = s.now()
	s.mu.Unlock()

	s.publish(f.path, vfs.ActionWrite)
	return len(data), nil
}

func (f *file) MaxReadSize() (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return f.store.maxRead, nil
}

func (f *file) Close() error {
	if f.closed.Swap(true) {
		return vfs.Errorf(vfs.ErrCodeInvalidState, "%q: file already closed", f.path)
	}
	return nil
}
