// Package memory implements an in-memory share. It backs the test suite and
// the development SFTP server, and is selected at connect time when mocks are
// requested.
package memory

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pterodactyl/sharefs/events"
	"github.com/pterodactyl/sharefs/vfs"
)

// DefaultMaxReadSize is the largest single read the store serves.
const DefaultMaxReadSize = 8 << 20

const notifyTopic = "notify"

type node struct {
	name     string
	dir      bool
	mode     os.FileMode
	data     []byte
	children map[string]*node
	ino      uint64

	atime, mtime, ctime, btime time.Time
}

func (n *node) stat() vfs.Stat {
	st := vfs.Stat{
		Ino:   n.ino,
		Nlink: 1,
		Size:  int64(len(n.data)),
		Type:  vfs.TypeFile,
		Atime: vfs.TimeOf(n.atime),
		Mtime: vfs.TimeOf(n.mtime),
		Ctime: vfs.TimeOf(n.ctime),
		Btime: vfs.TimeOf(n.btime),
	}
	if n.dir {
		st.Type = vfs.TypeDirectory
		st.Size = 0
		st.Nlink = 2
	}
	return st
}

func (n *node) entry() vfs.DirEntry {
	st := n.stat()
	return vfs.DirEntry{
		Name:  n.name,
		Type:  st.Type,
		Ino:   st.Ino,
		Nlink: st.Nlink,
		Size:  st.Size,
		Atime: st.Atime,
		Mtime: st.Mtime,
		Ctime: st.Ctime,
		Btime: st.Btime,
	}
}

// listing returns the children of a directory with files first in ascending
// name order, followed by directories in descending name order.
func (n *node) listing() []vfs.DirEntry {
	var files, dirs []*node
	for _, c := range n.children {
		if c.dir {
			dirs = append(dirs, c)
		} else {
			files = append(files, c)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].name > dirs[j].name })

	out := make([]vfs.DirEntry, 0, len(files)+len(dirs))
	for _, f := range files {
		out = append(out, f.entry())
	}
	for _, d := range dirs {
		out = append(out, d.entry())
	}
	return out
}

// Store holds the contents of an in-memory share. Any number of providers can
// be connected to the same store; they all observe the same tree.
type Store struct {
	mu      sync.RWMutex
	root    *node
	ino     uint64
	bus     *events.Bus
	maxRead int
	now     func() time.Time
}

type Option func(*Store)

// WithMaxReadSize overrides the largest single read the store serves.
// Values below one keep the default.
func WithMaxReadSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRead = n
		}
	}
}

// WithClock sets the function used to timestamp changes.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		s.now = fn
	}
}

// NewEmpty returns a store containing only the root directory.
func NewEmpty(opts ...Option) *Store {
	s := &Store{
		bus:     events.NewBus(),
		maxRead: DefaultMaxReadSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	t := s.now()
	s.root = s.newNode("", true, 0o775, t)
	return s
}

// New returns a store seeded with the fixture tree.
func New(opts ...Option) *Store {
	s := NewEmpty(opts...)
	s.seed()
	return s
}

// Connect returns a new provider attached to the store.
func (s *Store) Connect() *Provider {
	return &Provider{store: s, gone: make(chan struct{})}
}

// Dialer returns a vfs.Dialer that attaches new providers to this store.
func (s *Store) Dialer() vfs.Dialer {
	return func(ctx context.Context) (vfs.Provider, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return s.Connect(), nil
	}
}

// Listeners returns the number of watches currently subscribed to the store.
func (s *Store) Listeners() int {
	return s.bus.Len()
}

func (s *Store) newNode(name string, dir bool, mode os.FileMode, t time.Time) *node {
	s.ino++
	n := &node{
		name:  name,
		dir:   dir,
		mode:  mode,
		ino:   s.ino,
		atime: t,
		mtime: t,
		ctime: t,
		btime: t,
	}
	if dir {
		n.children = make(map[string]*node)
	}
	return n
}

// lookup walks the tree. The caller must hold the lock.
func (s *Store) lookup(p string) (*node, error) {
	n := s.root
	segs := vfs.Segments(p)
	for i, seg := range segs {
		if !n.dir {
			return nil, vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", "/"+strings.Join(segs[:i], "/"))
		}
		c, ok := n.children[seg]
		if !ok {
			return nil, vfs.Errorf(vfs.ErrCodeNotFound, "%q not found", p)
		}
		n = c
	}
	if vfs.IsDirPath(p) && !n.dir {
		return nil, vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", p)
	}
	return n, nil
}

// parentOf returns the directory that holds p and the final name. The caller
// must hold the lock.
func (s *Store) parentOf(p string) (*node, string, error) {
	parent, name := vfs.ParentAndName(p)
	if name == "" {
		return nil, "", vfs.NewError(vfs.ErrCodeInvalidArgument, "operation not permitted on the root directory")
	}
	dir, err := s.lookup(parent)
	if err != nil {
		if vfs.IsErrorCode(err, vfs.ErrCodeNotFound) {
			return nil, "", vfs.Errorf(vfs.ErrCodeNotFound, "parent directory of %q not found", p)
		}
		return nil, "", err
	}
	if !dir.dir {
		return nil, "", vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", parent)
	}
	return dir, name, nil
}

func (s *Store) publish(p string, action vfs.Action) {
	s.bus.Publish(notifyTopic, vfs.NotifyEvent{Path: clean(p), Action: action})
}

// clean returns the canonical absolute form of p without a trailing slash.
func clean(p string) string {
	return "/" + strings.Join(vfs.Segments(p), "/")
}
