package sftpfs

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pterodactyl/sharefs/vfs"
)

type entryState struct {
	dir   bool
	size  int64
	mtime time.Time
}

type snapshot map[string]entryState

// Watch polls the tree below name because SFTP has no change notification.
// Creations, removals and size or modification time changes are reported;
// renames show up as a removal followed by a creation.
func (p *Provider) Watch(name string, mode vfs.WatchMode, mask vfs.NotifyOp, fn vfs.WatchFunc, ready chan<- struct{}, cancel <-chan struct{}) error {
	st, err := p.Stat(name)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", name)
	}

	prev, err := p.snapshot(name, mode)
	if err != nil {
		return err
	}
	vfs.Signal(ready)

	t := time.NewTicker(p.poll)
	defer t.Stop()
	for {
		select {
		case <-cancel:
			return nil
		case <-t.C:
		}

		next, err := p.snapshot(name, mode)
		if err != nil {
			return err
		}
		for _, e := range diff(prev, next) {
			if !e.Action.Matches(mask) {
				continue
			}
			select {
			case <-cancel:
				return nil
			default:
			}
			fn(e)
		}
		prev = next
	}
}

// snapshot records every entry below name keyed by its path relative to
// name. In recursive mode each top level directory is walked concurrently.
func (p *Provider) snapshot(name string, mode vfs.WatchMode) (snapshot, error) {
	base := p.abs(name)
	infos, err := p.client.ReadDir(base)
	if err != nil {
		return nil, convert("watch", name, err)
	}

	snap := make(snapshot, len(infos))
	var dirs []string
	for _, fi := range infos {
		if fi.Name() == "." || fi.Name() == ".." {
			continue
		}
		snap[fi.Name()] = entryState{dir: fi.IsDir(), size: fi.Size(), mtime: fi.ModTime()}
		if fi.IsDir() {
			dirs = append(dirs, fi.Name())
		}
	}
	if mode != vfs.WatchRecursive {
		return snap, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, d := range dirs {
		d := d
		g.Go(func() error {
			w := p.client.Walk(path.Join(base, d))
			for w.Step() {
				if err := w.Err(); err != nil {
					// Entries can vanish between listing and stat.
					continue
				}
				rel := strings.TrimPrefix(w.Path(), base+"/")
				if base == "/" {
					rel = strings.TrimPrefix(w.Path(), "/")
				}
				if rel == d {
					continue
				}
				fi := w.Stat()
				mu.Lock()
				snap[rel] = entryState{dir: fi.IsDir(), size: fi.Size(), mtime: fi.ModTime()}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// diff returns the events that turn prev into next: creations first, then
// writes, then removals, each in path order.
func diff(prev, next snapshot) []vfs.NotifyEvent {
	var created, written, removed []string
	for p, n := range next {
		o, ok := prev[p]
		switch {
		case !ok:
			created = append(created, p)
		case !n.dir && (o.size != n.size || !o.mtime.Equal(n.mtime)):
			written = append(written, p)
		}
	}
	for p := range prev {
		if _, ok := next[p]; !ok {
			removed = append(removed, p)
		}
	}
	sort.Strings(created)
	sort.Strings(written)
	sort.Strings(removed)

	out := make([]vfs.NotifyEvent, 0, len(created)+len(written)+len(removed))
	for _, p := range created {
		out = append(out, vfs.NotifyEvent{Path: p, Action: vfs.ActionCreate})
	}
	for _, p := range written {
		out = append(out, vfs.NotifyEvent{Path: p, Action: vfs.ActionWrite})
	}
	for _, p := range removed {
		out = append(out, vfs.NotifyEvent{Path: p, Action: vfs.ActionRemove})
	}
	return out
}
