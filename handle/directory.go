package handle

import (
	"io"
	"os"

	"emperror.dev/errors"

	"github.com/pterodactyl/sharefs/vfs"
)

const (
	dirMode  os.FileMode = 0o775
	fileMode os.FileMode = 0o664
)

// DirectoryHandle is a handle to a directory on the share.
type DirectoryHandle struct {
	Handle
}

func newDirectoryHandle(m *Mount, path, name string) *DirectoryHandle {
	return &DirectoryHandle{Handle{kind: KindDirectory, name: name, path: path, mount: m}}
}

// Entries is a one-shot iterator over the children of a directory. It holds
// a snapshot taken when it was created; call Entries again for a fresh one.
type Entries struct {
	items []Entry
	pos   int
}

// Next returns the next child and its name, or io.EOF once every child has
// been returned.
func (e *Entries) Next() (string, Entry, error) {
	if e.pos >= len(e.items) {
		return "", nil, io.EOF
	}
	item := e.items[e.pos]
	e.pos++
	return item.Name(), item, nil
}

// Len returns the number of children in the snapshot.
func (e *Entries) Len() int {
	return len(e.items)
}

// Entries lists the directory once. The "." and ".." pseudo entries are never
// returned.
func (d *DirectoryHandle) Entries() (*Entries, error) {
	var items []Entry
	err := d.with(func(p vfs.Provider) (err error) {
		items, err = d.children(p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Entries{items: items}, nil
}

// Keys returns the names of the children of the directory.
func (d *DirectoryHandle) Keys() ([]string, error) {
	it, err := d.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, it.Len())
	for _, e := range it.items {
		out = append(out, e.Name())
	}
	return out, nil
}

// Values returns the children of the directory.
func (d *DirectoryHandle) Values() ([]Entry, error) {
	it, err := d.Entries()
	if err != nil {
		return nil, err
	}
	return it.items, nil
}

// children lists the directory on p. The caller holds the mount lock.
func (d *DirectoryHandle) children(p vfs.Provider) ([]Entry, error) {
	dir, err := p.Opendir(d.path)
	if err != nil {
		return nil, err
	}
	list, err := vfs.ReadDirectory(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		out = append(out, handleFor(d.mount, d.path, e))
	}
	return out, nil
}

// lookup finds a direct child by name in a fresh listing.
func (d *DirectoryHandle) lookup(p vfs.Provider, name string) (Entry, bool, error) {
	items, err := d.children(p)
	if err != nil {
		return nil, false, err
	}
	for _, e := range items {
		if e.Name() == name {
			return e, true, nil
		}
	}
	return nil, false, nil
}

// GetDirectoryHandle returns the child directory called name. When it does
// not exist and create is set it is created first.
func (d *DirectoryHandle) GetDirectoryHandle(name string, create bool) (*DirectoryHandle, error) {
	if err := vfs.ValidateName(name); err != nil {
		return nil, err
	}
	var out *DirectoryHandle
	err := d.with(func(p vfs.Provider) error {
		e, ok, err := d.lookup(p, name)
		if err != nil {
			return err
		}
		if ok {
			if e.Kind() != KindDirectory {
				return vfs.Errorf(vfs.ErrCodeNotADirectory, "The path %q exists, but was not an entry of requested type.", e.Path())
			}
			out = e.(*DirectoryHandle)
			return nil
		}
		if !create {
			return vfs.Errorf(vfs.ErrCodeNotFound, "Directory %q not found.", name)
		}
		path := vfs.ChildPath(d.path, name, true)
		if err := p.Mkdir(vfs.TrimDir(path), dirMode); err != nil {
			return errors.WithMessagef(err, "failed to create directory %q", name)
		}
		out = newDirectoryHandle(d.mount, path, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetFileHandle returns the child file called name. When it does not exist
// and create is set an empty file is created first.
func (d *DirectoryHandle) GetFileHandle(name string, create bool) (*FileHandle, error) {
	if err := vfs.ValidateName(name); err != nil {
		return nil, err
	}
	var out *FileHandle
	err := d.with(func(p vfs.Provider) error {
		e, ok, err := d.lookup(p, name)
		if err != nil {
			return err
		}
		if ok {
			if e.Kind() != KindFile {
				return vfs.Errorf(vfs.ErrCodeIsADirectory, "The path %q exists, but was not an entry of requested type.", e.Path())
			}
			out = e.(*FileHandle)
			return nil
		}
		if !create {
			return vfs.Errorf(vfs.ErrCodeNotFound, "File %q not found.", name)
		}
		path := vfs.ChildPath(d.path, name, false)
		f, err := p.Create(path, os.O_WRONLY|os.O_CREATE, fileMode)
		if err != nil {
			return errors.WithMessagef(err, "failed to create file %q", name)
		}
		if err := f.Close(); err != nil {
			return err
		}
		out = newFileHandle(d.mount, path, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveEntry removes the child called name. A directory that still has
// children is only removed when recursive is set, in which case everything
// below it goes first. The mount stays locked for the whole removal so other
// users of the mount never see a half removed tree.
func (d *DirectoryHandle) RemoveEntry(name string, recursive bool) error {
	if err := vfs.ValidateName(name); err != nil {
		return err
	}
	return d.with(func(p vfs.Provider) error {
		e, ok, err := d.lookup(p, name)
		if err != nil {
			return err
		}
		if !ok {
			return vfs.Errorf(vfs.ErrCodeNotFound, "Entry %q not found.", name)
		}
		return remove(p, e, recursive)
	})
}

func remove(p vfs.Provider, e Entry, recursive bool) error {
	dir, ok := e.(*DirectoryHandle)
	if !ok {
		return p.Unlink(e.Path())
	}
	items, err := dir.children(p)
	if err != nil {
		return err
	}
	if len(items) > 0 && !recursive {
		return vfs.Errorf(vfs.ErrCodeNotEmpty, "Directory %q is not empty.", dir.name)
	}
	for _, child := range items {
		if err := remove(p, child, true); err != nil {
			return err
		}
	}
	return p.Rmdir(vfs.TrimDir(dir.path))
}

// Resolve returns the names leading from this directory to entry, or a not
// found error when entry is not below it. Resolving the directory itself
// returns an empty slice.
func (d *DirectoryHandle) Resolve(entry Entry) ([]string, error) {
	if entry == nil {
		return nil, vfs.NewError(vfs.ErrCodeInvalidArgument, "A handle to resolve is required.")
	}
	if sameEntry(d, entry) {
		return []string{}, nil
	}
	var out []string
	err := d.with(func(p vfs.Provider) error {
		segs, ok, err := d.resolve(p, entry, nil)
		if err != nil {
			return err
		}
		if !ok {
			return vfs.Errorf(vfs.ErrCodeNotFound, "Possible descendant %s %q not found.", entry.Kind(), entry.Name())
		}
		out = segs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolve searches depth first. A subdirectory that cannot be listed is
// skipped rather than failing the whole search.
func (d *DirectoryHandle) resolve(p vfs.Provider, target Entry, prefix []string) ([]string, bool, error) {
	items, err := d.children(p)
	if err != nil {
		return nil, false, err
	}
	for _, child := range items {
		segs := append(append([]string{}, prefix...), child.Name())
		if sameEntry(child, target) {
			return segs, true, nil
		}
		sub, ok := child.(*DirectoryHandle)
		if !ok {
			continue
		}
		if found, ok, err := sub.resolve(p, target, segs); err == nil && ok {
			return found, true, nil
		}
	}
	return nil, false, nil
}
