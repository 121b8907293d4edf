package cmd

import (
	"github.com/pterodactyl/sharefs/handle"
	"github.com/pterodactyl/sharefs/vfs"
)

// lookup walks from the root of the share to the entry at p. A trailing
// slash only matches a directory.
func lookup(root *handle.DirectoryHandle, p string) (handle.Entry, error) {
	var cur handle.Entry = root
	for _, name := range vfs.Segments(p) {
		dir, ok := cur.(*handle.DirectoryHandle)
		if !ok {
			return nil, vfs.Errorf(vfs.ErrCodeNotADirectory, "%s is not a directory", cur.Path())
		}
		children, err := dir.Values()
		if err != nil {
			return nil, err
		}
		cur = nil
		for _, c := range children {
			if c.Name() == name {
				cur = c
				break
			}
		}
		if cur == nil {
			return nil, vfs.Errorf(vfs.ErrCodeNotFound, "%s: no such file or directory", p)
		}
	}
	if _, ok := cur.(*handle.DirectoryHandle); !ok && vfs.IsDirPath(p) {
		return nil, vfs.Errorf(vfs.ErrCodeNotADirectory, "%s is not a directory", p)
	}
	return cur, nil
}

func lookupDir(root *handle.DirectoryHandle, p string) (*handle.DirectoryHandle, error) {
	e, err := lookup(root, p)
	if err != nil {
		return nil, err
	}
	d, ok := e.(*handle.DirectoryHandle)
	if !ok {
		return nil, vfs.Errorf(vfs.ErrCodeNotADirectory, "%s is not a directory", p)
	}
	return d, nil
}

func lookupFile(root *handle.DirectoryHandle, p string) (*handle.FileHandle, error) {
	e, err := lookup(root, p)
	if err != nil {
		return nil, err
	}
	f, ok := e.(*handle.FileHandle)
	if !ok {
		return nil, vfs.Errorf(vfs.ErrCodeIsADirectory, "%s is a directory", p)
	}
	return f, nil
}

// lookupParent returns the directory holding p and the final name in p.
func lookupParent(root *handle.DirectoryHandle, p string) (*handle.DirectoryHandle, string, error) {
	segs := vfs.Segments(p)
	if len(segs) == 0 {
		return nil, "", vfs.NewError(vfs.ErrCodeInvalidArgument, "operation not permitted on the root directory")
	}
	dir := root
	for _, name := range segs[:len(segs)-1] {
		d, err := dir.GetDirectoryHandle(name, false)
		if err != nil {
			return nil, "", err
		}
		dir = d
	}
	return dir, segs[len(segs)-1], nil
}

// makeDirs returns the directory at p, creating every missing segment.
func makeDirs(root *handle.DirectoryHandle, p string) (*handle.DirectoryHandle, error) {
	dir := root
	for _, name := range vfs.Segments(p) {
		d, err := dir.GetDirectoryHandle(name, true)
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return dir, nil
}
