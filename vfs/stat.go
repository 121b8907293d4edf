package vfs

import (
	"io"
	"os"
	"time"
)

// EntryType is the kind of object a directory entry or stat refers to.
type EntryType uint8

const (
	TypeFile EntryType = iota
	TypeDirectory
	TypeSymlink
	TypeBlock
	TypeCharacter
	TypeNamedPipe
	TypeSocket
)

func (t EntryType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeBlock:
		return "block"
	case TypeCharacter:
		return "character"
	case TypeNamedPipe:
		return "named-pipe"
	case TypeSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// TypeOf maps a os.FileMode onto an EntryType.
func TypeOf(m os.FileMode) EntryType {
	switch {
	case m.IsDir():
		return TypeDirectory
	case m&os.ModeSymlink != 0:
		return TypeSymlink
	case m&os.ModeNamedPipe != 0:
		return TypeNamedPipe
	case m&os.ModeSocket != 0:
		return TypeSocket
	case m&os.ModeCharDevice != 0:
		return TypeCharacter
	case m&os.ModeDevice != 0:
		return TypeBlock
	default:
		return TypeFile
	}
}

// Time is a timestamp split into whole seconds and the nanosecond remainder,
// which is how the wire protocols report them.
type Time struct {
	Sec  int64 `json:"sec"`
	Nsec int64 `json:"nsec"`
}

// TimeOf converts a time.Time.
func TimeOf(t time.Time) Time {
	if t.IsZero() {
		return Time{}
	}
	return Time{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// UnixNano returns the timestamp as nanoseconds since the epoch.
func (t Time) UnixNano() int64 {
	return t.Sec*int64(time.Second) + t.Nsec
}

// Time returns the timestamp as a time.Time.
func (t Time) Time() time.Time {
	return time.Unix(t.Sec, t.Nsec)
}

// Stat is an immutable metadata snapshot.
type Stat struct {
	Ino   uint64    `json:"ino"`
	Nlink uint64    `json:"nlink"`
	Size  int64     `json:"size"`
	Type  EntryType `json:"type"`
	Atime Time      `json:"atime"`
	Mtime Time      `json:"mtime"`
	Ctime Time      `json:"ctime"`
	Btime Time      `json:"btime"`
}

func (s Stat) IsDir() bool {
	return s.Type == TypeDirectory
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name  string    `json:"name"`
	Type  EntryType `json:"type"`
	Ino   uint64    `json:"ino"`
	Nlink uint64    `json:"nlink"`
	Size  int64     `json:"size"`
	Atime Time      `json:"atime"`
	Mtime Time      `json:"mtime"`
	Ctime Time      `json:"ctime"`
	Btime Time      `json:"btime"`
}

func (e DirEntry) IsDir() bool {
	return e.Type == TypeDirectory
}

// StatFromFileInfo builds a Stat from a os.FileInfo. Fields the FileInfo does
// not expose are derived from the modification time.
func StatFromFileInfo(fi os.FileInfo) Stat {
	mt := TimeOf(fi.ModTime())
	return Stat{
		Nlink: 1,
		Size:  fi.Size(),
		Type:  TypeOf(fi.Mode()),
		Atime: mt,
		Mtime: mt,
		Ctime: mt,
		Btime: mt,
	}
}

// EntryFromFileInfo builds a DirEntry from a os.FileInfo.
func EntryFromFileInfo(fi os.FileInfo) DirEntry {
	st := StatFromFileInfo(fi)
	return DirEntry{
		Name:  fi.Name(),
		Type:  st.Type,
		Nlink: st.Nlink,
		Size:  st.Size,
		Atime: st.Atime,
		Mtime: st.Mtime,
		Ctime: st.Ctime,
		Btime: st.Btime,
	}
}

type sliceDirectory struct {
	entries []DirEntry
	pos     int
	closed  bool
}

// NewDirectory returns a Directory that iterates over a fixed listing.
func NewDirectory(entries []DirEntry) Directory {
	return &sliceDirectory{entries: entries}
}

func (d *sliceDirectory) Next() (DirEntry, error) {
	if d.closed {
		return DirEntry{}, NewError(ErrCodeInvalidState, "directory iterator is closed")
	}
	if d.pos >= len(d.entries) {
		return DirEntry{}, io.EOF
	}
	e := d.entries[d.pos]
	d.pos++
	return e, nil
}

func (d *sliceDirectory) Close() error {
	d.closed = true
	return nil
}

// ReadDirectory drains a Directory, skipping the "." and ".." entries, and
// closes it.
func ReadDirectory(d Directory) ([]DirEntry, error) {
	defer d.Close()
	var out []DirEntry
	for {
		e, err := d.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, e)
	}
}
