package handle

import (
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pterodactyl/sharefs/vfs"
)

// MimeTypeUnknown is reported for empty files and content that cannot be
// identified.
const MimeTypeUnknown = "application/octet-stream"

// sniffLength is how much of a file is read to detect its type.
const sniffLength = 3072

// FileHandle is a handle to a regular file on the share.
type FileHandle struct {
	Handle
}

func newFileHandle(m *Mount, path, name string) *FileHandle {
	return &FileHandle{Handle{kind: KindFile, name: name, path: path, mount: m}}
}

// File is a snapshot of a file's metadata taken by GetFile. Its contents are
// read lazily, so reading them later returns whatever is on the share by
// then.
type File struct {
	handle *FileHandle

	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	// LastModified is in milliseconds since the epoch.
	LastModified int64 `json:"last_modified"`
}

// GetFile stats the file and detects its content type from the first few
// kilobytes.
func (fh *FileHandle) GetFile() (*File, error) {
	out := &File{handle: fh, Name: fh.name, Type: MimeTypeUnknown}
	err := fh.with(func(p vfs.Provider) error {
		st, err := p.Stat(fh.path)
		if err != nil {
			return err
		}
		if st.IsDir() {
			return vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory.", fh.path)
		}
		out.Size = st.Size
		out.LastModified = st.Mtime.Sec*1000 + st.Mtime.Nsec/1e6
		if st.Size == 0 {
			return nil
		}
		f, err := p.Open(fh.path, os.O_RDONLY)
		if err != nil {
			return err
		}
		defer f.Close()
		head, err := f.Pread(int(min(st.Size, sniffLength)), 0)
		if err != nil {
			return err
		}
		if len(head) > 0 {
			out.Type = mimetype.Detect(head).String()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Bytes reads the whole file.
func (f *File) Bytes() ([]byte, error) {
	var b []byte
	err := f.handle.with(func(p vfs.Provider) (err error) {
		b, err = readAll(p, f.handle.path)
		return err
	})
	return b, err
}

// Text reads the whole file as a string.
func (f *File) Text() (string, error) {
	b, err := f.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Slice returns the bytes between start and end. Negative indexes count
// from the end of the file and out of range indexes are clamped; a nil start
// means the beginning and a nil end means the end of the file.
func (f *File) Slice(start, end *int64) ([]byte, error) {
	b, err := f.Bytes()
	if err != nil {
		return nil, err
	}
	n := int64(len(b))
	s := sliceIndex(start, n, 0)
	e := sliceIndex(end, n, n)
	if s >= e {
		return []byte{}, nil
	}
	return b[s:e], nil
}

func sliceIndex(pos *int64, max, def int64) int64 {
	if pos == nil {
		return def
	}
	i := *pos
	if i < 0 {
		i += max
		if i < 0 {
			i = 0
		}
	} else if i > max {
		i = max
	}
	return i
}

// Stream returns a new reader positioned at the start of the file.
func (f *File) Stream() *ByteSource {
	return &ByteSource{handle: f.handle}
}

// readAll reads a file in chunks no larger than the provider allows. The
// caller holds the mount lock.
func readAll(p vfs.Provider, path string) ([]byte, error) {
	f, err := p.Open(path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Fstat()
	if err != nil {
		return nil, err
	}
	max, err := readSize(f)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, st.Size)
	for int64(len(out)) < st.Size {
		b, err := f.Pread(int(min(int64(max), st.Size-int64(len(out)))), int64(len(out)))
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			if err := checkShrunk(f, path, int64(len(out))); err != nil {
				return nil, err
			}
			break
		}
		out = append(out, b...)
	}
	return out, nil
}

// readSize returns the provider's read size, refusing values that could
// never make progress.
func readSize(f vfs.File) (int, error) {
	max, err := f.MaxReadSize()
	if err != nil {
		return 0, err
	}
	if max < 1 {
		return 0, vfs.Errorf(vfs.ErrCodeInvalidState, "The share reported an unusable read size of %d.", max)
	}
	return max, nil
}

// checkShrunk is called after a read returned nothing at offset. It passes
// only when the file really ends there now.
func checkShrunk(f vfs.File, path string, offset int64) error {
	st, err := f.Fstat()
	if err != nil {
		return err
	}
	if st.Size > offset {
		return vfs.Errorf(vfs.ErrCodeOther, "Reading %q returned no data at offset %d of %d.", path, offset, st.Size)
	}
	return nil
}

// ByteSource produces the contents of a file one chunk at a time. Each Pull
// reopens the file and samples its size again, so data appended while
// reading is picked up. A ByteSource cannot be rewound.
type ByteSource struct {
	handle  *FileHandle
	offset  int64
	done    bool
	pending []byte
}

// Offset returns how many bytes have been produced so far.
func (s *ByteSource) Offset() int64 {
	return s.offset
}

// Pull returns the next chunk of at most the provider's maximum read size,
// or io.EOF once the offset has reached the size of the file.
func (s *ByteSource) Pull() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	var chunk []byte
	err := s.handle.with(func(p vfs.Provider) error {
		f, err := p.Open(s.handle.path, os.O_RDONLY)
		if err != nil {
			return err
		}
		defer f.Close()
		st, err := f.Fstat()
		if err != nil {
			return err
		}
		if s.offset >= st.Size {
			return io.EOF
		}
		max, err := readSize(f)
		if err != nil {
			return err
		}
		chunk, err = f.Pread(int(min(int64(max), st.Size-s.offset)), s.offset)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			if err := checkShrunk(f, s.handle.path, s.offset); err != nil {
				return err
			}
			return io.EOF
		}
		return nil
	})
	if err == io.EOF {
		s.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	s.offset += int64(len(chunk))
	return chunk, nil
}

// Read implements io.Reader on top of Pull.
func (s *ByteSource) Read(b []byte) (int, error) {
	if len(s.pending) == 0 {
		chunk, err := s.Pull()
		if err != nil {
			return 0, err
		}
		s.pending = chunk
	}
	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// CreateWritable opens a writable stream on the file. When keepExistingData
// is false the file is emptied and writing starts at offset 0; otherwise the
// first write without a position appends.
func (fh *FileHandle) CreateWritable(keepExistingData bool) (*WritableFileStream, error) {
	err := fh.with(func(p vfs.Provider) error {
		st, err := p.Stat(fh.path)
		if err != nil {
			return err
		}
		if st.IsDir() {
			return vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory.", fh.path)
		}
		if !keepExistingData && st.Size > 0 {
			return p.Truncate(fh.path, 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newWritableFileStream(fh, keepExistingData), nil
}
