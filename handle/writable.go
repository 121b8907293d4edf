package handle

import (
	"os"
	"sync"

	"emperror.dev/errors"
	"github.com/goccy/go-json"

	"github.com/pterodactyl/sharefs/system"
	"github.com/pterodactyl/sharefs/vfs"
)

type WriteOpType string

const (
	WriteOpWrite    WriteOpType = "write"
	WriteOpSeek     WriteOpType = "seek"
	WriteOpTruncate WriteOpType = "truncate"
)

// WriteOp is a single operation applied to a writable stream. Which fields
// are used depends on Type: a write needs Data and may carry a Position, a
// seek needs Position and a truncate needs Size.
type WriteOp struct {
	Type     WriteOpType
	Data     []byte
	Position *int64
	Size     *int64
}

// WriteData returns an operation that writes b at the cursor.
func WriteData(b []byte) WriteOp {
	return WriteOp{Type: WriteOpWrite, Data: b}
}

// WriteDataAt returns an operation that writes b at pos.
func WriteDataAt(b []byte, pos int64) WriteOp {
	return WriteOp{Type: WriteOpWrite, Data: b, Position: &pos}
}

// SeekTo returns an operation that moves the cursor to pos.
func SeekTo(pos int64) WriteOp {
	return WriteOp{Type: WriteOpSeek, Position: &pos}
}

// TruncateTo returns an operation that resizes the file to size.
func TruncateTo(size int64) WriteOp {
	return WriteOp{Type: WriteOpTruncate, Size: &size}
}

// Validate checks that the fields required by the operation type are set.
func (op WriteOp) Validate() error {
	switch op.Type {
	case WriteOpWrite:
		if op.Data == nil {
			return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Property data is required when writing object with type=%q.", op.Type)
		}
		if op.Position != nil && *op.Position < 0 {
			return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Property position must not be negative.")
		}
	case WriteOpSeek:
		if op.Position == nil {
			return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Property position of type number is required when writing object with type=%q.", op.Type)
		}
		if *op.Position < 0 {
			return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Property position must not be negative.")
		}
	case WriteOpTruncate:
		if op.Size == nil {
			return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Property size of type number is required when writing object with type=%q.", op.Type)
		}
		if *op.Size < 0 {
			return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Property size must not be negative.")
		}
	default:
		return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Unknown write type: %q.", op.Type)
	}
	return nil
}

type rawWriteOp struct {
	Type     WriteOpType `json:"type"`
	Data     *string     `json:"data"`
	Position *int64      `json:"position"`
	Size     *int64      `json:"size"`
}

// ParseWriteOp decodes an operation from its JSON form. A bare JSON string is
// a write of that string at the cursor; an object carries "type" plus the
// fields that type needs, with "data" given as a string.
func ParseWriteOp(b []byte) (WriteOp, error) {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return WriteData([]byte(s)), nil
	}
	var raw rawWriteOp
	if err := json.Unmarshal(b, &raw); err != nil {
		return WriteOp{}, vfs.WrapError(vfs.ErrCodeInvalidArgument, err, "Writing unsupported type")
	}
	op := WriteOp{Type: raw.Type, Position: raw.Position, Size: raw.Size}
	if raw.Data != nil {
		op.Data = []byte(*raw.Data)
	}
	if err := op.Validate(); err != nil {
		return WriteOp{}, err
	}
	return op, nil
}

// WritableFileStream writes to a file through a cursor. Until the first
// explicit position is used the cursor is unset and writes go to the end of
// the file; afterwards a write without a position continues where the last
// one stopped.
//
// Only one Writer can be attached at a time. While one is, operations on the
// stream itself fail as locked.
type WritableFileStream struct {
	mu     sync.Mutex
	handle *FileHandle
	cursor *int64
	closed bool
	lock   *system.Locker
}

func newWritableFileStream(fh *FileHandle, keepExistingData bool) *WritableFileStream {
	s := &WritableFileStream{handle: fh, lock: system.NewLocker()}
	if !keepExistingData {
		var zero int64
		s.cursor = &zero
	}
	return s
}

// Locked reports whether a Writer is attached to the stream.
func (s *WritableFileStream) Locked() bool {
	return s.lock.IsLocked()
}

// Cursor returns the current cursor and whether it has been set.
func (s *WritableFileStream) Cursor() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return 0, false
	}
	return *s.cursor, true
}

// Write applies op to the file.
func (s *WritableFileStream) Write(op WriteOp) error {
	if s.lock.IsLocked() {
		return errLocked()
	}
	return s.apply(op)
}

// Seek moves the cursor.
func (s *WritableFileStream) Seek(pos int64) error {
	return s.Write(SeekTo(pos))
}

// Truncate resizes the file.
func (s *WritableFileStream) Truncate(size int64) error {
	return s.Write(TruncateTo(size))
}

// Close finishes the stream. Any later operation fails with an invalid state
// error.
func (s *WritableFileStream) Close() error {
	if s.lock.IsLocked() {
		return errLocked()
	}
	return s.finish()
}

// Abort finishes the stream like Close and returns reason.
func (s *WritableFileStream) Abort(reason string) (string, error) {
	if s.lock.IsLocked() {
		return "", errLocked()
	}
	s.abort()
	return reason, nil
}

// GetWriter attaches a writer to the stream. Only one writer may be attached
// at a time; a second call fails as locked until ReleaseLock is called on
// the first.
func (s *WritableFileStream) GetWriter() (*Writer, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errClosed()
	}
	token, err := s.lock.Acquire()
	if err != nil {
		if errors.Is(err, system.ErrLockerClosed) {
			return nil, errClosed()
		}
		return nil, errLocked()
	}
	return &Writer{stream: s, token: token}, nil
}

func (s *WritableFileStream) finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	s.closed = true
	s.lock.Close()
	return nil
}

func (s *WritableFileStream) abort() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.lock.Close()
}

func (s *WritableFileStream) apply(op WriteOp) error {
	if err := op.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	switch op.Type {
	case WriteOpSeek:
		pos := *op.Position
		s.cursor = &pos
		return nil
	case WriteOpTruncate:
		return s.truncate(*op.Size)
	}

	prev := s.cursor
	if op.Position != nil {
		pos := *op.Position
		s.cursor = &pos
	}
	if err := s.write(op.Data); err != nil {
		s.cursor = prev
		return err
	}
	return nil
}

// write puts b at the cursor, or at the end of the file when the cursor is
// unset, and moves the cursor past it.
func (s *WritableFileStream) write(b []byte) error {
	return s.handle.with(func(p vfs.Provider) error {
		f, err := p.Open(s.handle.path, os.O_RDWR|os.O_SYNC)
		if err != nil {
			return err
		}
		defer f.Close()

		var off int64
		if s.cursor != nil {
			off = *s.cursor
		} else {
			st, err := f.Fstat()
			if err != nil {
				return err
			}
			off = st.Size
		}
		for written := 0; written < len(b); {
			n, err := f.Pwrite(b[written:], off+int64(written))
			if err != nil {
				return err
			}
			if n == 0 {
				return vfs.Errorf(vfs.ErrCodeOther, "Short write to %q.", s.handle.path)
			}
			written += n
		}
		end := off + int64(len(b))
		s.cursor = &end
		return nil
	})
}

// truncate resizes the file and pulls the cursor back if it now points past
// the end, or if it was sitting at the old end of the file.
func (s *WritableFileStream) truncate(size int64) error {
	return s.handle.with(func(p vfs.Provider) error {
		st, err := p.Stat(s.handle.path)
		if err != nil {
			return err
		}
		if err := p.Truncate(s.handle.path, size); err != nil {
			return err
		}
		if s.cursor != nil && (*s.cursor > size || *s.cursor == st.Size) {
			sz := size
			s.cursor = &sz
		}
		return nil
	})
}

func errLocked() error {
	return vfs.NewError(vfs.ErrCodeAlreadyLocked, "Invalid state: WritableStream is locked")
}

func errClosed() error {
	return vfs.NewError(vfs.ErrCodeInvalidState, "Invalid state: WritableStream is closed")
}

// Writer is the exclusive writer of a WritableFileStream.
type Writer struct {
	stream *WritableFileStream
	token  uint64
}

func (w *Writer) check() error {
	if !w.stream.lock.Holds(w.token) {
		return vfs.NewError(vfs.ErrCodeInvalidState, "Invalid state: Writer has been released")
	}
	return nil
}

// Write writes p at the stream cursor. It implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.check(); err != nil {
		return 0, err
	}
	if p == nil {
		p = []byte{}
	}
	if err := w.stream.apply(WriteData(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteOp applies an operation through the writer. Only plain writes are
// accepted; seeking and truncating go through the stream itself.
func (w *Writer) WriteOp(op WriteOp) error {
	if err := w.check(); err != nil {
		return err
	}
	if op.Type != WriteOpWrite {
		return vfs.NewError(vfs.ErrCodeInvalidArgument, "Invalid chunk")
	}
	return w.stream.apply(op)
}

// Close closes the underlying stream and releases the writer.
func (w *Writer) Close() error {
	if err := w.check(); err != nil {
		return err
	}
	return w.stream.finish()
}

// Abort closes the underlying stream and returns reason.
func (w *Writer) Abort(reason string) (string, error) {
	if err := w.check(); err != nil {
		return "", err
	}
	w.stream.abort()
	return reason, nil
}

// ReleaseLock detaches the writer from the stream so another one can be
// attached. The writer cannot be used afterwards.
func (w *Writer) ReleaseLock() {
	w.stream.lock.Release(w.token)
}
