package handle

import (
	"testing"

	. "github.com/franela/goblin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pterodactyl/sharefs/vfs"
)

func contents(t *testing.T, fh *FileHandle) string {
	f, err := fh.GetFile()
	require.NoError(t, err)
	s, err := f.Text()
	require.NoError(t, err)
	return s
}

func TestWritableFileStream(t *testing.T) {
	g := Goblin(t)

	g.Describe("WritableFileStream", func() {
		var m *Mount
		var fh *FileHandle
		g.BeforeEach(func() {
			m, _ = newTestMount()
			fh, _ = m.Root().GetFileHandle("out.txt", true)
		})
		g.AfterEach(func() {
			m.Close()
		})

		g.It("appends when the cursor is unset", func() {
			s, err := fh.CreateWritable(true)
			g.Assert(err).IsNil()
			_, set := s.Cursor()
			g.Assert(set).IsFalse()

			g.Assert(s.Write(WriteData([]byte("hello")))).IsNil()
			g.Assert(s.Write(WriteData([]byte(" world")))).IsNil()
			g.Assert(contents(t, fh)).Equal("hello world")

			pos, set := s.Cursor()
			g.Assert(set).IsTrue()
			g.Assert(pos).Equal(int64(11))
		})

		g.It("appends to existing data on the first write", func() {
			s, _ := fh.CreateWritable(true)
			g.Assert(s.Write(WriteData([]byte("abc")))).IsNil()
			g.Assert(s.Close()).IsNil()

			s, _ = fh.CreateWritable(true)
			g.Assert(s.Write(WriteData([]byte("def")))).IsNil()
			g.Assert(contents(t, fh)).Equal("abcdef")
		})

		g.It("empties the file unless existing data is kept", func() {
			s, _ := fh.CreateWritable(true)
			g.Assert(s.Write(WriteData([]byte("old contents")))).IsNil()

			s, err := fh.CreateWritable(false)
			g.Assert(err).IsNil()
			g.Assert(contents(t, fh)).Equal("")
			pos, set := s.Cursor()
			g.Assert(set).IsTrue()
			g.Assert(pos).Equal(int64(0))

			g.Assert(s.Write(WriteData([]byte("new")))).IsNil()
			g.Assert(contents(t, fh)).Equal("new")
		})

		g.It("continues after an explicit position", func() {
			s, _ := fh.CreateWritable(false)
			g.Assert(s.Write(WriteData([]byte("0123456789")))).IsNil()
			g.Assert(s.Write(WriteDataAt([]byte("ab"), 2))).IsNil()
			g.Assert(s.Write(WriteData([]byte("cd")))).IsNil()
			g.Assert(contents(t, fh)).Equal("01abcd6789")
		})

		g.It("zero pads writes past the end", func() {
			s, _ := fh.CreateWritable(false)
			g.Assert(s.Write(WriteDataAt([]byte("x"), 3))).IsNil()
			g.Assert(contents(t, fh)).Equal("\x00\x00\x00x")
		})

		g.It("seeks without touching the file", func() {
			s, _ := fh.CreateWritable(false)
			g.Assert(s.Write(WriteData([]byte("abcdef")))).IsNil()
			g.Assert(s.Seek(1)).IsNil()
			g.Assert(s.Write(WriteData([]byte("Z")))).IsNil()
			g.Assert(contents(t, fh)).Equal("aZcdef")
		})

		g.It("truncates idempotently and zero fills", func() {
			s, _ := fh.CreateWritable(false)
			g.Assert(s.Write(WriteData([]byte("abc")))).IsNil()
			for i := 0; i < 2; i++ {
				g.Assert(s.Truncate(6)).IsNil()
				st, err := fh.Stat()
				g.Assert(err).IsNil()
				g.Assert(st.Size).Equal(int64(6))
				g.Assert(contents(t, fh)).Equal("abc\x00\x00\x00")
			}
		})

		g.It("clamps the cursor when truncating below it", func() {
			s, _ := fh.CreateWritable(false)
			g.Assert(s.Write(WriteData([]byte("abcdef")))).IsNil()
			g.Assert(s.Truncate(2)).IsNil()
			pos, _ := s.Cursor()
			g.Assert(pos).Equal(int64(2))

			g.Assert(s.Write(WriteData([]byte("Z")))).IsNil()
			g.Assert(contents(t, fh)).Equal("abZ")
		})

		g.It("moves a cursor sitting at the old end to the new end", func() {
			s, _ := fh.CreateWritable(false)
			g.Assert(s.Write(WriteData([]byte("abc")))).IsNil()
			g.Assert(s.Truncate(5)).IsNil()
			pos, _ := s.Cursor()
			g.Assert(pos).Equal(int64(5))
		})

		g.It("leaves a cursor in the middle alone", func() {
			s, _ := fh.CreateWritable(false)
			g.Assert(s.Write(WriteData([]byte("abcdef")))).IsNil()
			g.Assert(s.Seek(1)).IsNil()
			g.Assert(s.Truncate(4)).IsNil()
			pos, _ := s.Cursor()
			g.Assert(pos).Equal(int64(1))
		})

		g.It("rolls the cursor back when a positioned write fails", func() {
			s, _ := fh.CreateWritable(false)
			g.Assert(s.Write(WriteData([]byte("abc")))).IsNil()
			g.Assert(m.Root().RemoveEntry("out.txt", false)).IsNil()

			err := s.Write(WriteDataAt([]byte("x"), 100))
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeNotFound)).IsTrue()
			pos, _ := s.Cursor()
			g.Assert(pos).Equal(int64(3))
		})

		g.It("rejects malformed operations", func() {
			s, _ := fh.CreateWritable(false)
			for _, op := range []WriteOp{
				{Type: WriteOpWrite},
				{Type: WriteOpSeek},
				{Type: WriteOpTruncate},
				{Type: "append", Data: []byte("x")},
				SeekTo(-1),
				TruncateTo(-1),
			} {
				g.Assert(vfs.IsErrorCode(s.Write(op), vfs.ErrCodeInvalidArgument)).IsTrue()
			}
		})

		g.It("is terminal once closed", func() {
			s, _ := fh.CreateWritable(false)
			g.Assert(s.Close()).IsNil()
			g.Assert(vfs.IsErrorCode(s.Close(), vfs.ErrCodeInvalidState)).IsTrue()
			g.Assert(vfs.IsErrorCode(s.Write(WriteData([]byte("x"))), vfs.ErrCodeInvalidState)).IsTrue()
			_, err := s.GetWriter()
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeInvalidState)).IsTrue()
		})

		g.It("is terminal once aborted", func() {
			s, _ := fh.CreateWritable(false)
			reason, err := s.Abort("changed my mind")
			g.Assert(err).IsNil()
			g.Assert(reason).Equal("changed my mind")
			g.Assert(vfs.IsErrorCode(s.Truncate(0), vfs.ErrCodeInvalidState)).IsTrue()
		})

		g.It("fails for a file that no longer exists", func() {
			g.Assert(m.Root().RemoveEntry("out.txt", false)).IsNil()
			_, err := fh.CreateWritable(true)
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeNotFound)).IsTrue()
		})
	})
}

func TestWriter(t *testing.T) {
	g := Goblin(t)

	g.Describe("Writer", func() {
		var m *Mount
		var fh *FileHandle
		var s *WritableFileStream
		g.BeforeEach(func() {
			m, _ = newTestMount()
			fh, _ = m.Root().GetFileHandle("out.txt", true)
			s, _ = fh.CreateWritable(false)
		})
		g.AfterEach(func() {
			m.Close()
		})

		g.It("allows a single writer at a time", func() {
			w, err := s.GetWriter()
			g.Assert(err).IsNil()
			g.Assert(s.Locked()).IsTrue()

			_, err = s.GetWriter()
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeAlreadyLocked)).IsTrue()

			w.ReleaseLock()
			g.Assert(s.Locked()).IsFalse()
			_, err = s.GetWriter()
			g.Assert(err).IsNil()
		})

		g.It("locks the stream against direct use", func() {
			w, _ := s.GetWriter()
			g.Assert(vfs.IsErrorCode(s.Write(WriteData([]byte("x"))), vfs.ErrCodeAlreadyLocked)).IsTrue()
			g.Assert(vfs.IsErrorCode(s.Close(), vfs.ErrCodeAlreadyLocked)).IsTrue()
			_, err := s.Abort("no")
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeAlreadyLocked)).IsTrue()

			w.ReleaseLock()
			g.Assert(s.Write(WriteData([]byte("x")))).IsNil()
		})

		g.It("writes through the stream cursor", func() {
			w, _ := s.GetWriter()
			n, err := w.Write([]byte("hello "))
			g.Assert(err).IsNil()
			g.Assert(n).Equal(6)
			_, _ = w.Write([]byte("there"))
			g.Assert(w.WriteOp(WriteDataAt([]byte("H"), 0))).IsNil()
			g.Assert(contents(t, fh)).Equal("Hello there")
		})

		g.It("only accepts write chunks", func() {
			w, _ := s.GetWriter()
			g.Assert(vfs.IsErrorCode(w.WriteOp(SeekTo(0)), vfs.ErrCodeInvalidArgument)).IsTrue()
		})

		g.It("cannot be used after releasing the lock", func() {
			w, _ := s.GetWriter()
			w.ReleaseLock()
			_, err := w.Write([]byte("x"))
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeInvalidState)).IsTrue()
		})

		g.It("closes the stream", func() {
			w, _ := s.GetWriter()
			_, _ = w.Write([]byte("done"))
			g.Assert(w.Close()).IsNil()
			g.Assert(s.Locked()).IsFalse()
			g.Assert(vfs.IsErrorCode(s.Write(WriteData([]byte("x"))), vfs.ErrCodeInvalidState)).IsTrue()
			g.Assert(contents(t, fh)).Equal("done")
		})

		g.It("aborts the stream", func() {
			w, _ := s.GetWriter()
			reason, err := w.Abort("stop")
			g.Assert(err).IsNil()
			g.Assert(reason).Equal("stop")
			_, err = s.GetWriter()
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeInvalidState)).IsTrue()
		})
	})
}

func TestParseWriteOp(t *testing.T) {
	op, err := ParseWriteOp([]byte(`"plain text"`))
	require.NoError(t, err)
	assert.Equal(t, WriteOpWrite, op.Type)
	assert.Equal(t, "plain text", string(op.Data))
	assert.Nil(t, op.Position)

	op, err = ParseWriteOp([]byte(`{"type":"write","data":"abc","position":4}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(op.Data))
	assert.Equal(t, int64(4), *op.Position)

	op, err = ParseWriteOp([]byte(`{"type":"seek","position":9}`))
	require.NoError(t, err)
	assert.Equal(t, WriteOpSeek, op.Type)

	op, err = ParseWriteOp([]byte(`{"type":"truncate","size":0}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), *op.Size)

	for _, raw := range []string{
		`{"type":"seek"}`,
		`{"type":"truncate"}`,
		`{"type":"write"}`,
		`{"type":"rewind"}`,
		`42`,
	} {
		_, err := ParseWriteOp([]byte(raw))
		assert.True(t, vfs.IsErrorCode(err, vfs.ErrCodeInvalidArgument), raw)
	}
}
