package vfs

import (
	"io"
	iofs "io/fs"
	"os"
	"testing"

	"emperror.dev/errors"
	. "github.com/franela/goblin"
)

func TestErrors(t *testing.T) {
	g := Goblin(t)

	g.Describe("Error", func() {
		g.It("uses the provided message", func() {
			err := Errorf(ErrCodeNotFound, "Directory %q not found", "nope")
			g.Assert(err.Error()).Equal(`Directory "nope" not found`)
			g.Assert(IsErrorCode(err, ErrCodeNotFound)).IsTrue()
			g.Assert(IsErrorCode(err, ErrCodeNotEmpty)).IsFalse()
		})

		g.It("falls back to a default message", func() {
			err := NewError(ErrCodeNotEmpty, "")
			g.Assert(err.Error()).Equal("directory not empty")
		})

		g.It("keeps the wrapped cause reachable", func() {
			err := WrapError(ErrCodeOther, io.ErrUnexpectedEOF, "read failed")
			g.Assert(errors.Is(err, io.ErrUnexpectedEOF)).IsTrue()
			g.Assert(err.Error()).Equal("read failed: unexpected EOF")
		})

		g.It("matches the io/fs sentinels", func() {
			g.Assert(errors.Is(NewError(ErrCodeNotFound, ""), iofs.ErrNotExist)).IsTrue()
			g.Assert(errors.Is(NewError(ErrCodePermissionDenied, ""), os.ErrPermission)).IsTrue()
			g.Assert(errors.Is(NewError(ErrCodeOther, ""), iofs.ErrNotExist)).IsFalse()
		})

		g.It("survives additional wrapping", func() {
			err := errors.WithMessage(NewError(ErrCodeIsADirectory, ""), "open")
			g.Assert(IsErrorCode(err, ErrCodeIsADirectory)).IsTrue()
			g.Assert(CodeOf(err)).Equal(ErrCodeIsADirectory)
		})
	})

	g.Describe("FromError", func() {
		g.It("returns nil for nil", func() {
			g.Assert(FromError(nil) == nil).IsTrue()
			g.Assert(CodeOf(nil)).Equal(ErrorCode(""))
		})

		g.It("converts standard library errors", func() {
			_, err := os.Stat("/this/path/should/never/exist")
			g.Assert(CodeOf(err)).Equal(ErrCodeNotFound)
			g.Assert(CodeOf(os.ErrPermission)).Equal(ErrCodePermissionDenied)
			g.Assert(CodeOf(os.ErrExist)).Equal(ErrCodeExists)
			g.Assert(CodeOf(os.ErrClosed)).Equal(ErrCodeInvalidState)
		})

		g.It("marks anything else as other", func() {
			g.Assert(CodeOf(errors.New("boom"))).Equal(ErrCodeOther)
		})

		g.It("leaves typed errors untouched", func() {
			in := NewError(ErrCodeNotEmpty, "x")
			g.Assert(FromError(in) == in).IsTrue()
		})
	})
}
