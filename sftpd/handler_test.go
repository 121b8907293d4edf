package sftpd

import (
	"io"
	"net"
	"os"
	"testing"

	"emperror.dev/errors"
	"github.com/apex/log"
	. "github.com/franela/goblin"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pterodactyl/sharefs/vfs"
	"github.com/pterodactyl/sharefs/vfs/memory"
)

func serve(t *testing.T, store *memory.Store, readOnly bool) *sftp.Client {
	server, conn := net.Pipe()
	go func() {
		_ = ServeConn(server, store.Connect(), readOnly, nil)
	}()
	client, err := sftp.NewClientPipe(conn, conn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client
}

// unsupported reports whether the server refused the operation outright. The
// client turns the other status codes into os errors.
func unsupported(err error) bool {
	var se *sftp.StatusError
	return errors.As(err, &se) && se.FxCode() == sftp.ErrSSHFxOpUnsupported
}

func TestHandler(t *testing.T) {
	g := Goblin(t)

	g.Describe("Handler", func() {
		var store *memory.Store
		var client *sftp.Client
		g.BeforeEach(func() {
			store = memory.New()
			client = serve(t, store, false)
		})

		g.It("lists directories", func() {
			infos, err := client.ReadDir("/")
			g.Assert(err).IsNil()
			var names []string
			for _, fi := range infos {
				names = append(names, fi.Name())
			}
			g.Assert(names).Equal([]string{"3", "annar", "quatre", "first"})
			g.Assert(infos[3].IsDir()).IsTrue()
			g.Assert(infos[1].Size()).Equal(int64(123))
		})

		g.It("walks the tree", func() {
			var paths []string
			w := client.Walk("/first")
			for w.Step() {
				g.Assert(w.Err()).IsNil()
				paths = append(paths, w.Path())
			}
			g.Assert(paths).Equal([]string{"/first", "/first/comment"})
		})

		g.It("reads file contents", func() {
			f, err := client.Open("/annar")
			g.Assert(err).IsNil()
			defer f.Close()
			b, err := io.ReadAll(f)
			g.Assert(err).IsNil()
			g.Assert(string(b)).Equal(memory.AnnarContents)
		})

		g.It("writes and truncates files", func() {
			f, err := client.Create("/first/out")
			g.Assert(err).IsNil()
			_, err = f.Write([]byte("some data"))
			g.Assert(err).IsNil()
			g.Assert(f.Close()).IsNil()

			g.Assert(client.Truncate("/first/out", 4)).IsNil()
			st, err := store.Connect().Stat("/first/out")
			g.Assert(err).IsNil()
			g.Assert(st.Size).Equal(int64(4))

			// Mode changes are accepted but do nothing.
			g.Assert(client.Chmod("/first/out", 0o600)).IsNil()
		})

		g.It("creates and removes entries", func() {
			g.Assert(client.Mkdir("/made")).IsNil()
			g.Assert(client.RemoveDirectory("/made")).IsNil()
			g.Assert(client.Remove("/3")).IsNil()

			_, err := store.Connect().Stat("/3")
			g.Assert(vfs.IsErrorCode(err, vfs.ErrCodeNotFound)).IsTrue()
		})

		g.It("reports missing entries", func() {
			_, err := client.Stat("/missing")
			g.Assert(errors.Is(err, os.ErrNotExist)).IsTrue()
			_, err = client.Open("/missing")
			g.Assert(errors.Is(err, os.ErrNotExist)).IsTrue()
		})

		g.It("refuses renames", func() {
			g.Assert(unsupported(client.Rename("/annar", "/other"))).IsTrue()
		})
	})
}

func TestReadOnlyHandler(t *testing.T) {
	client := serve(t, memory.New(), true)

	_, err := client.Create("/new")
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.ErrorIs(t, client.Mkdir("/dir"), os.ErrPermission)
	assert.ErrorIs(t, client.Remove("/annar"), os.ErrPermission)

	f, err := client.Open("/annar")
	require.NoError(t, err)
	defer f.Close()
	b := make([]byte, 8)
	_, err = f.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "In order", string(b))
}

func TestStatus(t *testing.T) {
	h := NewHandler(memory.New().Connect(), false, nil)
	l := log.WithField("test", true)

	cases := map[vfs.ErrorCode]error{
		vfs.ErrCodeNotFound:         sftp.ErrSSHFxNoSuchFile,
		vfs.ErrCodePermissionDenied: sftp.ErrSSHFxPermissionDenied,
		vfs.ErrCodeNotEmpty:         sftp.ErrSSHFxFailure,
		vfs.ErrCodeIsADirectory:     sftp.ErrSSHFxFailure,
		vfs.ErrCodeOther:            sftp.ErrSSHFxFailure,
	}
	for code, want := range cases {
		assert.Equal(t, want, h.status(l, "failed", vfs.NewError(code, "boom")), string(code))
	}
}

func TestListerAt(t *testing.T) {
	st := vfs.Stat{Size: 1}
	l := ListerAt{statInfo("a", st), statInfo("b", st), statInfo("c", st)}

	buf := make([]os.FileInfo, 2)
	n, err := l.ListAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.ListAt(buf, 2)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "c", buf[0].Name())

	n, err = l.ListAt(buf, 3)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}
