package notify

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	t.Run("without a socket", func(t *testing.T) {
		t.Setenv("NOTIFY_SOCKET", "")
		assert.NoError(t, Readiness())
	})

	t.Run("writes the payload", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "notify.sock")
		conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: p, Net: "unixgram"})
		require.NoError(t, err)
		defer conn.Close()
		t.Setenv("NOTIFY_SOCKET", p)

		require.NoError(t, Status("serving"))
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "STATUS=serving", string(buf[:n]))
	})

	t.Run("reports a missing socket", func(t *testing.T) {
		t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "missing.sock"))
		assert.Error(t, Stopping())
	})
}
