package sftpd

import (
	"io"
	"os"
)

// ListerAt is a fixed listing handed to the request server.
type ListerAt []os.FileInfo

// ListAt copies entries starting at offset and returns io.EOF once the end
// of the listing has been reached.
func (l ListerAt) ListAt(f []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}

	if n := copy(f, l[offset:]); n < len(f) {
		return n, io.EOF
	} else {
		return n, nil
	}
}
