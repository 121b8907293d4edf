//go:build !unix

package vfs

func errnoCode(error) (ErrorCode, bool) {
	return "", false
}
