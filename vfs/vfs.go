// Package vfs defines the narrow capability interface that every share
// backend implements. Everything above it (handles, streams and watches) is
// written purely in terms of these calls so that the network provider and the
// in-memory provider are interchangeable.
//
// Paths handed to a Provider are provider-relative and absolute ("/" is the
// root of the share). Directory paths carry a trailing slash while file paths
// never do; providers must accept both forms for directories.
package vfs

import (
	"context"
	"os"
)

// Provider is a single connection to a share.
//
// A Provider is not required to be safe for concurrent use. Callers that
// share one between goroutines must serialize access themselves.
type Provider interface {
	// Stat returns metadata for the entry at the given path.
	Stat(path string) (Stat, error)
	// Opendir returns an iterator over the entries of a directory. The
	// iterator may or may not include "." and "..".
	Opendir(path string) (Directory, error)
	// Mkdir creates a single directory. The parent must already exist.
	Mkdir(path string, mode os.FileMode) error
	// Rmdir removes an empty directory.
	Rmdir(path string) error
	// Create creates (or opens, depending on flag) a regular file. The parent
	// directory must already exist.
	Create(path string, flag int, mode os.FileMode) (File, error)
	// Open opens an existing regular file. If flag contains os.O_CREATE the
	// file is created when missing.
	Open(path string, flag int) (File, error)
	// Unlink removes a regular file.
	Unlink(path string) error
	// Truncate resizes a file, zero filling when it grows.
	Truncate(path string, size int64) error
	// Watch subscribes to change notifications below path and blocks until
	// cancel is closed or the subscription fails. Once the subscription is
	// live a value is sent on ready without blocking. Every event that
	// matches mask is passed to fn from the watching goroutine.
	Watch(path string, mode WatchMode, mask NotifyOp, fn WatchFunc, ready chan<- struct{}, cancel <-chan struct{}) error
	// Close releases the connection.
	Close() error
}

// File is an open regular file on a Provider.
type File interface {
	Fstat() (Stat, error)
	// Pread reads up to count bytes starting at offset. Reading at or past
	// the end of the file returns an empty slice and no error.
	Pread(count int, offset int64) ([]byte, error)
	// Pwrite writes data at offset, zero padding the file if offset is past
	// the current end, and returns the number of bytes written.
	Pwrite(data []byte, offset int64) (int, error)
	// MaxReadSize returns the largest count a single Pread will honor.
	MaxReadSize() (int, error)
	Close() error
}

// Directory is a one-shot iterator over a directory listing. Next returns
// io.EOF once every entry has been returned.
type Directory interface {
	Next() (DirEntry, error)
	Close() error
}

// Dialer opens a new, independent connection to the same share. Watches use
// it so that a long running subscription never holds the shared connection.
type Dialer func(ctx context.Context) (Provider, error)
