package sftpd

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pkg/sftp"

	"github.com/pterodactyl/sharefs/vfs"
)

// Handler serves SFTP requests out of a vfs.Provider. Providers are not safe
// for concurrent use while the request server is, so every call into the
// provider goes through a single lock.
type Handler struct {
	mu       sync.Mutex
	fs       vfs.Provider
	readOnly bool
	logger   *log.Entry
}

// NewHandler returns a new handler for the given provider.
func NewHandler(fs vfs.Provider, readOnly bool, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("subsystem", "sftpd")
	}
	return &Handler{fs: fs, readOnly: readOnly, logger: logger}
}

// Handlers returns the handlers in the shape the request server expects.
func (h *Handler) Handlers() sftp.Handlers {
	return sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	}
}

// Fileread opens a file for reading.
func (h *Handler) Fileread(request *sftp.Request) (io.ReaderAt, error) {
	f, err := h.open(request.Filepath, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Filewrite opens a file for writing, creating it when the client asks for it.
func (h *Handler) Filewrite(request *sftp.Request) (io.WriterAt, error) {
	if h.readOnly {
		return nil, sftp.ErrSSHFxPermissionDenied
	}
	f, err := h.open(request.Filepath, os.O_WRONLY|openFlags(request.Pflags()))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenFile opens a file for both reading and writing.
func (h *Handler) OpenFile(request *sftp.Request) (sftp.WriterAtReaderAt, error) {
	if h.readOnly {
		return nil, sftp.ErrSSHFxPermissionDenied
	}
	f, err := h.open(request.Filepath, os.O_RDWR|openFlags(request.Pflags()))
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (h *Handler) open(p string, flag int) (*handleFile, error) {
	l := h.logger.WithField("source", p)

	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := h.fs.Open(p, flag)
	if err != nil {
		return nil, h.status(l, "failed to open file", err)
	}
	return &handleFile{h: h, f: f, path: p}, nil
}

// Filecmd handles every request that changes the tree without reading or
// writing file contents.
func (h *Handler) Filecmd(request *sftp.Request) error {
	if h.readOnly {
		return sftp.ErrSSHFxPermissionDenied
	}

	p := request.Filepath
	l := h.logger.WithField("source", p)

	h.mu.Lock()
	defer h.mu.Unlock()

	switch request.Method {
	case "Setstat":
		// Only size changes map onto the share. Modes, owners and times are
		// accepted and ignored.
		if !request.AttrFlags().Size {
			return nil
		}
		if err := h.fs.Truncate(p, int64(request.Attributes().Size)); err != nil {
			return h.status(l, "failed to truncate file", err)
		}
		return nil
	case "Mkdir":
		if err := h.fs.Mkdir(p, 0o755); err != nil {
			return h.status(l, "failed to create directory", err)
		}
		return nil
	case "Rmdir":
		if err := h.fs.Rmdir(p); err != nil {
			return h.status(l, "failed to remove directory", err)
		}
		return nil
	case "Remove":
		if err := h.fs.Unlink(p); err != nil {
			return h.status(l, "failed to remove file", err)
		}
		return nil
	default:
		// Rename and links have no equivalent on the share.
		return sftp.ErrSSHFxOpUnsupported
	}
}

// Filelist handles directory listings and stat calls.
func (h *Handler) Filelist(request *sftp.Request) (sftp.ListerAt, error) {
	p := request.Filepath
	l := h.logger.WithField("source", p)

	h.mu.Lock()
	defer h.mu.Unlock()

	switch request.Method {
	case "List":
		d, err := h.fs.Opendir(p)
		if err != nil {
			return nil, h.status(l, "failed to list directory", err)
		}
		entries, err := vfs.ReadDirectory(d)
		if err != nil {
			return nil, h.status(l, "failed to list directory", err)
		}
		files := make([]os.FileInfo, 0, len(entries))
		for _, e := range entries {
			files = append(files, entryInfo(e))
		}
		return ListerAt(files), nil
	case "Stat", "Lstat":
		// The share has no symlinks, so both resolve the same way.
		st, err := h.fs.Stat(p)
		if err != nil {
			return nil, h.status(l, "failed to stat entry", err)
		}
		_, name := vfs.ParentAndName(p)
		if name == "" {
			name = "/"
		}
		return ListerAt([]os.FileInfo{statInfo(name, st)}), nil
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

// status converts a provider error into one of the status codes SFTP can
// carry. Anything unexpected is logged.
func (h *Handler) status(l *log.Entry, msg string, err error) error {
	switch vfs.CodeOf(err) {
	case vfs.ErrCodeNotFound:
		return sftp.ErrSSHFxNoSuchFile
	case vfs.ErrCodePermissionDenied:
		return sftp.ErrSSHFxPermissionDenied
	case vfs.ErrCodeIsADirectory, vfs.ErrCodeNotADirectory, vfs.ErrCodeNotEmpty, vfs.ErrCodeExists, vfs.ErrCodeInvalidArgument:
		l.WithField("error", err).Debug(msg)
		return sftp.ErrSSHFxFailure
	default:
		l.WithField("error", err).Error(msg)
		return sftp.ErrSSHFxFailure
	}
}

func openFlags(pf sftp.FileOpenFlags) int {
	var flag int
	if pf.Creat {
		flag |= os.O_CREATE
	}
	if pf.Trunc {
		flag |= os.O_TRUNC
	}
	if pf.Excl {
		flag |= os.O_EXCL
	}
	return flag
}

// handleFile adapts a vfs.File to the io interfaces the request server uses.
type handleFile struct {
	h    *Handler
	f    vfs.File
	path string
}

// ReadAt fills p, issuing as many reads as the provider's maximum read size
// requires.
func (hf *handleFile) ReadAt(p []byte, off int64) (int, error) {
	hf.h.mu.Lock()
	defer hf.h.mu.Unlock()

	n := 0
	for n < len(p) {
		b, err := hf.f.Pread(len(p)-n, off+int64(n))
		if err != nil {
			return n, hf.h.status(hf.h.logger.WithField("source", hf.path), "failed to read file", err)
		}
		if len(b) == 0 {
			return n, io.EOF
		}
		n += copy(p[n:], b)
	}
	return n, nil
}

func (hf *handleFile) WriteAt(p []byte, off int64) (int, error) {
	hf.h.mu.Lock()
	defer hf.h.mu.Unlock()

	n, err := hf.f.Pwrite(p, off)
	if err != nil {
		return n, hf.h.status(hf.h.logger.WithField("source", hf.path), "failed to write file", err)
	}
	return n, nil
}

func (hf *handleFile) Close() error {
	hf.h.mu.Lock()
	defer hf.h.mu.Unlock()
	return hf.f.Close()
}

type fileInfo struct {
	name string
	st   vfs.Stat
}

func statInfo(name string, st vfs.Stat) os.FileInfo {
	return &fileInfo{name: name, st: st}
}

func entryInfo(e vfs.DirEntry) os.FileInfo {
	return &fileInfo{name: e.Name, st: vfs.Stat{
		Ino:   e.Ino,
		Nlink: e.Nlink,
		Size:  e.Size,
		Type:  e.Type,
		Atime: e.Atime,
		Mtime: e.Mtime,
		Ctime: e.Ctime,
		Btime: e.Btime,
	}}
}

func (fi *fileInfo) Name() string { return fi.name }
func (fi *fileInfo) Size() int64  { return fi.st.Size }
func (fi *fileInfo) IsDir() bool  { return fi.st.IsDir() }
func (fi *fileInfo) Sys() any     { return nil }

func (fi *fileInfo) ModTime() time.Time {
	return fi.st.Mtime.Time()
}

func (fi *fileInfo) Mode() os.FileMode {
	if fi.st.IsDir() {
		return os.ModeDir | 0o755
	}
	return 0o644
}
