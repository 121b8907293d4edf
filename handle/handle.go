package handle

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/pterodactyl/sharefs/vfs"
)

type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Permission modes accepted by QueryPermission and RequestPermission.
type PermissionMode string

const (
	PermissionRead      PermissionMode = "read"
	PermissionReadWrite PermissionMode = "readwrite"
)

// PermissionState is the answer to a permission query.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

// Entry is anything that can be compared with IsSameEntry or located with
// Resolve: a bound handle, a detached one, or a plain descriptor.
type Entry interface {
	Kind() Kind
	Name() string
	Path() string
}

// Handle is the part shared by directory and file handles.
type Handle struct {
	kind  Kind
	name  string
	path  string
	mount *Mount
}

var _ Entry = (*Handle)(nil)

func (h *Handle) Kind() Kind {
	return h.kind
}

func (h *Handle) Name() string {
	return h.name
}

// Path returns the share path of the entry. Directories end in a slash.
func (h *Handle) Path() string {
	return h.path
}

// Mount returns the mount the handle is bound to, or nil when detached.
func (h *Handle) Mount() *Mount {
	return h.mount
}

// IsDetached reports whether the handle has lost (or never had) its mount.
func (h *Handle) IsDetached() bool {
	return h.mount == nil
}

// IsSameEntry compares two entries without doing any I/O. Kind and name must
// match; paths are compared only when both sides know theirs.
func (h *Handle) IsSameEntry(other Entry) bool {
	return sameEntry(h, other)
}

func sameEntry(a, b Entry) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Kind() != b.Kind() || a.Name() != b.Name() {
		return false
	}
	return a.Path() == "" || b.Path() == "" || a.Path() == b.Path()
}

// QueryPermission always grants access. The share is accessed with the
// credentials of the mount and access control is left to the server.
func (h *Handle) QueryPermission(mode PermissionMode) (PermissionState, error) {
	if err := validPermissionMode(mode); err != nil {
		return "", err
	}
	return PermissionGranted, nil
}

// RequestPermission behaves exactly like QueryPermission.
func (h *Handle) RequestPermission(mode PermissionMode) (PermissionState, error) {
	return h.QueryPermission(mode)
}

func validPermissionMode(mode PermissionMode) error {
	switch mode {
	case "", PermissionRead, PermissionReadWrite:
		return nil
	}
	return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Unknown permission mode %q.", mode)
}

// Stat is the metadata exposed for a handle. Times are nanoseconds since the
// epoch; Inode is nil when the backend does not report one.
type Stat struct {
	Inode        *int64 `json:"inode"`
	Size         int64  `json:"size"`
	CreationTime int64  `json:"creation_time"`
	ModifiedTime int64  `json:"modified_time"`
	AccessedTime int64  `json:"accessed_time"`
}

// NewStat projects a provider stat.
func NewStat(st vfs.Stat) Stat {
	out := Stat{
		Size:         st.Size,
		CreationTime: st.Btime.UnixNano(),
		ModifiedTime: st.Mtime.UnixNano(),
		AccessedTime: st.Atime.UnixNano(),
	}
	if st.Ino != 0 {
		ino := int64(st.Ino)
		out.Inode = &ino
	}
	return out
}

// Stat returns metadata for the entry.
func (h *Handle) Stat() (Stat, error) {
	var st vfs.Stat
	err := h.with(func(p vfs.Provider) (err error) {
		st, err = p.Stat(h.path)
		return err
	})
	if err != nil {
		return Stat{}, err
	}
	return NewStat(st), nil
}

// with runs fn on the handle's mount, or fails when the handle is detached.
func (h *Handle) with(fn func(p vfs.Provider) error) error {
	if h.mount == nil {
		return vfs.Errorf(vfs.ErrCodeUnbound, "The %s handle %q is not bound to a share.", h.kind, h.name)
	}
	return h.mount.with(fn)
}

// descriptor is the encoded form of a handle. It never carries the mount.
type descriptor struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	Path string `json:"path"`
}

func (h *Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(descriptor{Kind: h.kind, Name: h.name, Path: h.path})
}

// UnmarshalJSON decodes a handle. The result is always detached; call Bind
// before doing any I/O with it.
func (h *Handle) UnmarshalJSON(b []byte) error {
	var d descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return vfs.WrapError(vfs.ErrCodeInvalidArgument, err, "invalid handle")
	}
	switch d.Kind {
	case KindFile, KindDirectory:
	default:
		return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Unknown handle kind %q.", d.Kind)
	}
	if d.Path != "" && !strings.HasPrefix(d.Path, vfs.Root) {
		return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Handle path %q must be absolute.", d.Path)
	}
	if d.Path != "" && vfs.IsDirPath(d.Path) != (d.Kind == KindDirectory) {
		return vfs.Errorf(vfs.ErrCodeInvalidArgument, "Handle path %q does not match its kind %q.", d.Path, d.Kind)
	}
	*h = Handle{kind: d.Kind, name: d.Name, path: d.Path}
	return nil
}

// Decode reads an encoded handle and returns a detached directory or file
// handle.
func Decode(b []byte) (Entry, error) {
	var h Handle
	if err := h.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	if h.kind == KindDirectory {
		return &DirectoryHandle{Handle: h}, nil
	}
	return &FileHandle{Handle: h}, nil
}

// Detach returns a copy of the handle without its mount.
func (h *Handle) Detach() *Handle {
	return &Handle{kind: h.kind, name: h.name, path: h.path}
}

// Bind attaches the handle to a mount so it can do I/O again.
func (h *Handle) Bind(m *Mount) error {
	if h.path == "" {
		return vfs.Errorf(vfs.ErrCodeInvalidArgument, "The %s handle %q has no path and cannot be bound.", h.kind, h.name)
	}
	h.mount = m
	return nil
}

// AsDirectory converts the handle into a directory handle.
func (h *Handle) AsDirectory() (*DirectoryHandle, error) {
	if h.kind != KindDirectory {
		return nil, vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory.", h.name)
	}
	return &DirectoryHandle{Handle: *h}, nil
}

// AsFile converts the handle into a file handle.
func (h *Handle) AsFile() (*FileHandle, error) {
	if h.kind != KindFile {
		return nil, vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory.", h.name)
	}
	return &FileHandle{Handle: *h}, nil
}

func handleFor(m *Mount, parent string, e vfs.DirEntry) Entry {
	if e.IsDir() {
		return newDirectoryHandle(m, vfs.ChildPath(parent, e.Name, true), e.Name)
	}
	return newFileHandle(m, vfs.ChildPath(parent, e.Name, false), e.Name)
}
