package vfs

import (
	"strings"
)

// Root is the path of the top level directory of every share.
const Root = "/"

// IsDirPath reports whether p uses the directory form (trailing slash).
func IsDirPath(p string) bool {
	return strings.HasSuffix(p, "/")
}

// ChildPath formats the path of a named child of the directory at parent.
// Directories get a trailing slash, files do not.
func ChildPath(parent, name string, dir bool) string {
	if !strings.HasSuffix(parent, "/") {
		parent += "/"
	}
	if dir {
		return parent + name + "/"
	}
	return parent + name
}

// StripRoot removes exactly one leading slash. Network backends that resolve
// paths relative to a share root need this form.
func StripRoot(p string) string {
	return strings.TrimPrefix(p, "/")
}

// TrimDir removes the trailing slash from a directory path. The root is
// returned unchanged.
func TrimDir(p string) string {
	if p == Root {
		return p
	}
	return strings.TrimSuffix(p, "/")
}

// ParentAndName splits a path into the directory form of its parent and the
// final segment. The root has neither a parent nor a name.
func ParentAndName(p string) (string, string) {
	p = TrimDir(p)
	if p == Root || p == "" {
		return "", ""
	}
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return Root, p
	}
	return p[:i+1], p[i+1:]
}

// Segments splits a path into its components, ignoring empty ones.
func Segments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ValidateName checks that name can be used as a single path component.
func ValidateName(name string) error {
	switch {
	case name == "":
		return NewError(ErrCodeInvalidArgument, "Name must not be empty.")
	case name == "." || name == "..":
		return Errorf(ErrCodeInvalidArgument, "Name %q is not allowed.", name)
	case strings.ContainsAny(name, "/\x00"):
		return Errorf(ErrCodeInvalidArgument, "Name %q contains invalid characters.", name)
	}
	return nil
}
