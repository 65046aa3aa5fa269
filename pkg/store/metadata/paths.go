package metadata

import (
	gopath "path"
	"strings"
)

// RootPath is the path of the root directory record every store starts
// with.
const RootPath = "/"

// CleanPath normalizes a path to the canonical form used for record keys
// and shard hashing: absolute, forward-slash separated, no trailing slash
// except for the root itself. Normalization must be identical on every
// node or routing would disagree between them.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return gopath.Clean(p)
}

// ValidPath reports whether p is usable as a record path after cleaning.
func ValidPath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") {
		return false
	}
	return p == gopath.Clean(p)
}

// SplitPath returns the parent directory and base name of p. The root
// path has no parent; callers must special-case it.
func SplitPath(p string) (parent, name string) {
	parent, name = gopath.Split(p)
	if parent != "/" {
		parent = strings.TrimSuffix(parent, "/")
	}
	return parent, name
}
