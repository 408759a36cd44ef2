package fsys

import (
	"strings"

	"github.com/caoyingkang/nachos/kernerr"
)

// splitPath validates an absolute path and splits it into the
// directory segments leading to the final component and that final
// component itself, per spec.md §4.5: "Names are absolute paths of
// the form /seg1/seg2/.../leaf; trailing / is forbidden".
func splitPath(path string) (segments []string, leaf string, err error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, "", kernerr.BadPath
	}
	if path == "/" {
		return nil, "", kernerr.BadPath
	}
	if strings.HasSuffix(path, "/") {
		return nil, "", kernerr.BadPath
	}

	parts := strings.Split(path[1:], "/")
	for _, p := range parts {
		if p == "" {
			return nil, "", kernerr.BadPath
		}
	}

	return parts[:len(parts)-1], parts[len(parts)-1], nil
}

// splitDirPath validates an absolute path that names a directory
// (including "/" itself, meaning the root) and returns the segments
// to walk from the root to reach it.
func splitDirPath(path string) (segments []string, err error) {
	if path == "/" {
		return nil, nil
	}
	segs, leaf, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	return append(segs, leaf), nil
}

// joinPath rebuilds an absolute path from a parent path and a child
// name.
func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
