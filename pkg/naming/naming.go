// Package naming picks output names that do not collide with existing ones.
package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Free returns base+ext if it is not taken, otherwise base_1+ext, base_2+ext, ...
// probing upward from 1 with the supplied predicate.
func Free(base, ext string, taken func(string) bool) string {
	name := base + ext
	for i := 1; taken(name); i++ {
		name = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
	return name
}

// FreePath returns path, or the first numbered sibling that does not exist on disk.
// ext is the (possibly multi-part) extension to keep at the end, e.g. ".nii.gz".
func FreePath(path, ext string) string {
	base := path
	if ext != "" && strings.HasSuffix(strings.ToLower(path), strings.ToLower(ext)) {
		base = path[:len(path)-len(ext)]
		ext = path[len(path)-len(ext):]
	} else {
		ext = filepath.Ext(path)
		base = strings.TrimSuffix(path, ext)
	}
	return Free(base, ext, Exists)
}

// Exists reports whether something is present at path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// FreeName returns name, or the first numbered variant not present in used.
func FreeName(used []string, name string) string {
	set := make(map[string]bool, len(used))
	for _, u := range used {
		set[u] = true
	}
	return Free(name, "", func(n string) bool { return set[n] })
}
