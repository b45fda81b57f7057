package scanner

import (
	"path/filepath"
	"strings"
)

// AlwaysExcluded are skipped regardless of configuration: vendored external
// code, VCS metadata and the coordinator's own state directory.
var AlwaysExcluded = []string{"external/", ".git/", ".autoprog/"}

// ShouldExcludePath checks if a slash-separated relative path matches any
// exclude pattern. Patterns match at path component boundaries, as a suffix,
// or as a filepath.Match glob against the path or its base name.
func ShouldExcludePath(relPath string, isDir bool, patterns []string) bool {
	relPath = filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(relPath, "/") {
		relPath += "/"
	}
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// "vendor/" matches "vendor/foo" but not "vendorized/bar"
		if strings.HasPrefix(relPath, pattern) {
			return true
		}
		if strings.Contains(relPath, "/"+pattern) {
			return true
		}
		// suffix match for file patterns like "_pb2.py"
		if !isDir && strings.HasSuffix(relPath, pattern) {
			return true
		}
		if strings.ContainsAny(pattern, "*?[") {
			trimmed := strings.TrimSuffix(relPath, "/")
			if ok, _ := filepath.Match(pattern, trimmed); ok {
				return true
			}
			if ok, _ := filepath.Match(pattern, filepath.Base(trimmed)); ok {
				return true
			}
		}
	}
	return false
}
