// Package filesystem resolves user provided paths.
package filesystem

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// OwnerReadWriteExec is the mode of directories created by the node.
const OwnerReadWriteExec = 0o700

// GetUserHomeDirectory returns the user home directory if one is set.
func GetUserHomeDirectory() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// GetCanonicalPath returns an os-specific full path:
// - replace ~ with user's home dir path
// - expand any ${vars} or $vars
// - clean relative elements.
func GetCanonicalPath(p string) string {
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~\\") {
		if home := GetUserHomeDirectory(); home != "" {
			p = home + p[1:]
		}
	}
	return filepath.Clean(os.ExpandEnv(p))
}

// EnsureDirectory creates the canonical form of the directory if it doesn't exist
// and returns it.
func EnsureDirectory(name string) (string, error) {
	path := GetCanonicalPath(name)
	return path, os.MkdirAll(path, OwnerReadWriteExec)
}
