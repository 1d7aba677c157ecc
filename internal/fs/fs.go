// Package fs holds some utilities for manipulating the file system
package fs

import (
	"fmt"
	"os"
	"os/user"
	"path"
)

const defaultDirectoryPermission = 0740

// HomeFolder returns the home folder of the current user, the working
// directory when it cannot be determined.
func HomeFolder() string {
	u, err := user.Current()
	if err != nil {
		return "."
	}
	return u.HomeDir
}

// DefaultDataFolder is where the daemon keeps its database by default.
func DefaultDataFolder() string {
	return path.Join(HomeFolder(), ".mapserver")
}

// CreateSecureFolder creates folder with owner-only write permission. An
// existing folder is kept as is, but one that other users may write to is
// refused.
func CreateSecureFolder(folder string) (string, error) {
	exists, err := Exists(folder)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := os.MkdirAll(folder, defaultDirectoryPermission); err != nil {
			return "", fmt.Errorf("creating folder %s: %w", folder, err)
		}
		return folder, nil
	}

	info, err := os.Lstat(folder)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a folder", folder)
	}
	if perm := info.Mode().Perm(); perm&0022 != 0 {
		return "", fmt.Errorf("folder %s is writable by others: %#o", folder, perm)
	}
	return folder, nil
}

// Exists returns whether the given file or directory exists.
func Exists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// OpenSecureFile opens file for appending with wr permission for user only,
// creating it if needed.
func OpenSecureFile(file string) (*os.File, error) {
	fd, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	if err := fd.Chmod(0600); err != nil {
		fd.Close()
		return nil, err
	}
	return fd, nil
}
