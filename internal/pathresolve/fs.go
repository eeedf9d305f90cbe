package pathresolve

import (
	"os"
)

// FS wraps the filesystem queries used to resolve source files.
type FS interface {
	// FileExists reports whether path names a regular file.
	FileExists(path string) (bool, error)
	// DirExists reports whether path names a directory.
	DirExists(path string) (bool, error)
}

type osFS struct{}

// OS returns an FS backed by the host filesystem.
func OS() FS {
	return osFS{}
}

func (osFS) FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (osFS) DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
