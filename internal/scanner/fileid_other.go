//go:build !unix

package scanner

import (
	"os"
	"path/filepath"
)

type fileID struct {
	Dev  uint64
	Ino  uint64
	Path string
}

// identify falls back to the fully resolved path where no inode identity exists
func identify(path string) (fileID, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fileID{}, err
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return fileID{}, err
	}
	return fileID{Path: abs}, nil
}

func identifyInfo(path string, _ os.FileInfo) (fileID, error) {
	return identify(path)
}
