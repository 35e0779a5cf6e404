//go:build unix

package scanner

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// fileID identifies a filesystem object independently of the path used to reach it
type fileID struct {
	Dev  uint64
	Ino  uint64
	Path string
}

// identify follows symlinks and returns the device+inode of the target
func identify(path string) (fileID, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fileID{}, err
	}
	return fileID{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, nil
}

// identifyInfo reads the device+inode already carried by info
func identifyInfo(path string, info os.FileInfo) (fileID, error) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return fileID{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, nil
	}
	return identify(path)
}
