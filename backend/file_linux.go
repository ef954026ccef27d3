//go:build linux

package backend

import (
	"os"

	"golang.org/x/sys/unix"
)

// deviceSize probes a block device's size via BLKGETSIZE64 the same way
// the rest of the diskfs family does, since block devices report a zero
// or meaningless length from Stat.
func deviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}
