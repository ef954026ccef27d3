//go:build !linux

package backend

import (
	"fmt"
	"os"
)

// deviceSize has no portable ioctl-free implementation outside Linux;
// block-device backends are unsupported on other platforms, matching the
// pack's own unix-only device-size probe.
func deviceSize(f *os.File) (int64, error) {
	return 0, fmt.Errorf("backend: block device sizing unsupported on this platform: %s", f.Name())
}
