//go:build windows

package osutil

import (
	"os"
)

// SignalNotify is a no-op on Windows which lacks the Unix signal set.
func SignalNotify(c chan os.Signal) {
}

// IsSignalUSR1 can never be true on Windows.
func IsSignalUSR1(s os.Signal) bool {
	return false
}
