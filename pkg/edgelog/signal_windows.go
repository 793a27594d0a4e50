//go:build windows

package edgelog

import "os"

// Windows has no SIGTERM; fall back to Kill immediately.
var terminateSignal = os.Kill
