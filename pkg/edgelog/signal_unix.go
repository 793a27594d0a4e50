//go:build !windows

package edgelog

import "syscall"

// terminateSignal asks the logger to flush and exit before the grace
// period escalates to a kill.
var terminateSignal = syscall.SIGTERM
