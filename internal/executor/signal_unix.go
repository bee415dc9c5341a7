//go:build !windows

package executor

import (
	"os"
	"syscall"
)

// terminateProcess sends the polite termination signal.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
