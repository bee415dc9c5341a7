//go:build windows

package executor

import "os"

// terminateProcess has no TERM equivalent on Windows; the caller uses the
// process-tree kill instead. Kept for interface symmetry.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
