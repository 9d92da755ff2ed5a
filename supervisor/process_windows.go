//go:build windows

package supervisor

import "os"

// Windows cannot deliver SIGTERM to another process.
func terminate(p *os.Process) error {
	return p.Kill()
}
