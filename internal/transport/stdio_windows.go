//go:build windows

package transport

import "os"

// Windows has no SIGTERM; interrupt is the closest best-effort request.
func terminate(p *os.Process) error {
	return p.Signal(os.Interrupt)
}
