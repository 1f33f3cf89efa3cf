//go:build !windows

package transport

import (
	"os"
	"syscall"
)

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
