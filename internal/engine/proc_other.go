//go:build !unix

package engine

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr { return nil }

func killProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
