package cmdrunner

import (
	"fmt"
	"os"
	"os/exec"
)

// StartDetached launches cmd in its own session or process group and
// returns without waiting, so the child outlives the caller.
func (r *CommandsRunner) StartDetached(cmd string, args ...string) (int, error) {
	c := exec.Command(cmd, args...)
	c.SysProcAttr = detachedAttr()
	c.Stdin = nil
	c.Stdout = nil
	c.Stderr = nil
	if wd, err := os.UserHomeDir(); err == nil {
		c.Dir = wd
	}

	if err := c.Start(); err != nil {
		r.logger.Errorf("failed to start detached command: %s %v: %v", cmd, args, err)
		return 0, fmt.Errorf("start error: %w", err)
	}
	pid := c.Process.Pid
	if err := c.Process.Release(); err != nil {
		r.logger.Warnf("failed to release process %d: %v", pid, err)
	}
	r.logger.Debugf("started detached command %s (pid %d)", cmd, pid)
	return pid, nil
}
