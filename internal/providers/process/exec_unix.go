//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Bare console scripts first, shell scripts second.
var entryExtensions = []string{"", ".sh"}

// buildCommand places the child in its own process group so Stop can
// signal the whole tree, pip and uvicorn children included. Admin
// profiles run through sudo when the daemon itself is unprivileged.
func buildCommand(name string, args []string, dir string, env []string, admin bool) *exec.Cmd {
	if admin && os.Geteuid() != 0 {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// terminate delivers SIGTERM to the process group, falling back to the
// lone pid when the group is already gone.
func terminate(pid int) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err == nil {
		return nil
	}
	return unix.Kill(pid, unix.SIGTERM)
}

func kill(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err == nil {
		return nil
	}
	return unix.Kill(pid, unix.SIGKILL)
}

// Alive reports whether pid names a live process. EPERM still means the
// process exists, just under another user.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
