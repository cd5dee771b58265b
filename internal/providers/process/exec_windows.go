//go:build windows

package process

import (
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

// Launcher extensions the venv Scripts directory uses, bare name last.
var entryExtensions = []string{".exe", ".bat", ".cmd", ".ps1", ""}

// buildCommand hides the console window for the child. Admin profiles go
// through the UAC prompt via Start-Process, which detaches the child's
// output streams.
func buildCommand(name string, args []string, dir string, env []string, admin bool) *exec.Cmd {
	var cmd *exec.Cmd
	if admin {
		cmd = exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", elevateScript(name, args, dir))
	} else {
		cmd = exec.Command(name, args...)
		cmd.Dir = dir
	}
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NO_WINDOW}
	return cmd
}

func elevateScript(name string, args []string, dir string) string {
	var b strings.Builder
	b.WriteString("Start-Process -Verb RunAs -Wait -WorkingDirectory ")
	b.WriteString(psQuote(dir))
	b.WriteString(" -FilePath ")
	b.WriteString(psQuote(name))
	if len(args) > 0 {
		quoted := make([]string, len(args))
		for i, a := range args {
			quoted[i] = psQuote(a)
		}
		b.WriteString(" -ArgumentList ")
		b.WriteString(strings.Join(quoted, ","))
	}
	return b.String()
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// terminate asks the process tree to exit. Console-less children have no
// soft signal on Windows, so this is a tree-wide taskkill.
func terminate(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T").Run()
}

func kill(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}

// Alive reports whether pid names a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == uint32(windows.STILL_ACTIVE)
}
