package python

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

var pythonVersionRe = regexp.MustCompile(`Python (\d+\.\d+\.\d+)`)

// EnsureVenv creates the app's virtual environment from the given runtime.
// An existing venv is reused only when its interpreter reports exactly the
// runtime's version; otherwise (wrong version, broken interpreter) it is
// removed and recreated. Returns the venv's interpreter path.
func (p *Provisioner) EnsureVenv(ctx context.Context, appName string, rt Runtime, em Emitter) (string, error) {
	app := p.layout.App(appName)
	venv, venvPython := app.Venv(), app.VenvPython()

	if _, err := os.Stat(venv); err == nil {
		current, err := interpreterVersion(ctx, venvPython)
		if err == nil && current == rt.Version {
			em.Info(fmt.Sprintf("Virtual environment ready (Python %s).", current))
			return venvPython, nil
		}
		if err == nil {
			em.Info(fmt.Sprintf("Recreating virtual environment: Python %s -> %s.", current, rt.Version))
		} else {
			em.Info("Existing virtual environment is unusable, recreating...")
		}
		if err := os.RemoveAll(venv); err != nil {
			return "", provisionErr("venv", err)
		}
	}

	em.Info(fmt.Sprintf("Creating virtual environment with Python %s...", rt.Version))
	if err := p.runStreaming(ctx, app.Working(), em, rt.Python, "-m", "venv", venv); err != nil {
		return "", provisionErr("venv", err)
	}
	if _, err := os.Stat(venvPython); err != nil {
		return "", provisionErr("venv", fmt.Errorf("interpreter missing after creation: %s", venvPython))
	}
	return venvPython, nil
}

// interpreterVersion runs `python --version` and parses the reported
// version. Old interpreters print it on stderr, so both streams are read.
func interpreterVersion(ctx context.Context, python string) (string, error) {
	out, err := exec.CommandContext(ctx, python, "--version").CombinedOutput()
	if err != nil {
		return "", err
	}
	m := pythonVersionRe.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unrecognized python version output: %s", strings.TrimSpace(string(out)))
	}
	return string(m[1]), nil
}
