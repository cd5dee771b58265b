package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/appyard/appyard/internal/shared/paths"
)

// resolveEntry locates the profile's entry point. A path under the
// working tree wins; otherwise the venv's script directory is searched
// with the platform's launcher extensions. Python files run through the
// venv interpreter, anything else runs directly.
func resolveEntry(app paths.App, mainScript string) (string, []string, error) {
	script := strings.TrimSpace(mainScript)
	if script == "" {
		return "", nil, fmt.Errorf("profile for %s has no main_script", filepath.Base(app.Base()))
	}

	var found string
	if p := filepath.Join(app.Working(), script); isFile(p) {
		found = p
	} else {
		for _, ext := range entryExtensions {
			if p := filepath.Join(app.VenvBin(), script+ext); isFile(p) {
				found = p
				break
			}
		}
	}
	if found == "" {
		return "", nil, fmt.Errorf("entry point %q not found in %s or %s", script, app.Working(), app.VenvBin())
	}

	if strings.EqualFold(filepath.Ext(found), ".py") {
		return app.VenvPython(), []string{found}, nil
	}
	return found, nil, nil
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// childEnv builds the spawned app's environment: the venv first on PATH,
// Python forced to unbuffered UTF-8 output, and the app's identity
// exported. Interpreter overrides inherited from the host would poison
// the venv, so PYTHONHOME and PYTHONSTARTUP never pass through, and
// PYTHONPATH only survives when the profile sets one.
func childEnv(app paths.App, spec StartSpec) []string {
	env := make([]string, 0, len(os.Environ())+8)
	var hostPath string
	for _, kv := range os.Environ() {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		switch strings.ToUpper(key) {
		case "PATH":
			hostPath = kv[len(key)+1:]
			continue
		case "PYTHONHOME", "PYTHONSTARTUP", "PYTHONPATH", "VIRTUAL_ENV":
			continue
		}
		env = append(env, kv)
	}

	env = append(env,
		"PATH="+app.VenvBin()+string(os.PathListSeparator)+hostPath,
		"VIRTUAL_ENV="+app.Venv(),
		"PYTHONUNBUFFERED=1",
		"PYTHONIOENCODING=utf-8",
		"APPYARD_APP="+spec.App,
		"APPYARD_PROFILE="+spec.Profile.Name,
	)
	if spec.Profile.PythonPath != "" {
		env = append(env, "PYTHONPATH="+spec.Profile.PythonPath)
	}
	if spec.Version != "" {
		env = append(env, "APPYARD_VERSION="+spec.Version)
	}
	return env
}
