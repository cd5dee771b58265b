package paths

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// DefaultRoot is used when no data directory is configured.
const DefaultRoot = "data"

// Subdirectories under the root
const (
	appsDir   = "apps"
	pythonDir = "env/python"
	cacheDir  = "cache"
	configDir = "config"
	logsDir   = "logs"
)

// ConfigFileName is the persisted user-config file.
const ConfigFileName = "app_config.json"

// StateFileName is the per-app persisted state file.
const StateFileName = "app.json"

// ManifestFileName is the app manifest read from the working tree.
const ManifestFileName = "appyard.yml"

// Layout resolves every directory the orchestrator touches from one root.
type Layout struct {
	Root string
}

// New returns a layout rooted at root, falling back to DefaultRoot.
func New(root string) Layout {
	if root == "" {
		root = DefaultRoot
	}
	return Layout{Root: root}
}

// AppsDir returns the parent directory of all per-app trees.
func (l Layout) AppsDir() string {
	return filepath.Join(l.Root, appsDir)
}

// PythonDir returns the shared runtime cache parent.
func (l Layout) PythonDir() string {
	return filepath.Join(l.Root, pythonDir)
}

// PythonVersionDir returns the cache directory for one runtime version.
func (l Layout) PythonVersionDir(version string) string {
	return filepath.Join(l.PythonDir(), version)
}

// PipCacheDir returns the shared pip cache location.
func (l Layout) PipCacheDir() string {
	return filepath.Join(l.Root, cacheDir, "pip")
}

// ConfigDir returns the user-config directory.
func (l Layout) ConfigDir() string {
	return filepath.Join(l.Root, configDir)
}

// ConfigFile returns the persisted user-config path.
func (l Layout) ConfigFile() string {
	return filepath.Join(l.ConfigDir(), ConfigFileName)
}

// LogsDir returns the orchestrator log directory.
func (l Layout) LogsDir() string {
	return filepath.Join(l.Root, logsDir)
}

// App returns the per-application paths for name.
func (l Layout) App(name string) App {
	return App{Name: name, base: filepath.Join(l.AppsDir(), name)}
}

// App resolves one application's on-disk tree.
type App struct {
	Name string
	base string
}

// Base returns the app's root directory.
func (a App) Base() string {
	return a.base
}

// Repo returns the pristine git checkout directory.
func (a App) Repo() string {
	return filepath.Join(a.base, "repo")
}

// Working returns the mirrored working tree the app runs from.
func (a App) Working() string {
	return filepath.Join(a.base, "working")
}

// StateFile returns the persisted app.json path.
func (a App) StateFile() string {
	return filepath.Join(a.base, StateFileName)
}

// Manifest returns the manifest path inside the working tree.
func (a App) Manifest() string {
	return filepath.Join(a.Working(), ManifestFileName)
}

// Venv returns the app's virtual environment directory.
func (a App) Venv() string {
	return filepath.Join(a.Working(), ".venv")
}

// VenvBin returns the venv's executable directory (bin or Scripts).
func (a App) VenvBin() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(a.Venv(), "Scripts")
	}
	return filepath.Join(a.Venv(), "bin")
}

// VenvPython returns the venv's interpreter path.
func (a App) VenvPython() string {
	return filepath.Join(a.VenvBin(), InterpreterName())
}

// InterpreterName returns the platform's Python executable name.
func InterpreterName() string {
	if runtime.GOOS == "windows" {
		return "python.exe"
	}
	return "python"
}

// RuntimePython returns the interpreter path inside a cached runtime dir.
func RuntimePython(versionDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(versionDir, "python.exe")
	}
	return filepath.Join(versionDir, "bin", "python3")
}

// StandardDirectories returns the directories created at startup.
func (l Layout) StandardDirectories() []string {
	return []string{
		l.AppsDir(),
		l.PythonDir(),
		l.PipCacheDir(),
		l.ConfigDir(),
		l.LogsDir(),
	}
}

// ValidateAppName rejects names that would escape the apps directory.
func ValidateAppName(name string) error {
	if name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("app name cannot be an absolute path")
	}
	if filepath.Clean(name) != name || name != filepath.Base(name) {
		return fmt.Errorf("app name contains invalid path components")
	}
	return nil
}
