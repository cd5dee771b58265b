package python

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/appyard/appyard/internal/shared/version"
)

// depsMarker records the installed dependency fingerprint inside the venv.
const depsMarker = ".appyard-deps"

// InstallOptions carries the per-install inputs resolved by the caller:
// the profile's dependency spec and pip args plus the user's pip settings.
type InstallOptions struct {
	Requirements string // spec file relative to the working tree
	PipArgs      string // extra pip arguments, whitespace-separated
	CacheDir     string // --cache-dir when non-empty
	IndexURL     string // --index-url when non-empty
	Force        bool   // run pip even when the fingerprint matches
}

// Install runs pip against the app's dependency spec: requirements files
// go through `pip install -r`, a pyproject.toml installs the project
// itself. A fingerprint of the dependency spec is recorded in the venv on
// success; unless forced, a matching fingerprint skips the run entirely.
// Returns whether pip actually ran.
func (p *Provisioner) Install(ctx context.Context, appName string, opts InstallOptions, em Emitter) (bool, error) {
	app := p.layout.App(appName)

	requirements := opts.Requirements
	if requirements == "" {
		requirements = "requirements.txt"
	}
	if _, err := os.Stat(filepath.Join(app.Working(), requirements)); err != nil {
		if os.IsNotExist(err) {
			em.Info(fmt.Sprintf("No %s found, skipping dependency install.", requirements))
			return false, nil
		}
		return false, provisionErr("install", err)
	}

	fingerprint, err := p.Fingerprint(appName, requirements, opts.PipArgs)
	if err != nil {
		return false, provisionErr("install", err)
	}
	marker := filepath.Join(app.Venv(), depsMarker)
	if !opts.Force {
		if recorded, err := os.ReadFile(marker); err == nil && strings.TrimSpace(string(recorded)) == fingerprint {
			em.Info("Dependencies unchanged, skipping install.")
			return false, nil
		}
	}
	// A stale marker must not survive a failed install.
	os.Remove(marker)

	args := []string{"-m", "pip", "install"}
	if strings.HasSuffix(requirements, ".toml") {
		em.Info("Installing project with pip...")
		args = append(args, ".")
	} else {
		em.Info(fmt.Sprintf("Installing dependencies from %s...", requirements))
		args = append(args, "-r", requirements)
	}
	if opts.CacheDir != "" {
		args = append(args, "--cache-dir", opts.CacheDir)
	}
	if opts.IndexURL != "" {
		args = append(args, "--index-url", opts.IndexURL)
	}
	args = append(args, strings.Fields(opts.PipArgs)...)

	if err := p.runStreaming(ctx, app.Working(), em, app.VenvPython(), args...); err != nil {
		return true, provisionErr("install", err)
	}

	if err := os.WriteFile(marker, []byte(fingerprint), 0o644); err != nil {
		return true, provisionErr("install", err)
	}
	em.Info("Dependencies installed.")
	return true, nil
}

// Fingerprint hashes the dependency spec the way Install records it: spec
// file name, spec content, and the profile's pip args. A changed hash is
// what forces a reinstall on version switches.
func (p *Provisioner) Fingerprint(appName, requirements, pipArgs string) (string, error) {
	app := p.layout.App(appName)
	content, err := os.ReadFile(filepath.Join(app.Working(), requirements))
	if err != nil {
		return "", err
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(requirements))
	h.Write([]byte{0})
	h.Write(content)
	h.Write([]byte{0})
	h.Write([]byte(pipArgs))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// pyprojectMeta is the subset of pyproject.toml the provisioner reads.
type pyprojectMeta struct {
	Project struct {
		RequiresPython string `toml:"requires-python"`
	} `toml:"project"`
}

// RequiresFromPyproject extracts a usable python version from a
// pyproject's requires-python constraint (">=3.10,<3.13" yields "3.10").
// Returns false when the file, the field, or a parseable version is
// absent.
func RequiresFromPyproject(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var meta pyprojectMeta
	if err := toml.Unmarshal(data, &meta); err != nil {
		return "", false
	}
	return versionFromConstraint(meta.Project.RequiresPython)
}

// versionFromConstraint strips comparison operators from the first clause
// of a version constraint and keeps the major.minor part.
func versionFromConstraint(constraint string) (string, bool) {
	clause, _, _ := strings.Cut(constraint, ",")
	clause = strings.TrimLeft(strings.TrimSpace(clause), "><=~^! ")
	clause = strings.TrimSuffix(clause, ".*")
	v, ok := version.Parse(clause)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor), true
}
