// Package manifest loads appyard.yml files and normalizes their profiles.
package manifest

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"

	"github.com/appyard/appyard/internal/shared/paths"
	"github.com/appyard/appyard/internal/shared/types"
)

// Load reads and parses the manifest at path, applies profile inheritance,
// and defaults the current profile to the first one.
func Load(path string) (types.App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.App{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes manifest bytes. Split from Load for tests and for
// refreshing from an already-read working copy.
func Parse(data []byte) (types.App, error) {
	var app types.App
	if err := yaml.Unmarshal(data, &app); err != nil {
		return types.App{}, fmt.Errorf("parse manifest: %w", err)
	}
	// The name becomes a directory under the apps root, so it must not
	// carry path components.
	if err := paths.ValidateAppName(app.Name); err != nil {
		return types.App{}, fmt.Errorf("manifest app name: %w", err)
	}
	if len(app.Profiles) == 0 {
		return types.App{}, fmt.Errorf("manifest for %s has no profiles", app.Name)
	}
	ApplyInheritance(&app)
	if app.CurrentProfile == "" {
		app.CurrentProfile = app.Profiles[0].Name
	}
	return app, nil
}

// ApplyInheritance fills every empty field of later profiles from the first
// profile. The name never inherits.
func ApplyInheritance(app *types.App) {
	if len(app.Profiles) == 0 {
		return
	}
	first := app.Profiles[0]
	for i := range app.Profiles[1:] {
		p := &app.Profiles[i+1]
		if p.MainScript == "" {
			p.MainScript = first.MainScript
		}
		if p.Requirements == "" {
			p.Requirements = first.Requirements
		}
		if p.PythonPath == "" {
			p.PythonPath = first.PythonPath
		}
		if p.GitURL == "" {
			p.GitURL = first.GitURL
		}
		if p.RequiresPython == "" {
			p.RequiresPython = first.RequiresPython
		}
		if p.Admin == nil {
			p.Admin = first.Admin
		}
		if p.RequiresDefenderWhitelist == nil {
			p.RequiresDefenderWhitelist = first.RequiresDefenderWhitelist
		}
		if p.PipArgs == "" {
			p.PipArgs = first.PipArgs
		}
	}
}

// Refine re-reads the manifest from a checked-out working tree and replaces
// the app's name and profiles, keeping the current profile when it still
// exists and falling back to the first one otherwise. A missing file is a
// no-op; a broken file leaves the app untouched and returns the error.
func Refine(app *types.App, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", path, err)
	}

	parsed, err := Parse(data)
	if err != nil {
		return err
	}

	app.Name = parsed.Name
	app.Profiles = parsed.Profiles

	found := false
	for _, p := range app.Profiles {
		if p.Name == app.CurrentProfile {
			found = true
			break
		}
	}
	if !found {
		app.CurrentProfile = app.Profiles[0].Name
	}
	return nil
}
