package types

import "time"

// App is the orchestrator's view of one managed application. Snapshots
// handed to the presentation layer and the persisted app.json share this
// shape; ShowAddDefender is computed per snapshot and never written to disk.
type App struct {
	Name              string    `json:"name" yaml:"name"`
	CurrentVersion    *string   `json:"current_version,omitempty" yaml:"current_version,omitempty"`
	AvailableVersions []string  `json:"available_versions" yaml:"available_versions,omitempty"`
	Running           bool      `json:"running" yaml:"-"`
	LastStart         time.Time `json:"last_start" yaml:"-"`
	CurrentProfile    string    `json:"current_profile" yaml:"current_profile,omitempty"`
	Installed         bool      `json:"installed" yaml:"-"`
	Profiles          []Profile `json:"profiles" yaml:"profiles"`

	// LastPid is the most recently spawned process id, kept so a restart
	// can probe whether the app is still running.
	LastPid *int `json:"last_pid,omitempty" yaml:"-"`

	ShowAddDefender bool `json:"show_add_defender,omitempty" yaml:"-"`
}

// Profile describes one way to run an app: entry point, dependency spec,
// runtime requirement, and spawn flags.
type Profile struct {
	Name                      string `json:"name" yaml:"name"`
	MainScript                string `json:"main_script" yaml:"main_script"`
	Admin                     *bool  `json:"admin,omitempty" yaml:"admin,omitempty"`
	RequiresDefenderWhitelist *bool  `json:"requires_defender_whitelist,omitempty" yaml:"requires_defender_whitelist,omitempty"`
	Requirements              string `json:"requirements" yaml:"requirements,omitempty"`
	PythonPath                string `json:"PYTHONPATH" yaml:"PYTHONPATH,omitempty"`
	GitURL                    string `json:"git_url" yaml:"git_url,omitempty"`
	RequiresPython            string `json:"requires_python" yaml:"requires_python,omitempty"`
	PipArgs                   string `json:"pip_args" yaml:"pip_args,omitempty"`
}

// IsAdmin reports whether the profile wants an elevated spawn.
func (p *Profile) IsAdmin() bool {
	return p.Admin != nil && *p.Admin
}

// WantsDefenderWhitelist reports whether the profile asks for a Defender
// exclusion on its install directory.
func (p *Profile) WantsDefenderWhitelist() bool {
	return p.RequiresDefenderWhitelist != nil && *p.RequiresDefenderWhitelist
}

// Profile returns the named profile, falling back to the first one when the
// name is unknown. Returns nil only when the app has no profiles at all.
func (a *App) Profile(name string) *Profile {
	for i := range a.Profiles {
		if a.Profiles[i].Name == name {
			return &a.Profiles[i]
		}
	}
	if len(a.Profiles) > 0 {
		return &a.Profiles[0]
	}
	return nil
}

// ActiveProfile returns the settings for the current profile.
func (a *App) ActiveProfile() *Profile {
	return a.Profile(a.CurrentProfile)
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (a *App) Clone() App {
	out := *a
	out.AvailableVersions = append([]string(nil), a.AvailableVersions...)
	out.Profiles = append([]Profile(nil), a.Profiles...)
	if a.CurrentVersion != nil {
		v := *a.CurrentVersion
		out.CurrentVersion = &v
	}
	if a.LastPid != nil {
		pid := *a.LastPid
		out.LastPid = &pid
	}
	return out
}

// Stats summarizes the registry for health and metrics payloads.
type Stats struct {
	TotalApps     int `json:"total_apps"`
	InstalledApps int `json:"installed_apps"`
	RunningApps   int `json:"running_apps"`
}
