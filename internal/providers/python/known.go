package python

import (
	"fmt"
	"runtime"
)

// Release pins one python-build-standalone build per supported minor line.
// A minor line always resolves to the pinned patch; nothing newer is picked
// up until this table moves.
type Release struct {
	Minor string // "3.12"
	Patch string // "3.12.10"
	Tag   string // upstream release tag the archive was published under
}

// releases holds the supported lines, newest first. 3.7 predates the
// install_only_stripped layout and ships as a zstd tarball.
var releases = []Release{
	{Minor: "3.13", Patch: "3.13.2", Tag: "20250317"},
	{Minor: "3.12", Patch: "3.12.10", Tag: "20250517"},
	{Minor: "3.11", Patch: "3.11.12", Tag: "20250517"},
	{Minor: "3.10", Patch: "3.10.16", Tag: "20250317"},
	{Minor: "3.9", Patch: "3.9.21", Tag: "20250317"},
	{Minor: "3.8", Patch: "3.8.20", Tag: "20241002"},
	{Minor: "3.7", Patch: "3.7.9", Tag: "20200822"},
}

// SupportedVersions lists the minor lines offered in settings, newest first.
func SupportedVersions() []string {
	out := make([]string, len(releases))
	for i, r := range releases {
		out[i] = r.Minor
	}
	return out
}

// ReleaseFor resolves a minor line or an exact patch to its pinned release.
func ReleaseFor(version string) (Release, bool) {
	for _, r := range releases {
		if r.Minor == version || r.Patch == version {
			return r, true
		}
	}
	return Release{}, false
}

// Archive names one downloadable artifact and where to get it.
type Archive struct {
	Name     string
	Upstream string
	Mirror   string
}

// Archive resolves the artifact for this release on the current platform.
func (r Release) Archive() (Archive, error) {
	name, err := r.archiveName()
	if err != nil {
		return Archive{}, err
	}
	return Archive{
		Name:     name,
		Upstream: fmt.Sprintf("https://github.com/astral-sh/python-build-standalone/releases/download/%s/%s", r.Tag, name),
		Mirror:   "https://www.modelscope.cn/models/okoldking/ok/resolve/master/pythons/" + name,
	}, nil
}

func (r Release) archiveName() (string, error) {
	t, err := triple()
	if err != nil {
		return "", err
	}
	if r.Minor == "3.7" {
		// Only ever published for Windows, in the old shared-pgo layout.
		if t != "x86_64-pc-windows-msvc" {
			return "", fmt.Errorf("python %s is only available on windows/amd64", r.Patch)
		}
		return fmt.Sprintf("cpython-%s-%s-shared-pgo-20200823T0118.tar.zst", r.Patch, t), nil
	}
	return fmt.Sprintf("cpython-%s+%s-%s-install_only_stripped.tar.gz", r.Patch, r.Tag, t), nil
}

// triple maps the host platform onto python-build-standalone target names.
func triple() (string, error) {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "windows/amd64":
		return "x86_64-pc-windows-msvc", nil
	case "linux/amd64":
		return "x86_64-unknown-linux-gnu", nil
	case "linux/arm64":
		return "aarch64-unknown-linux-gnu", nil
	case "darwin/amd64":
		return "x86_64-apple-darwin", nil
	case "darwin/arm64":
		return "aarch64-apple-darwin", nil
	default:
		return "", fmt.Errorf("no python builds for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}
