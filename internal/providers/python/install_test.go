package python

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	p := newTestProvisioner(t)
	app := p.layout.App("demo")
	writeFile(t, filepath.Join(app.Working(), "requirements.txt"), "requests==2.31.0\n")

	base, err := p.Fingerprint("demo", "requirements.txt", "")
	require.NoError(t, err)

	same, err := p.Fingerprint("demo", "requirements.txt", "")
	require.NoError(t, err)
	assert.Equal(t, base, same)

	withArgs, err := p.Fingerprint("demo", "requirements.txt", "--no-deps")
	require.NoError(t, err)
	assert.NotEqual(t, base, withArgs)

	writeFile(t, filepath.Join(app.Working(), "requirements.txt"), "requests==2.32.0\n")
	changed, err := p.Fingerprint("demo", "requirements.txt", "")
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)
}

func TestInstallSkipsWhenUnchanged(t *testing.T) {
	p := newTestProvisioner(t)
	app := p.layout.App("demo")
	writeFile(t, filepath.Join(app.Working(), "requirements.txt"), "requests\n")

	fingerprint, err := p.Fingerprint("demo", "requirements.txt", "")
	require.NoError(t, err)
	writeFile(t, filepath.Join(app.Venv(), depsMarker), fingerprint)

	em := &captureEmitter{}
	ran, err := p.Install(context.Background(), "demo", InstallOptions{Requirements: "requirements.txt"}, em)
	require.NoError(t, err)

	assert.False(t, ran)
	assert.Contains(t, em.infos, "Dependencies unchanged, skipping install.")
}

func TestInstallSkipsWithoutSpec(t *testing.T) {
	p := newTestProvisioner(t)
	require.NoError(t, os.MkdirAll(p.layout.App("demo").Working(), 0o755))

	ran, err := p.Install(context.Background(), "demo", InstallOptions{}, &captureEmitter{})
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestVersionFromConstraint(t *testing.T) {
	tests := []struct {
		constraint string
		want       string
		ok         bool
	}{
		{">=3.10", "3.10", true},
		{">=3.10,<3.13", "3.10", true},
		{"~=3.11.4", "3.11", true},
		{"==3.9.*", "3.9", true},
		{"3.12", "3.12", true},
		{"", "", false},
		{">=x.y", "", false},
	}
	for _, tt := range tests {
		got, ok := versionFromConstraint(tt.constraint)
		assert.Equal(t, tt.ok, ok, tt.constraint)
		assert.Equal(t, tt.want, got, tt.constraint)
	}
}

func TestRequiresFromPyproject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyproject.toml")
	content := "[project]\nname = \"demo\"\nrequires-python = \">=3.11\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, ok := RequiresFromPyproject(path)
	require.True(t, ok)
	assert.Equal(t, "3.11", got)

	_, ok = RequiresFromPyproject(filepath.Join(dir, "missing.toml"))
	assert.False(t, ok)

	bare := filepath.Join(dir, "bare.toml")
	require.NoError(t, os.WriteFile(bare, []byte("[project]\nname = \"demo\"\n"), 0o644))
	_, ok = RequiresFromPyproject(bare)
	assert.False(t, ok)
}
