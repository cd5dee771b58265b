package app

import (
	"testing"

	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/shared/types"
)

func testApp(name string) types.App {
	return types.App{
		Name:           name,
		CurrentProfile: "release",
		Profiles: []types.Profile{
			{Name: "release", MainScript: "main.py", GitURL: "https://example.com/" + name + ".git"},
		},
	}
}

func TestPutAndGetReturnsCopies(t *testing.T) {
	m := NewManager(logging.NewNop())
	m.Put(testApp("demo"))

	got, ok := m.Get("demo")
	if !ok {
		t.Fatal("expected demo to exist")
	}

	got.Profiles[0].MainScript = "hacked.py"
	got.AvailableVersions = append(got.AvailableVersions, "v9.9.9")

	again, _ := m.Get("demo")
	if again.Profiles[0].MainScript != "main.py" {
		t.Errorf("registry entry mutated through a copy: %s", again.Profiles[0].MainScript)
	}
	if len(again.AvailableVersions) != 0 {
		t.Errorf("expected no versions, got %v", again.AvailableVersions)
	}
}

func TestGetUnknown(t *testing.T) {
	m := NewManager(logging.NewNop())
	if _, ok := m.Get("ghost"); ok {
		t.Error("expected ghost to be absent")
	}
}

func TestListSortsByName(t *testing.T) {
	m := NewManager(logging.NewNop())
	m.Put(testApp("charlie"))
	m.Put(testApp("alpha"))
	m.Put(testApp("bravo"))

	list := m.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 apps, got %d", len(list))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if list[i].Name != want {
			t.Errorf("position %d: expected %s, got %s", i, want, list[i].Name)
		}
	}
}

func TestUpdateMutatesEntry(t *testing.T) {
	m := NewManager(logging.NewNop())
	m.Put(testApp("demo"))

	version := "v1.2.0"
	updated, ok := m.Update("demo", func(a *types.App) {
		a.Installed = true
		a.CurrentVersion = &version
	})
	if !ok {
		t.Fatal("update failed")
	}
	if !updated.Installed || updated.CurrentVersion == nil || *updated.CurrentVersion != "v1.2.0" {
		t.Errorf("update not reflected in returned copy: %+v", updated)
	}

	got, _ := m.Get("demo")
	if !got.Installed {
		t.Error("update not reflected in registry")
	}

	if _, ok := m.Update("ghost", func(a *types.App) {}); ok {
		t.Error("expected update of unknown app to fail")
	}
}

func TestRemove(t *testing.T) {
	m := NewManager(logging.NewNop())
	m.Put(testApp("demo"))

	if !m.Remove("demo") {
		t.Fatal("remove failed")
	}
	if _, ok := m.Get("demo"); ok {
		t.Error("demo should be gone")
	}
	if m.Remove("demo") {
		t.Error("second remove should report absence")
	}
}

func TestStats(t *testing.T) {
	m := NewManager(logging.NewNop())

	a := testApp("a")
	a.Installed = true
	a.Running = true
	m.Put(a)

	b := testApp("b")
	b.Installed = true
	m.Put(b)

	m.Put(testApp("c"))

	stats := m.Stats()
	if stats.TotalApps != 3 {
		t.Errorf("expected 3 total, got %d", stats.TotalApps)
	}
	if stats.InstalledApps != 2 {
		t.Errorf("expected 2 installed, got %d", stats.InstalledApps)
	}
	if stats.RunningApps != 1 {
		t.Errorf("expected 1 running, got %d", stats.RunningApps)
	}
}
