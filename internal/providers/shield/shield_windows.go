//go:build windows

package shield

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/infrastructure/logging"
)

func excluded(ctx context.Context, log *logging.Logger, dir string) (bool, error) {
	if !isAdmin(ctx) {
		log.Debug("not elevated, skipping Defender check", zap.String("dir", dir))
		return true, nil
	}

	out, err := exec.CommandContext(ctx, "powershell",
		"-NoProfile", "-Command",
		"Get-MpPreference | Select-Object -ExpandProperty ExclusionPath",
	).Output()
	if err != nil {
		return false, fmt.Errorf("read Defender preferences: %w", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		if strings.EqualFold(strings.TrimSpace(line), dir) {
			return true, nil
		}
	}
	return false, nil
}

func exclude(ctx context.Context, dir string) error {
	// Single-quote the path so PowerShell keeps paths with spaces whole.
	quoted := strings.ReplaceAll(dir, "'", "''")
	out, err := exec.CommandContext(ctx, "powershell",
		"-NoProfile", "-Command",
		fmt.Sprintf("Add-MpPreference -ExclusionPath '%s'", quoted),
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("add Defender exclusion (requires an elevated session): %s: %w",
			strings.TrimSpace(string(out)), err)
	}
	return nil
}

// isAdmin checks for an elevated session. net session fails without one.
func isAdmin(ctx context.Context) bool {
	return exec.CommandContext(ctx, "net", "session").Run() == nil
}
