//go:build !windows

package shield

import (
	"context"

	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/infrastructure/logging"
)

func excluded(ctx context.Context, log *logging.Logger, dir string) (bool, error) {
	log.Debug("no Defender on this platform", zap.String("dir", dir))
	return true, nil
}

func exclude(ctx context.Context, dir string) error {
	return nil
}
