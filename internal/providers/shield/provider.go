package shield

import (
	"context"

	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/infrastructure/logging"
)

// Provider manages antivirus scan exclusions for app directories.
// Defender scanning of a venv slows cold starts badly enough that some
// profiles ask for the app directory to be whitelisted.
type Provider struct {
	log *logging.Logger
}

// NewProvider returns a shield provider.
func NewProvider(log *logging.Logger) *Provider {
	return &Provider{log: log.Component("shield")}
}

// Excluded reports whether dir is already on the scanner's exclusion
// list. Platforms without Defender, and sessions that could not change
// the list anyway, count as excluded so callers stop prompting.
func (p *Provider) Excluded(ctx context.Context, dir string) (bool, error) {
	return excluded(ctx, p.log, dir)
}

// Ensure adds dir to the scanner's exclusion list when it is missing.
func (p *Provider) Ensure(ctx context.Context, dir string) error {
	ok, err := p.Excluded(ctx, dir)
	if err != nil {
		return err
	}
	if ok {
		p.log.Info("exclusion already present", zap.String("dir", dir))
		return nil
	}
	if err := exclude(ctx, dir); err != nil {
		return err
	}
	p.log.Info("exclusion added", zap.String("dir", dir))
	return nil
}
