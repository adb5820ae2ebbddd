// pkg/browser/launchers.go
package browser

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domquery/internal/config"
	"github.com/xkilldash9x/domquery/pkg/browser/cdp"
	"github.com/xkilldash9x/domquery/pkg/browser/static"
	"github.com/xkilldash9x/domquery/pkg/driver"
)

// DefaultLaunchers returns launchers for the static and chrome backends.
func DefaultLaunchers(cfg config.BrowserConfig, logger *zap.Logger) map[Kind]Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return map[Kind]Launcher{
		KindStatic: func(ctx context.Context) (driver.Driver, error) {
			return static.New(logger), nil
		},
		KindChrome: func(ctx context.Context) (driver.Driver, error) {
			d, err := cdp.Launch(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	}
}

// NewPoolFromConfig builds a pool with the default launchers and the pool
// limits from cfg.
func NewPoolFromConfig(cfg config.Interface, logger *zap.Logger) *Pool {
	pc := cfg.Pool()
	return NewPool(
		DefaultLaunchers(cfg.Browser(), logger),
		WithLogger(logger),
		WithMaxIdle(pc.MaxIdle),
		WithMaxLaunching(pc.MaxLaunching),
		WithLaunchRate(pc.LaunchRate, pc.LaunchBurst),
	)
}
