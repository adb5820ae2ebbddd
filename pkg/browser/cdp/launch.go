// pkg/browser/cdp/launch.go
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domquery/internal/config"
)

// Launch starts a browser process configured by cfg and opens one tab on it.
// Closing the returned Driver terminates the process. The process outlives
// ctx, which only bounds the startup.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cdp")
	logger.Info("Launching browser...", zap.Bool("headless", cfg.Headless))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), buildAllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	d := newDriver(tabCtx, func() {
		tabCancel()
		allocCancel()
	}, logger)

	startCtx, cancel := context.WithTimeout(ctx, cfg.LaunchTimeout)
	defer cancel()
	if err := d.start(startCtx); err != nil {
		d.release()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}
	if err := d.run(startCtx, emulate(cfg).Do); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to apply emulation: %w", err)
	}

	logger.Info("Browser launched successfully and is responsive.")
	return d, nil
}

// New opens a tab in the browser behind an existing chromedp context.
// Closing the Driver closes the tab only.
func New(ctx context.Context, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tabCtx, tabCancel := chromedp.NewContext(ctx)
	d := newDriver(tabCtx, tabCancel, logger.Named("cdp"))
	if err := d.start(ctx); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return d, nil
}

// allocatorFlags assembles the command line switches for the browser process.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                  cfg.Headless,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
		"disable-extensions":        true,
		"disable-gpu":               cfg.Headless,
		"mute-audio":                true,
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height)
	}

	// Required inside containers.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}

	// Custom arguments win over everything above.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := allocatorFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// emulate pins the viewport so element coordinates do not depend on the
// host display.
func emulate(cfg config.BrowserConfig) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		w, h := cfg.Viewport.Width, cfg.Viewport.Height
		if w <= 0 || h <= 0 {
			return nil
		}
		orientation := emulation.OrientationTypeLandscapePrimary
		if h > w {
			orientation = emulation.OrientationTypePortraitPrimary
		}
		err := emulation.SetDeviceMetricsOverride(w, h, 1.0, false).
			WithScreenOrientation(&emulation.ScreenOrientation{
				Type:  orientation,
				Angle: 0,
			}).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to set device metrics: %w", err)
		}
		return nil
	}
}
