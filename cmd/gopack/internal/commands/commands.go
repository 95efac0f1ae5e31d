package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/logger"
	"github.com/wolfeidau/gopack/internal/telemetry"
)

type Globals struct {
	Debug     bool
	Telemetry bool
	Version   string
}

// ConfigFlags select and override the configuration file.
type ConfigFlags struct {
	Config     string `help:"path to the configuration file" default:"gopack.yaml" short:"c" env:"GOPACK_CONFIG" type:"path"`
	Mode       string `help:"build mode (development, production or none)" default:"" env:"GOPACK_MODE"`
	OutputPath string `help:"directory assets are written to" default:"" env:"GOPACK_OUTPUT_PATH"`
}

func (f ConfigFlags) load(watch bool) (*config.Config, error) {
	cfg, err := config.LoadWithOverrides(f.Config, config.Overrides{
		Mode:       f.Mode,
		Watch:      watch,
		OutputPath: f.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setup installs the global logger and, when enabled, the telemetry
// exporters. The returned func flushes telemetry.
func setup(ctx context.Context, globals *Globals) func() {
	logger.Install(globals.Debug)

	if !globals.Telemetry {
		return func() {}
	}

	shutdown, err := telemetry.InitTelemetry(ctx, "gopack", globals.Version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
