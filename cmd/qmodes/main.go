package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"

	"github.com/lox/qmodes/internal/config"
	"github.com/lox/qmodes/internal/metrics"
	"github.com/lox/qmodes/internal/observability"
	"github.com/lox/qmodes/internal/pipeline"
	"github.com/lox/qmodes/internal/store"
	"github.com/lox/qmodes/internal/zenodo"
)

type CLI struct {
	Progress bool `help:"Show progress bars on long loops."`

	FetchModes FetchModesCmd `cmd:"" name:"fetch-modes" help:"Download the MODES input datasets from Zenodo."`
	FetchERA5  FetchERA5Cmd  `cmd:"" name:"fetch-era5" help:"Retrieve ERA5 model-level data and interpolate it to pressure levels."`
	VSFInt     VSFIntCmd     `cmd:"" name:"vsf-int" help:"Integrate the vertical structure functions over pressure."`
	QK         QKCmd         `cmd:"" name:"qk" help:"Project Hough coefficients onto Fourier coefficients of q for one species."`
	QModes     QModesCmd     `cmd:"" name:"qmodes" help:"Reconstruct q for every species from the Fourier coefficients."`
	Variance   VarianceCmd   `cmd:"" help:"Plot the latitude variance of the anomaly components."`
	Bands      BandsCmd      `cmd:"" help:"Compare Fourier band profiles of the tropics and mid-latitudes."`
	Contour    ContourCmd    `cmd:"" help:"Draw global anomaly maps at one pressure level."`
	Dispersion DispersionCmd `cmd:"" help:"Plot the dispersion relation of the normal modes."`
	Runs       RunsCmd       `cmd:"" help:"List recorded runs and downloads."`
	Inspect    InspectCmd    `cmd:"" help:"List the variables and dimensions of NetCDF files."`
}

// app is bound into every command's Run method.
type app struct {
	ctx      context.Context
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    *store.Store
	runner   *pipeline.Runner
	progress bool
}

func parserOptions() []kong.Option {
	return []kong.Option{
		kong.Name("qmodes"),
		kong.Description("Normal-mode (MODES) decomposition of ERA5 specific humidity."),
		kong.UsageOnError(),
		kong.Vars{"zenodo_api": zenodo.DefaultAPIURL},
	}
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli, parserOptions()...)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qmodes: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(kctx, &cli, cfg, logger); err != nil {
		logger.Error("failed", "command", kctx.Command(), "error", err)
		os.Exit(1)
	}
}

func run(kctx *kong.Context, cli *CLI, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clock := clockwork.NewRealClock()
	st, err := store.Open(cfg.Catalog, clock)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer st.Close()

	m := metrics.New()
	defer func() {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("write metrics", "error", err)
		}
	}()

	a := &app{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   st,
		runner: &pipeline.Runner{
			Config:  cfg,
			Store:   st,
			Metrics: m,
			Logger:  logger,
			Clock:   clock,
		},
		progress: cli.Progress,
	}
	return kctx.Run(a)
}
