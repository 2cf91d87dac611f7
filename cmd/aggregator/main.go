package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/costpipeline/parquet-aggregator/internal/config"
	cpierrors "github.com/costpipeline/parquet-aggregator/internal/errors"
	"github.com/costpipeline/parquet-aggregator/internal/logging"
	"github.com/costpipeline/parquet-aggregator/internal/objectstore"
	"github.com/costpipeline/parquet-aggregator/internal/pipeline"
	"github.com/costpipeline/parquet-aggregator/internal/warehouse"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run wires up the coordinator for one "run" invocation and returns the
// process exit code spec §7 maps from the failing error's Kind (0 on
// success). Factored out of main so os.Exit never short-circuits deferred
// cleanup.
func run(args []string) int {
	fs := flag.NewFlagSet("aggregator", flag.ContinueOnError)
	configPath := fs.String("config", "/etc/costpipeline/config.yaml", "path to the pipeline YAML config file")
	truncate := fs.Bool("truncate", false, "delete every row in each target table instead of only the (source_uuid, year, month) partition being written")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 || fs.Arg(0) != "run" {
		fmt.Fprintln(os.Stderr, "usage: aggregator run [--truncate] [--config path]")
		return 1
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config %q: %v\n", *configPath, err)
		return cpierrors.ConfigInvalid.ExitCode()
	}

	logger := logging.New(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err, "config_path", *configPath)
		return cpierrors.ConfigInvalid.ExitCode()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:   cfg.ObjectStore.Endpoint,
		Bucket:     cfg.ObjectStore.Bucket,
		AccessKey:  cfg.ObjectStore.AccessKey,
		SecretKey:  cfg.ObjectStore.SecretKey,
		MaxRetries: cfg.ReaderMaxRetries,
		RetryBase:  cfg.ReaderRetryBase,
	})
	if err != nil {
		logger.Error("failed to construct object-store client", "error", err)
		return cpierrors.KindOf(err).ExitCode()
	}

	wh, err := warehouse.Open(warehouse.Config{
		AttachPath: cfg.Database.DB,
		Schema:     cfg.Database.Schema,
	})
	if err != nil {
		logger.Error("failed to open warehouse", "error", err)
		return cpierrors.KindOf(err).ExitCode()
	}
	defer wh.Close()

	coordinator := pipeline.NewCoordinator(cfg, store, wh, logger)

	logger.Info("aggregator run starting",
		"year", cfg.DateRange.Year, "month", cfg.DateRange.Month,
		"providers", len(cfg.Providers), "truncate", *truncate)

	if err := coordinator.Run(ctx, *truncate); err != nil {
		kind := cpierrors.KindOf(err)
		logger.Error("aggregator run failed", "error", err, "kind", kind)
		return kind.ExitCode()
	}

	logger.Info("aggregator run committed")
	return 0
}
