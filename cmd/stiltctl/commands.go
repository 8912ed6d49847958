package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/stilt-pipeline-go/artifact"
	"github.com/AntonStoeckl/stilt-pipeline-go/meteorology"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/backlog"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/features/executesimulations"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/features/generatesimulations"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/features/minimizemeteorology"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/features/producescenes"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store/pgstore"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/worker"
	"github.com/AntonStoeckl/stilt-pipeline-go/simulation"
)

func (a *app) migrate(ctx context.Context, st *pgstore.Store, _ []string) error {
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	a.logger.Info("schema migrated")

	return nil
}

func (a *app) produceScenes(ctx context.Context, st *pgstore.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: produce-scenes needs a definition directory", errUsage)
	}

	definitions, err := producescenes.LoadDefinitions(args[0])
	if err != nil {
		return err
	}

	handler, err := producescenes.NewHandler(st, producescenes.WithObservability(a.observe))
	if err != nil {
		return err
	}

	results, err := handler.HandleAll(ctx, definitions)

	created := 0
	for _, result := range results {
		if result.Created {
			created++
		}
	}
	a.logger.Info("scenes produced", "definitions", len(definitions), "created", created, "existing", len(results)-created)

	return err
}

func (a *app) minimizeMeteorology(ctx context.Context, st *pgstore.Store, _ []string) error {
	artifacts, err := artifact.New(ctx, a.cfg.ArtifactConfig())
	if err != nil {
		return err
	}

	archiveStore, err := artifact.New(ctx, a.cfg.MeteorologyArchiveConfig())
	if err != nil {
		return err
	}

	minimizer := meteorology.NewMinimizer(
		meteorology.NewBlobArchive(archiveStore),
		meteorology.NewProcessCropper(a.cfg.StiltPath),
	)

	set, err := newProcessorSet(a.cfg.WorkerConcurrency, func() (worker.Processor, error) {
		return minimizemeteorology.NewHandler(st, minimizer, artifacts,
			minimizemeteorology.WithLease(a.cfg.QueueLease),
			minimizemeteorology.WithMaxAttempts(a.cfg.MaxAttempts),
			minimizemeteorology.WithMargin(a.cfg.Margin()),
			minimizemeteorology.WithObservability(a.observe),
		)
	})
	if err != nil {
		return err
	}

	return a.runPool(ctx, "minimize-meteorology", set)
}

func (a *app) generateSimulations(ctx context.Context, st *pgstore.Store, _ []string) error {
	set, err := newProcessorSet(a.cfg.WorkerConcurrency, func() (worker.Processor, error) {
		return generatesimulations.NewHandler(st,
			generatesimulations.WithLease(a.cfg.QueueLease),
			generatesimulations.WithMaxAttempts(a.cfg.MaxAttempts),
			generatesimulations.WithObservability(a.observe),
		)
	})
	if err != nil {
		return err
	}

	return a.runPool(ctx, "generate-simulations", set)
}

func (a *app) executeSimulations(ctx context.Context, st *pgstore.Store, _ []string) error {
	artifacts, err := artifact.New(ctx, a.cfg.ArtifactConfig())
	if err != nil {
		return err
	}

	runner := simulation.NewProcessRunner(a.cfg.StiltPath)

	set, err := newProcessorSet(a.cfg.WorkerConcurrency, func() (worker.Processor, error) {
		return executesimulations.NewHandler(st, runner, artifacts,
			executesimulations.WithMaxAttempts(a.cfg.MaxAttempts),
			executesimulations.WithDeadline(a.cfg.SimulationDeadline),
			executesimulations.WithMaxDeadline(a.cfg.MaxSimulationDeadline()),
			executesimulations.WithObservability(a.observe),
		)
	})
	if err != nil {
		return err
	}

	return a.runPool(ctx, "execute-simulations", set)
}

func (a *app) sweep(ctx context.Context, st *pgstore.Store, args []string) error {
	flags := flag.NewFlagSet("sweep", flag.ContinueOnError)
	every := flags.Duration("every", 0, "repeat the sweep at this interval until stopped")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	sweeper, err := executesimulations.NewSweeper(st,
		executesimulations.WithStaleThreshold(a.cfg.StaleClaimThreshold),
		executesimulations.WithSweepMaxAttempts(a.cfg.MaxAttempts),
		executesimulations.WithSweepObservability(a.observe),
	)
	if err != nil {
		return err
	}

	for {
		result, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}

		a.logger.Info("sweep finished",
			"requeued", result.Requeued,
			"expired", result.Expired,
			"reclaimed_events", result.ReclaimedEvents,
		)

		if *every <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*every):
		}
	}
}

func (a *app) backlog(ctx context.Context, st *pgstore.Store, _ []string) error {
	snapshot, err := backlog.NewReporter(st, a.logger).Snapshot(ctx)
	if err != nil {
		return err
	}

	return jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout).Encode(snapshot)
}

func (a *app) serveMetrics(ctx context.Context, st *pgstore.Store, _ []string) error {
	reporter := backlog.NewReporter(st, a.logger)
	if err := reporter.Register(a.registry); err != nil {
		return err
	}

	stopMetrics := a.startMetricsServer(ctx)
	defer stopMetrics()

	return reporter.Run(ctx, a.cfg.PollInterval)
}
