package pipelinetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
)

// RunTime is the release time of every seeded receptor.
var RunTime = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

// SeededScene holds what SeedScene wrote.
type SeededScene struct {
	Scene     core.Scene
	Receptors []core.Receptor
	Configs   []core.SimulationConfig
}

// Config returns backward-run parameters with a footprint around Salt Lake City.
func Config() core.ConfigParameters {
	return core.ConfigParameters{
		NHours: -24,
		Footprint: core.FootprintGrid{
			Extent: core.Extent{XMin: -113, XMax: -111, YMin: 40, YMax: 41.5},
			XRes:   0.01,
			YRes:   0.01,
		},
	}
}

// SeedScene inserts a scene in state Created with receptors receptors and one config,
// and appends its SceneCreated event.
func SeedScene(t testing.TB, uow store.UnitOfWork, receptors int) SeededScene {
	t.Helper()

	return SeedSceneWithConfig(t, uow, receptors, Config())
}

// SeedSceneWithConfig is SeedScene with the given config parameters.
func SeedSceneWithConfig(t testing.TB, uow store.UnitOfWork, receptors int, params core.ConfigParameters) SeededScene {
	t.Helper()

	var seeded SeededScene
	err := uow.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		seeded.Scene = core.BuildScene(fmt.Sprintf("scene-%s", core.NewID()), "hrrr", RunTime)
		if _, err := tx.Scenes().Insert(ctx, seeded.Scene); err != nil {
			return err
		}

		for i := 0; i < receptors; i++ {
			seeded.Receptors = append(seeded.Receptors,
				core.BuildReceptor(seeded.Scene.ID, -111.85+0.01*float64(i), 40.77, 5, RunTime))
		}
		if err := tx.Receptors().Insert(ctx, seeded.Receptors); err != nil {
			return err
		}

		seeded.Configs = []core.SimulationConfig{core.BuildSimulationConfig(seeded.Scene.ID, 1, params)}
		if err := tx.Configs().Insert(ctx, seeded.Configs); err != nil {
			return err
		}

		_, err := shell.AppendDomainEvent(ctx, tx.Events(), core.BuildSceneCreated(seeded.Scene.ID, RunTime))
		return err
	})
	require.NoError(t, err, "seeding a scene failed")

	return seeded
}

// AppendEvent appends a domain event in its own transaction.
func AppendEvent(t testing.TB, uow store.UnitOfWork, event core.DomainEvent) {
	t.Helper()

	err := uow.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := shell.AppendDomainEvent(ctx, tx.Events(), event)
		return err
	})
	require.NoError(t, err, "appending an event failed")
}

// MarkMinimized records an aggregate for a seeded scene, moves it to MeteorologyReady and
// appends MeteorologyMinimized, as the meteorology stage would. Its SceneCreated event is left as is.
func MarkMinimized(t testing.TB, uow store.UnitOfWork, seeded SeededScene) core.MeteorologyAggregate {
	t.Helper()

	envelope, err := core.ComputeEnvelope(seeded.Receptors, seeded.Configs, core.DefaultMargin)
	require.NoError(t, err)

	aggregate := core.BuildMeteorologyAggregate(seeded.Scene.ID, envelope)
	err = uow.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Aggregates().Insert(ctx, aggregate); err != nil {
			return err
		}

		if err := tx.Scenes().UpdateState(ctx, seeded.Scene.ID, core.SceneStateCreated, core.SceneStateMeteorologyReady); err != nil {
			return err
		}

		_, err := shell.AppendDomainEvent(ctx, tx.Events(), core.BuildMeteorologyMinimized(seeded.Scene.ID, aggregate.ID, RunTime))
		return err
	})
	require.NoError(t, err, "marking a scene minimized failed")

	return aggregate
}
