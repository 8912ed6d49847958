package pgstore

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
)

const tableAggregates = "meteorology_aggregates"

var aggregateColumns = []any{
	"id", "scene_id", "xmin", "xmax", "ymin", "ymax", "temporal_start", "temporal_end", "artifact_key",
}

type aggregates struct{ t *tx }

func (r aggregates) Insert(ctx context.Context, aggregate core.MeteorologyAggregate) (bool, error) {
	insert := r.t.dialect.
		Insert(tableAggregates).
		Prepared(true).
		Rows(goqu.Record{
			"id":             aggregate.ID,
			"scene_id":       aggregate.SceneID,
			"xmin":           aggregate.Spatial.XMin,
			"xmax":           aggregate.Spatial.XMax,
			"ymin":           aggregate.Spatial.YMin,
			"ymax":           aggregate.Spatial.YMax,
			"temporal_start": aggregate.TemporalStart,
			"temporal_end":   aggregate.TemporalEnd,
			"artifact_key":   aggregate.ArtifactKey,
		}).
		OnConflict(goqu.DoNothing())

	affected, err := r.t.exec(ctx, insert)

	return affected > 0, err
}

func (r aggregates) getWhere(ctx context.Context, where goqu.Ex, id uuid.UUID) (core.MeteorologyAggregate, error) {
	selection := r.t.dialect.From(tableAggregates).Prepared(true).Select(aggregateColumns...).Where(where)

	var a core.MeteorologyAggregate
	err := r.t.queryOne(ctx, selection, "meteorology aggregate", id, func(rows postgresengine.Rows) error {
		return rows.Scan(
			&a.ID,
			&a.SceneID,
			&a.Spatial.XMin,
			&a.Spatial.XMax,
			&a.Spatial.YMin,
			&a.Spatial.YMax,
			&a.TemporalStart,
			&a.TemporalEnd,
			&a.ArtifactKey,
		)
	})

	return a, err
}

func (r aggregates) Get(ctx context.Context, id uuid.UUID) (core.MeteorologyAggregate, error) {
	return r.getWhere(ctx, goqu.Ex{"id": id}, id)
}

func (r aggregates) GetByScene(ctx context.Context, sceneID uuid.UUID) (core.MeteorologyAggregate, error) {
	return r.getWhere(ctx, goqu.Ex{"scene_id": sceneID}, sceneID)
}
