package pgstore

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
)

const tableScenes = "scenes"

var sceneColumns = []any{
	"id", "natural_key", "state", "meteorology_model", "attempts", "failure_reason", "created_at", "updated_at",
}

type scenes struct{ t *tx }

func scanScene(rows postgresengine.Rows, scene *core.Scene) error {
	return rows.Scan(
		&scene.ID,
		&scene.NaturalKey,
		&scene.State,
		&scene.MeteorologyModel,
		&scene.Attempts,
		&scene.FailureReason,
		&scene.CreatedAt,
		&scene.UpdatedAt,
	)
}

func (r scenes) Insert(ctx context.Context, scene core.Scene) (bool, error) {
	insert := r.t.dialect.
		Insert(tableScenes).
		Prepared(true).
		Rows(goqu.Record{
			"id":                scene.ID,
			"natural_key":       scene.NaturalKey,
			"state":             string(scene.State),
			"meteorology_model": scene.MeteorologyModel,
			"created_at":        scene.CreatedAt,
			"updated_at":        scene.UpdatedAt,
		}).
		OnConflict(goqu.DoNothing())

	affected, err := r.t.exec(ctx, insert)

	return affected > 0, err
}

func (r scenes) get(ctx context.Context, where goqu.Ex, forUpdate bool, id any) (core.Scene, error) {
	selection := r.t.dialect.From(tableScenes).Prepared(true).Select(sceneColumns...).Where(where)
	if forUpdate {
		selection = selection.ForUpdate(exp.Wait)
	}

	var scene core.Scene
	err := r.t.queryOne(ctx, selection, "scene", id, func(rows postgresengine.Rows) error {
		return scanScene(rows, &scene)
	})

	return scene, err
}

func (r scenes) Get(ctx context.Context, id uuid.UUID) (core.Scene, error) {
	return r.get(ctx, goqu.Ex{"id": id}, false, id)
}

func (r scenes) GetForUpdate(ctx context.Context, id uuid.UUID) (core.Scene, error) {
	return r.get(ctx, goqu.Ex{"id": id}, true, id)
}

func (r scenes) GetByNaturalKey(ctx context.Context, naturalKey string) (core.Scene, error) {
	return r.get(ctx, goqu.Ex{"natural_key": naturalKey}, false, naturalKey)
}

func (r scenes) UpdateState(ctx context.Context, id uuid.UUID, from, to core.SceneState) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: scene %s from %s to %s", core.ErrInvalidTransition, id, from, to)
	}

	update := r.t.dialect.
		Update(tableScenes).
		Prepared(true).
		Set(goqu.Record{"state": string(to), "updated_at": goqu.L(sqlNow)}).
		Where(goqu.Ex{"id": id, "state": string(from)})

	affected, err := r.t.exec(ctx, update)
	if err != nil {
		return err
	}

	return conflict(affected, "scene %s is not %s", id, from)
}

func (r scenes) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, reason string) error {
	update := r.t.dialect.
		Update(tableScenes).
		Prepared(true).
		Set(goqu.Record{
			"state":          string(core.SceneStateFailed),
			"attempts":       attempts,
			"failure_reason": reason,
			"updated_at":     goqu.L(sqlNow),
		}).
		Where(
			goqu.C("id").Eq(id),
			goqu.C("state").NotIn(string(core.SceneStateCompleted), string(core.SceneStateFailed)),
		)

	affected, err := r.t.exec(ctx, update)
	if err != nil {
		return err
	}

	return conflict(affected, "scene %s cannot fail", id)
}
