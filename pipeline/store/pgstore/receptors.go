package pgstore

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
)

const tableReceptors = "receptors"

type receptors struct{ t *tx }

func (r receptors) Insert(ctx context.Context, rs []core.Receptor) error {
	if len(rs) == 0 {
		return nil
	}

	records := make([]any, 0, len(rs))
	for _, receptor := range rs {
		records = append(records, goqu.Record{
			"id":       receptor.ID,
			"scene_id": receptor.SceneID,
			"x":        receptor.X,
			"y":        receptor.Y,
			"z":        receptor.Z,
			"t":        receptor.T,
		})
	}

	_, err := r.t.exec(ctx, r.t.dialect.Insert(tableReceptors).Prepared(true).Rows(records...))

	return err
}

func (r receptors) ListByScene(ctx context.Context, sceneID uuid.UUID) ([]core.Receptor, error) {
	selection := r.t.dialect.
		From(tableReceptors).
		Prepared(true).
		Select("id", "scene_id", "x", "y", "z", "t").
		Where(goqu.Ex{"scene_id": sceneID}).
		Order(goqu.C("id").Asc())

	var out []core.Receptor
	err := r.t.query(ctx, selection, func(rows postgresengine.Rows) error {
		var receptor core.Receptor
		if err := rows.Scan(&receptor.ID, &receptor.SceneID, &receptor.X, &receptor.Y, &receptor.Z, &receptor.T); err != nil {
			return err
		}
		out = append(out, receptor)
		return nil
	})

	return out, err
}

func (r receptors) Get(ctx context.Context, id uuid.UUID) (core.Receptor, error) {
	selection := r.t.dialect.
		From(tableReceptors).
		Prepared(true).
		Select("id", "scene_id", "x", "y", "z", "t").
		Where(goqu.Ex{"id": id})

	var receptor core.Receptor
	err := r.t.queryOne(ctx, selection, "receptor", id, func(rows postgresengine.Rows) error {
		return rows.Scan(&receptor.ID, &receptor.SceneID, &receptor.X, &receptor.Y, &receptor.Z, &receptor.T)
	})

	return receptor, err
}
