package pgstore

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
)

const tableConfigs = "simulation_configs"

type configs struct{ t *tx }

func (r configs) Insert(ctx context.Context, cs []core.SimulationConfig) error {
	if len(cs) == 0 {
		return nil
	}

	records := make([]any, 0, len(cs))
	for _, config := range cs {
		parameters, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(config.Parameters)
		if err != nil {
			return err
		}

		records = append(records, goqu.Record{
			"id":         config.ID,
			"scene_id":   config.SceneID,
			"version":    config.Version,
			"parameters": goqu.L(castJsonb, string(parameters)),
		})
	}

	_, err := r.t.exec(ctx, r.t.dialect.Insert(tableConfigs).Prepared(true).Rows(records...))

	return err
}

func scanConfig(rows postgresengine.Rows) (core.SimulationConfig, error) {
	var config core.SimulationConfig
	var parameters []byte

	if err := rows.Scan(&config.ID, &config.SceneID, &config.Version, &parameters); err != nil {
		return core.SimulationConfig{}, err
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(parameters, &config.Parameters); err != nil {
		return core.SimulationConfig{}, err
	}

	return config, nil
}

func (r configs) ListByScene(ctx context.Context, sceneID uuid.UUID) ([]core.SimulationConfig, error) {
	selection := r.t.dialect.
		From(tableConfigs).
		Prepared(true).
		Select("id", "scene_id", "version", "parameters").
		Where(goqu.Ex{"scene_id": sceneID}).
		Order(goqu.C("version").Asc())

	var out []core.SimulationConfig
	err := r.t.query(ctx, selection, func(rows postgresengine.Rows) error {
		config, err := scanConfig(rows)
		if err != nil {
			return err
		}
		out = append(out, config)
		return nil
	})

	return out, err
}

func (r configs) Get(ctx context.Context, id uuid.UUID) (core.SimulationConfig, error) {
	selection := r.t.dialect.
		From(tableConfigs).
		Prepared(true).
		Select("id", "scene_id", "version", "parameters").
		Where(goqu.Ex{"id": id})

	var config core.SimulationConfig
	err := r.t.queryOne(ctx, selection, "simulation config", id, func(rows postgresengine.Rows) error {
		var scanErr error
		config, scanErr = scanConfig(rows)
		return scanErr
	})

	return config, err
}
