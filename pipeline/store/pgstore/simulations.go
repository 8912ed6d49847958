package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
)

const (
	tableSimulations      = "simulations"
	sqlIncrementAttempts  = "attempt_count + 1"
	colSimulationState    = "state"
	colSimulationClaimant = "claimant"
)

var simulationColumnNames = []string{
	"id", "scene_id", "receptor_id", "config_id", "aggregate_id", "state", "attempt_count",
	"claimant", "claimed_at", "event_id", "artifact_refs", "last_error", "created_at", "updated_at",
}

func simulationColumns(table exp.IdentifierExpression) []any {
	columns := make([]any, 0, len(simulationColumnNames))
	for _, name := range simulationColumnNames {
		columns = append(columns, table.Col(name))
	}

	return columns
}

func scanSimulation(rows postgresengine.Rows) (core.Simulation, error) {
	var s core.Simulation
	var eventID *int64
	var refs []byte

	err := rows.Scan(
		&s.ID,
		&s.SceneID,
		&s.ReceptorID,
		&s.ConfigID,
		&s.AggregateID,
		&s.State,
		&s.AttemptCount,
		&s.Claimant,
		&s.ClaimedAt,
		&eventID,
		&refs,
		&s.LastError,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return core.Simulation{}, err
	}

	if eventID != nil {
		s.EventID = *eventID
	}

	if len(refs) > 0 {
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(refs, &s.ArtifactRefs); err != nil {
			return core.Simulation{}, err
		}
	}

	return s, nil
}

type simulations struct{ t *tx }

func (r simulations) collect(ctx context.Context, b builder) ([]core.Simulation, error) {
	var out []core.Simulation

	err := r.t.query(ctx, b, func(rows postgresengine.Rows) error {
		s, err := scanSimulation(rows)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})

	return out, err
}

func (r simulations) InsertPending(ctx context.Context, s core.Simulation) (bool, error) {
	insert := r.t.dialect.
		Insert(tableSimulations).
		Prepared(true).
		Rows(goqu.Record{
			"id":           s.ID,
			"scene_id":     s.SceneID,
			"receptor_id":  s.ReceptorID,
			"config_id":    s.ConfigID,
			"aggregate_id": s.AggregateID,
			"state":        string(core.SimulationStatePending),
			"created_at":   s.CreatedAt,
			"updated_at":   s.UpdatedAt,
		}).
		OnConflict(goqu.DoNothing())

	affected, err := r.t.exec(ctx, insert)

	return affected > 0, err
}

func (r simulations) SetEventID(ctx context.Context, id uuid.UUID, eventID queue.EventID) error {
	update := r.t.dialect.
		Update(tableSimulations).
		Prepared(true).
		Set(goqu.Record{"event_id": eventID}).
		Where(goqu.Ex{"id": id})

	affected, err := r.t.exec(ctx, update)
	if err != nil {
		return err
	}

	if affected == 0 {
		return store.ErrNotFound
	}

	return nil
}

func (r simulations) Get(ctx context.Context, id uuid.UUID) (core.Simulation, error) {
	table := goqu.T(tableSimulations)
	selection := r.t.dialect.
		From(tableSimulations).
		Prepared(true).
		Select(simulationColumns(table)...).
		Where(goqu.Ex{"id": id})

	var s core.Simulation
	err := r.t.queryOne(ctx, selection, "simulation", id, func(rows postgresengine.Rows) error {
		var scanErr error
		s, scanErr = scanSimulation(rows)
		return scanErr
	})

	return s, err
}

// ClaimNext runs the conditional update
//
//	WITH next AS (SELECT id FROM simulations WHERE state = 'pending' ORDER BY created_at, id LIMIT 1 FOR UPDATE SKIP LOCKED)
//	UPDATE simulations SET state = 'claimed', ... FROM next WHERE simulations.id = next.id RETURNING ...
func (r simulations) ClaimNext(ctx context.Context, claimant string) (core.Simulation, bool, error) {
	if claimant == "" {
		return core.Simulation{}, false, queue.ErrEmptyClaimant
	}

	table := goqu.T(tableSimulations)
	next := goqu.T(cteNext)

	candidate := r.t.dialect.
		From(tableSimulations).
		Select("id").
		Where(goqu.C(colSimulationState).Eq(string(core.SimulationStatePending))).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Limit(1).
		ForUpdate(exp.SkipLocked)

	claim := r.t.dialect.
		Update(tableSimulations).
		Prepared(true).
		With(cteNext, candidate).
		Set(goqu.Record{
			colSimulationState:    string(core.SimulationStateClaimed),
			colSimulationClaimant: claimant,
			"claimed_at":          goqu.L(sqlNow),
			"attempt_count":       goqu.L(sqlIncrementAttempts),
			"updated_at":          goqu.L(sqlNow),
		}).
		From(next).
		Where(table.Col("id").Eq(next.Col("id"))).
		Returning(simulationColumns(table)...)

	claimed, err := r.collect(ctx, claim)
	if err != nil || len(claimed) == 0 {
		return core.Simulation{}, false, err
	}

	return claimed[0], true, nil
}

// held matches a simulation held by claimant in one of the given states.
func held(id uuid.UUID, claimant string, states ...core.SimulationState) exp.Expression {
	values := make([]any, 0, len(states))
	for _, s := range states {
		values = append(values, string(s))
	}

	return goqu.And(
		goqu.C("id").Eq(id),
		goqu.C(colSimulationClaimant).Eq(claimant),
		goqu.C(colSimulationState).In(values...),
	)
}

func (r simulations) transition(ctx context.Context, id uuid.UUID, claimant string, set goqu.Record, from ...core.SimulationState) error {
	set["updated_at"] = goqu.L(sqlNow)

	update := r.t.dialect.
		Update(tableSimulations).
		Prepared(true).
		Set(set).
		Where(held(id, claimant, from...))

	affected, err := r.t.exec(ctx, update)
	if err != nil {
		return err
	}

	return conflict(affected, "simulation %s is not held by %s", id, claimant)
}

func (r simulations) MarkRunning(ctx context.Context, id uuid.UUID, claimant string) error {
	return r.transition(ctx, id, claimant,
		goqu.Record{colSimulationState: string(core.SimulationStateRunning)},
		core.SimulationStateClaimed,
	)
}

func (r simulations) Complete(ctx context.Context, id uuid.UUID, claimant string, refs core.ArtifactRefs) error {
	refsJSON, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(refs)
	if err != nil {
		return err
	}

	return r.transition(ctx, id, claimant,
		goqu.Record{
			colSimulationState: string(core.SimulationStateCompleted),
			"artifact_refs":    goqu.L(castJsonb, string(refsJSON)),
			"last_error":       "",
		},
		core.SimulationStateRunning,
	)
}

func (r simulations) Release(
	ctx context.Context,
	id uuid.UUID,
	claimant string,
	to core.SimulationState,
	lastError string,
) error {

	if !core.SimulationStateRunning.CanReleaseTo(to) {
		return fmt.Errorf("%w: simulation %s cannot be released to %s", core.ErrInvalidTransition, id, to)
	}

	return r.transition(ctx, id, claimant,
		goqu.Record{
			colSimulationState:    string(to),
			colSimulationClaimant: "",
			"claimed_at":          nil,
			"last_error":          lastError,
		},
		core.SimulationStateClaimed, core.SimulationStateRunning,
	)
}

func (r simulations) SweepStale(ctx context.Context, threshold time.Duration, maxAttempts int) ([]core.Simulation, error) {
	nextState := goqu.Case().
		When(goqu.C("attempt_count").Gte(maxAttempts), string(core.SimulationStateExpired)).
		Else(string(core.SimulationStatePending))

	sweep := r.t.dialect.
		Update(tableSimulations).
		Prepared(true).
		Set(goqu.Record{
			colSimulationState:    nextState,
			colSimulationClaimant: "",
			"claimed_at":          nil,
			"last_error":          store.StaleClaimReason,
			"updated_at":          goqu.L(sqlNow),
		}).
		Where(
			goqu.C(colSimulationState).In(string(core.SimulationStateClaimed), string(core.SimulationStateRunning)),
			goqu.C("claimed_at").Lte(goqu.L(sqlIntervalAgo, threshold.Seconds())),
		).
		Returning(simulationColumns(goqu.T(tableSimulations))...)

	return r.collect(ctx, sweep)
}

func (r simulations) CountByScene(ctx context.Context, sceneID uuid.UUID) (store.SimulationCounts, error) {
	selection := r.t.dialect.
		From(tableSimulations).
		Prepared(true).
		Select(goqu.C(colSimulationState), goqu.COUNT(goqu.Star()).As(aliasCount)).
		Where(goqu.Ex{"scene_id": sceneID}).
		GroupBy(goqu.C(colSimulationState))

	counts := store.SimulationCounts{}
	err := r.t.query(ctx, selection, func(rows postgresengine.Rows) error {
		var state core.SimulationState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return err
		}
		counts[state] = count
		return nil
	})

	return counts, err
}

func (r simulations) CountPending(ctx context.Context) (int64, error) {
	selection := r.t.dialect.
		From(tableSimulations).
		Prepared(true).
		Select(goqu.COUNT(goqu.Star()).As(aliasCount)).
		Where(goqu.Ex{colSimulationState: string(core.SimulationStatePending)})

	var count int64
	err := r.t.query(ctx, selection, func(rows postgresengine.Rows) error {
		return rows.Scan(&count)
	})

	return count, err
}
