package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
)

// CompleteSceneIfFinished moves a scene from SimulationsGenerated to Completed once none of
// its simulations is unfinished. It locks the scene row, so concurrent callers finishing the
// last simulations serialize and exactly one of them completes the scene.
// It reports whether this call completed the scene.
func CompleteSceneIfFinished(ctx context.Context, tx Tx, sceneID uuid.UUID) (bool, error) {
	scene, err := tx.Scenes().GetForUpdate(ctx, sceneID)
	if err != nil {
		return false, err
	}

	if scene.State != core.SceneStateSimulationsGenerated {
		return false, nil
	}

	counts, err := tx.Simulations().CountByScene(ctx, sceneID)
	if err != nil {
		return false, err
	}

	if counts.Unfinished() > 0 {
		return false, nil
	}

	if err := tx.Scenes().UpdateState(ctx, sceneID, core.SceneStateSimulationsGenerated, core.SceneStateCompleted); err != nil {
		return false, err
	}

	return true, nil
}
