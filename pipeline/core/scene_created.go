package core

import (
	"time"

	"github.com/google/uuid"
)

const SceneCreatedEventName = "SceneCreated"

// SceneCreated triggers the meteorology stage for a new scene.
type SceneCreated struct {
	SceneID    uuid.UUID  `json:"scene_id"`
	OccurredAt OccurredAt `json:"occurred_at"`
}

func BuildSceneCreated(sceneID uuid.UUID, occurredAt time.Time) SceneCreated {
	return SceneCreated{SceneID: sceneID, OccurredAt: ToOccurredAt(occurredAt)}
}

func (e SceneCreated) EventName() string {
	return SceneCreatedEventName
}

func (e SceneCreated) HasOccurredAt() time.Time {
	return e.OccurredAt
}

func (e SceneCreated) Validate() error {
	return requireID("scene_id", e.SceneID)
}
