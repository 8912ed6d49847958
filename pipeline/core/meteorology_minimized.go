package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MeteorologyMinimizedEventName = "MeteorologyMinimized"

// MeteorologyMinimized triggers simulation generation once a scene's aggregate exists.
type MeteorologyMinimized struct {
	SceneID     uuid.UUID  `json:"scene_id"`
	AggregateID uuid.UUID  `json:"aggregate_id"`
	OccurredAt  OccurredAt `json:"occurred_at"`
}

func BuildMeteorologyMinimized(sceneID, aggregateID uuid.UUID, occurredAt time.Time) MeteorologyMinimized {
	return MeteorologyMinimized{SceneID: sceneID, AggregateID: aggregateID, OccurredAt: ToOccurredAt(occurredAt)}
}

func (e MeteorologyMinimized) EventName() string {
	return MeteorologyMinimizedEventName
}

func (e MeteorologyMinimized) HasOccurredAt() time.Time {
	return e.OccurredAt
}

func (e MeteorologyMinimized) Validate() error {
	return errors.Join(requireID("scene_id", e.SceneID), requireID("aggregate_id", e.AggregateID))
}
