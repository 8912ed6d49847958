package core

import (
	"time"

	"github.com/google/uuid"
)

// MeteorologyAggregate is the cropped, scene-scoped meteorology file. One per scene, immutable.
type MeteorologyAggregate struct {
	ID            uuid.UUID
	SceneID       uuid.UUID
	Spatial       Extent
	TemporalStart time.Time
	TemporalEnd   time.Time
	ArtifactKey   string
}

// BuildMeteorologyAggregate creates the aggregate for a scene from its envelope.
func BuildMeteorologyAggregate(sceneID uuid.UUID, envelope Envelope) MeteorologyAggregate {
	return MeteorologyAggregate{
		ID:            NewID(),
		SceneID:       sceneID,
		Spatial:       envelope.Extent,
		TemporalStart: envelope.Start,
		TemporalEnd:   envelope.End,
		ArtifactKey:   MeteorologyArtifactKey(sceneID),
	}
}
