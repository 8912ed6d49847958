package core

import (
	"github.com/google/uuid"
)

const (
	sceneKeyPrefix      = "by-scene-id/"
	simulationKeyPrefix = "by-simulation-id/"
)

// MeteorologyArtifactKey is the blob key of a scene's cropped meteorology.
func MeteorologyArtifactKey(sceneID uuid.UUID) string {
	return sceneKeyPrefix + sceneID.String() + "/meteorology.arl"
}

// TrajectoriesArtifactKey is the blob key of a simulation's particle trajectories.
func TrajectoriesArtifactKey(simulationID uuid.UUID) string {
	return simulationKeyPrefix + simulationID.String() + "/trajectories.rds"
}

// FootprintArtifactKey is the blob key of a simulation's footprint.
func FootprintArtifactKey(simulationID uuid.UUID) string {
	return simulationKeyPrefix + simulationID.String() + "/footprint.nc"
}
