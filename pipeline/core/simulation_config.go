package core

import (
	"time"

	"github.com/google/uuid"
)

// Extent is a horizontal bounding box in degrees.
type Extent struct {
	XMin float64 `json:"xmin" yaml:"xmin"`
	XMax float64 `json:"xmax" yaml:"xmax"`
	YMin float64 `json:"ymin" yaml:"ymin"`
	YMax float64 `json:"ymax" yaml:"ymax"`
}

// Union returns the smallest extent containing e and other.
func (e Extent) Union(other Extent) Extent {
	return Extent{
		XMin: min(e.XMin, other.XMin),
		XMax: max(e.XMax, other.XMax),
		YMin: min(e.YMin, other.YMin),
		YMax: max(e.YMax, other.YMax),
	}
}

// Contains reports whether other lies entirely within e.
func (e Extent) Contains(other Extent) bool {
	return e.XMin <= other.XMin && e.XMax >= other.XMax && e.YMin <= other.YMin && e.YMax >= other.YMax
}

// FootprintGrid is the extent and resolution of the footprint a simulation produces.
type FootprintGrid struct {
	Extent `yaml:",inline"`
	XRes   float64 `json:"xres" yaml:"xres"`
	YRes   float64 `json:"yres" yaml:"yres"`
}

// ConfigParameters are the parameters passed to the simulation process.
//
// NHours is the run duration, negative for backward runs. TimeoutSeconds, if positive,
// replaces the default deadline of a single simulation. Options carries free-form
// model parameters that are handed through without interpretation.
type ConfigParameters struct {
	NHours         int               `json:"n_hours" yaml:"n_hours"`
	Footprint      FootprintGrid     `json:"footprint" yaml:"footprint"`
	TimeoutSeconds int               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Options        map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Deadline returns the configured run deadline, or fallback if none is set.
func (p ConfigParameters) Deadline(fallback time.Duration) time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}

	return fallback
}

// SimulationConfig is an immutable, versioned parameter set owned by a scene.
type SimulationConfig struct {
	ID         uuid.UUID
	SceneID    uuid.UUID
	Version    int
	Parameters ConfigParameters
}

// BuildSimulationConfig creates a config owned by sceneID.
func BuildSimulationConfig(sceneID uuid.UUID, version int, parameters ConfigParameters) SimulationConfig {
	return SimulationConfig{ID: NewID(), SceneID: sceneID, Version: version, Parameters: parameters}
}
