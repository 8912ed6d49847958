package core

import (
	"time"
)

// Margin expands an envelope in space and time.
type Margin struct {
	Degrees float64
	Hours   time.Duration
}

// DefaultMargin is the expansion applied around a scene when none is configured.
var DefaultMargin = Margin{Degrees: 0.25, Hours: time.Hour}

// Envelope is the minimal space-time box covering every simulation of a scene.
type Envelope struct {
	Extent
	ZMin  float64
	ZMax  float64
	Start time.Time
	End   time.Time
}

// ComputeEnvelope returns the covering envelope of the receptors and configs.
//
// The horizontal extent is the union of the receptor positions and each config's footprint
// extent. The time span runs from each receptor's release time to release time plus the
// config's n_hours, which is negative for backward runs. The result is expanded by margin
// and rounded outward to whole hours.
func ComputeEnvelope(receptors []Receptor, configs []SimulationConfig, margin Margin) (Envelope, error) {
	if len(receptors) == 0 {
		return Envelope{}, ErrNoReceptors
	}

	first := receptors[0]
	env := Envelope{
		Extent: Extent{XMin: first.X, XMax: first.X, YMin: first.Y, YMax: first.Y},
		ZMin:   first.Z,
		ZMax:   first.Z,
		Start:  first.T,
		End:    first.T,
	}

	for _, r := range receptors {
		env.Extent = env.Extent.Union(Extent{XMin: r.X, XMax: r.X, YMin: r.Y, YMax: r.Y})
		env.ZMin = min(env.ZMin, r.Z)
		env.ZMax = max(env.ZMax, r.Z)
		env.Start = earliest(env.Start, r.T)
		env.End = latest(env.End, r.T)

		for _, c := range configs {
			end := r.T.Add(time.Duration(c.Parameters.NHours) * time.Hour)
			env.Start = earliest(env.Start, r.T, end)
			env.End = latest(env.End, r.T, end)
		}
	}

	for _, c := range configs {
		env.Extent = env.Extent.Union(c.Parameters.Footprint.Extent)
	}

	env.XMin -= margin.Degrees
	env.XMax += margin.Degrees
	env.YMin -= margin.Degrees
	env.YMax += margin.Degrees
	env.Start = FloorHour(env.Start.Add(-margin.Hours))
	env.End = CeilHour(env.End.Add(margin.Hours))

	return env, nil
}

// Contains reports whether other lies entirely within e, in space and time.
func (e Envelope) Contains(other Envelope) bool {
	return e.Extent.Contains(other.Extent) && !other.Start.Before(e.Start) && !other.End.After(e.End)
}

func earliest(ts ...time.Time) time.Time {
	out := ts[0]
	for _, t := range ts {
		if t.Before(out) {
			out = t
		}
	}

	return out
}

func latest(ts ...time.Time) time.Time {
	out := ts[0]
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}

	return out
}
