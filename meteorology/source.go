package meteorology

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
)

const (
	ModelHRRR         = "hrrr"
	ModelHRRRForecast = "hrrr_forecast"

	hrrrPrefix          = "noaa_arl_formatted"
	hrrrForecastPrefix  = "noaa_arl_formatted/forecast"
	hrrrHoursPerFile    = 6
	forecastMaxDuration = 23 * time.Hour
)

var (
	// ErrUnknownModel is returned for meteorology model names without a source.
	ErrUnknownModel = errors.New("unknown meteorology model")

	// ErrOutsideSource is returned when an envelope is not covered by the source's domain.
	ErrOutsideSource = errors.New("envelope outside meteorology source domain")

	// ErrRangeTooLong is returned when a forecast source cannot cover the requested time range.
	ErrRangeTooLong = errors.New("time range exceeds meteorology source")
)

// HRRRExtent is the domain of the HRRR ARL files.
var HRRRExtent = core.Extent{XMin: -122.71902, XMax: -60.9162, YMin: 12.1381, YMax: 47.8419}

// Source names the archive files covering a time range.
type Source interface {
	Extent() core.Extent
	// Keys returns the sorted, distinct archive keys of the files covering [start, stop].
	Keys(start, stop time.Time) ([]string, error)
}

// SourceFor returns the source of a meteorology model.
func SourceFor(model string) (Source, error) {
	switch model {
	case ModelHRRR:
		return HRRR{}, nil
	case ModelHRRRForecast:
		return HRRRForecast{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
}

// CheckCoverage returns ErrOutsideSource if the source's domain does not contain env.
func CheckCoverage(source Source, env core.Envelope) error {
	if !source.Extent().Contains(env.Extent) {
		return fmt.Errorf("%w: %+v", ErrOutsideSource, env.Extent)
	}

	return nil
}

// HRRR is the reanalysis archive: one file per six hours, named like 20190530_12-17_hrrr.
type HRRR struct{}

func (HRRR) Extent() core.Extent {
	return HRRRExtent
}

func (HRRR) key(t time.Time) string {
	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), t.Day(), (t.Hour()/hrrrHoursPerFile)*hrrrHoursPerFile, 0, 0, 0, time.UTC)
	last := first.Add((hrrrHoursPerFile - 1) * time.Hour)

	return fmt.Sprintf("%s/%s-%s_hrrr", hrrrPrefix, first.Format("20060102_15"), last.Format("15"))
}

func (s HRRR) Keys(start, stop time.Time) ([]string, error) {
	seen := map[string]struct{}{}
	for t := start; !t.After(stop); t = t.Add(time.Hour) {
		seen[s.key(t)] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys, nil
}

// HRRRForecast is the forecast archive: a single file per cycle covers up to 23 hours.
type HRRRForecast struct{}

func (HRRRForecast) Extent() core.Extent {
	return HRRRExtent
}

func (HRRRForecast) Keys(start, stop time.Time) ([]string, error) {
	if stop.Sub(start) > forecastMaxDuration {
		return nil, fmt.Errorf("%w: %s to %s", ErrRangeTooLong, start, stop)
	}

	cycle := core.FloorHour(start)

	return []string{fmt.Sprintf("%s/%s/hysplit.t%sz.hrrrf", hrrrForecastPrefix, cycle.Format("20060102"), cycle.Format("15"))}, nil
}
