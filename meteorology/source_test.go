package meteorology_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/meteorology"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
)

func Test_HRRR_Keys_Cover_Range_In_Six_Hour_Blocks(t *testing.T) {
	start := time.Date(2019, 5, 30, 10, 0, 0, 0, time.UTC)
	stop := time.Date(2019, 5, 31, 1, 0, 0, 0, time.UTC)

	keys, err := meteorology.HRRR{}.Keys(start, stop)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"noaa_arl_formatted/20190530_06-11_hrrr",
		"noaa_arl_formatted/20190530_12-17_hrrr",
		"noaa_arl_formatted/20190530_18-23_hrrr",
		"noaa_arl_formatted/20190531_00-05_hrrr",
	}, keys)
}

func Test_HRRR_Keys_Single_Hour(t *testing.T) {
	at := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	keys, err := meteorology.HRRR{}.Keys(at, at)

	require.NoError(t, err)
	assert.Equal(t, []string{"noaa_arl_formatted/20220101_00-05_hrrr"}, keys)
}

func Test_HRRRForecast_Keys_Use_Cycle_Of_Start(t *testing.T) {
	start := time.Date(2022, 3, 4, 6, 30, 0, 0, time.UTC)

	keys, err := meteorology.HRRRForecast{}.Keys(start, start.Add(12*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, []string{"noaa_arl_formatted/forecast/20220304/hysplit.t06z.hrrrf"}, keys)
}

func Test_HRRRForecast_Rejects_Ranges_Beyond_23_Hours(t *testing.T) {
	start := time.Date(2022, 3, 4, 0, 0, 0, 0, time.UTC)

	_, err := meteorology.HRRRForecast{}.Keys(start, start.Add(24*time.Hour))

	assert.ErrorIs(t, err, meteorology.ErrRangeTooLong)
}

func Test_SourceFor(t *testing.T) {
	hrrr, err := meteorology.SourceFor(meteorology.ModelHRRR)
	require.NoError(t, err)
	assert.IsType(t, meteorology.HRRR{}, hrrr)

	forecast, err := meteorology.SourceFor(meteorology.ModelHRRRForecast)
	require.NoError(t, err)
	assert.IsType(t, meteorology.HRRRForecast{}, forecast)

	_, err = meteorology.SourceFor("gfs0p25")
	assert.ErrorIs(t, err, meteorology.ErrUnknownModel)
}

func Test_CheckCoverage(t *testing.T) {
	inside := core.Envelope{Extent: core.Extent{XMin: -112, XMax: -111, YMin: 40, YMax: 41}}
	outside := core.Envelope{Extent: core.Extent{XMin: 10, XMax: 11, YMin: 50, YMax: 51}}

	assert.NoError(t, meteorology.CheckCoverage(meteorology.HRRR{}, inside))
	assert.ErrorIs(t, meteorology.CheckCoverage(meteorology.HRRR{}, outside), meteorology.ErrOutsideSource)
}
