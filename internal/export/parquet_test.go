package export

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/windcube/internal/models"
)

var scanStart = time.Date(2015, 6, 21, 6, 0, 0, 0, time.UTC)

func testSeries() models.ElevationSeries {
	return models.ElevationSeries{
		Label:     75,
		Elevation: 75.1,
		ScanIDs:   []int{1},
		Scans:     1,
		Records: []models.WindRecord{
			{Time: scanStart, Range: 100, Elevation: 75.1, Speed: 6.2, Vertical: -0.3, Direction: 231, RSquared: 0.97, ConfidenceIndex: 95, FunctionCalls: 9},
			{Time: scanStart, Range: 150, Elevation: 75.1, Speed: math.NaN(), Vertical: math.NaN(), Direction: math.NaN(), RSquared: 0.04, ConfidenceIndex: 60, FunctionCalls: 12},
			{Time: scanStart, Range: 200, Elevation: 75.1, Speed: math.NaN(), Vertical: math.NaN(), Direction: math.NaN(), RSquared: -999, ConfidenceIndex: math.NaN(), FunctionCalls: -999},
		},
	}
}

func TestWindRowStructTags(t *testing.T) {
	schema := parquet.SchemaOf(new(WindRow))
	require.NotNil(t, schema)

	for name := range WindVariables {
		col, ok := schema.Lookup(name)
		require.True(t, ok, "Column %s should exist in schema", name)
		require.NotNil(t, col)
	}
}

func TestSampleRowStructTags(t *testing.T) {
	schema := parquet.SchemaOf(new(SampleRow))
	for name := range SampleVariables {
		_, ok := schema.Lookup(name)
		assert.True(t, ok, "Column %s should exist in schema", name)
	}
}

func TestWindRows(t *testing.T) {
	rows := WindRows(testSeries().Records)
	require.Len(t, rows, 3)

	require.NotNil(t, rows[0].Speed)
	assert.Equal(t, 6.2, *rows[0].Speed)
	assert.InDelta(t, 100*math.Sin(75.1*math.Pi/180), rows[0].Altitude, 1e-9)
	assert.Nil(t, rows[1].Speed)
	assert.Nil(t, rows[1].Direction)
	assert.Equal(t, 0.04, rows[1].RSquared)
	assert.Equal(t, -999.0, rows[2].RSquared)
	assert.Equal(t, int32(-999), rows[2].FunctionCalls)
	assert.Nil(t, rows[2].ConfidenceIndex)
}

func TestWriteWindParquet(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "2015", WindFileName(scanStart, 75))

	err := WriteWindParquet(testSeries(), Attributes{"title": "windcube VAD retrieval", "date": "2015-06-21"}, outputPath)
	require.NoError(t, err)

	file, err := os.Open(outputPath)
	require.NoError(t, err)
	defer file.Close()
	info, err := file.Stat()
	require.NoError(t, err)

	pf, err := parquet.OpenFile(file, info.Size())
	require.NoError(t, err)

	title, ok := pf.Lookup("title")
	assert.True(t, ok)
	assert.Equal(t, "windcube VAD retrieval", title)
	units, ok := pf.Lookup("speed.units")
	assert.True(t, ok)
	assert.Equal(t, "m s-1", units)
	elevation, _ := pf.Lookup("elevation")
	assert.Equal(t, "75", elevation)
	missing, _ := pf.Lookup("missing_value")
	assert.Equal(t, "-999", missing)

	reader := parquet.NewGenericReader[WindRow](file)
	defer reader.Close()

	got := make([]WindRow, reader.NumRows())
	n, err := reader.Read(got)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	require.Equal(t, 3, n)

	assert.WithinDuration(t, scanStart, got[0].Time, time.Microsecond)
	require.NotNil(t, got[0].Direction)
	assert.InDelta(t, 231, *got[0].Direction, 1e-9)
	assert.Nil(t, got[1].Speed)
	assert.Equal(t, -999.0, got[2].RSquared)
}

func TestWriteSamplesParquet(t *testing.T) {
	samples := []models.RadialSample{
		{Time: scanStart, Range: 100, ScanID: 1, Azimuth: -30, Elevation: 75, CNR: -22, RadialVelocity: 1.5, ConfidenceIndex: 100},
		{Time: scanStart.Add(time.Second), Range: 100, ScanID: 1, LOSID: 1, Azimuth: 0, Elevation: 75, CNR: math.NaN(), RadialVelocity: 1.7, ConfidenceIndex: 99},
	}
	outputPath := filepath.Join(t.TempDir(), SamplesFileName(scanStart, models.PropertyWind))
	require.NoError(t, WriteSamplesParquet(samples, nil, outputPath))

	file, err := os.Open(outputPath)
	require.NoError(t, err)
	defer file.Close()

	reader := parquet.NewGenericReader[SampleRow](file)
	defer reader.Close()

	got := make([]SampleRow, reader.NumRows())
	n, err := reader.Read(got)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	require.Equal(t, 2, n)
	assert.Equal(t, -30.0, got[0].Azimuth)
	assert.Nil(t, got[1].CNR)
	assert.Equal(t, int32(1), got[1].LOSID)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "windcube_20150621_vad75.parquet", WindFileName(scanStart, 75))
	assert.Equal(t, "windcube_20150621_vad05.parquet", WindFileName(scanStart, 5))
	assert.Equal(t, "windcube_20150621_radial_wind_speed.parquet", SamplesFileName(scanStart, models.PropertyWind))
}
