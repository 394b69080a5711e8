package processor

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UberPickups/src/dataset"
)

func fixtureTable(t *testing.T) *dataset.Table {
	t.Helper()
	tbl, err := dataset.FromRecords([][]string{
		{"Date/Time", "Lat", "Lon", "Base"},
		{"9/1/2014 3:10:00", "40.70", "-74.00", "B02512"},
		{"9/1/2014 3:40:00", "40.72", "-74.02", "B02512"},
		{"9/1/2014 17:05:00", "40.75", "-73.98", "B02598"},
		{"9/1/2014 17:20:00", "40.76", "-73.97", "B02598"},
		{"9/1/2014 17:55:00", "40.77", "-73.96", "B02617"},
	}, "date/time")
	require.NoError(t, err)
	return tbl
}

func TestHourlyHistogram(t *testing.T) {
	tbl := fixtureTable(t)
	h := HourlyHistogram(tbl)

	assert.Equal(t, 2, h.Counts[3])
	assert.Equal(t, 3, h.Counts[17])
	assert.Equal(t, tbl.Nrow(), h.Total())
	assert.Equal(t, 3, h.Max())
	for hour, c := range h.Counts {
		if hour != 3 && hour != 17 {
			assert.Zero(t, c, "hour %d", hour)
		}
	}

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total":5`)
}

func TestHourlyHistogram_Edges(t *testing.T) {
	tbl, err := dataset.FromRecords([][]string{
		{"date/time", "lat", "lon"},
		{"2014-09-01 00:00:00", "40.7", "-74.0"},
		{"2014-09-01 23:59:59", "40.7", "-74.0"},
	}, "date/time")
	require.NoError(t, err)

	h := HourlyHistogram(tbl)
	assert.Equal(t, 1, h.Counts[0])
	assert.Equal(t, 1, h.Counts[23])

	empty := HourlyHistogram(tbl.Subset(nil))
	assert.Zero(t, empty.Total())
}

func TestFilterHour(t *testing.T) {
	tbl := fixtureTable(t)

	at17, err := FilterHour(tbl, 17)
	require.NoError(t, err)
	assert.Equal(t, 3, at17.Nrow())

	c, err := Centroid(at17, "lat", "lon")
	require.NoError(t, err)
	assert.InDelta(t, (40.75+40.76+40.77)/3, c.Lat, 1e-9)
	assert.InDelta(t, (-73.98-73.97-73.96)/3, c.Lon, 1e-9)

	// 各小时互不相交且合起来等于全表
	total := 0
	for h := 0; h < HoursPerDay; h++ {
		part, err := FilterHour(tbl, h)
		require.NoError(t, err)
		for i := 0; i < part.Nrow(); i++ {
			assert.Equal(t, h, part.Time(i).Hour())
		}
		total += part.Nrow()
	}
	assert.Equal(t, tbl.Nrow(), total)
}

func TestFilterHour_OutOfRange(t *testing.T) {
	tbl := fixtureTable(t)
	for _, h := range []int{-1, 24} {
		_, err := FilterHour(tbl, h)
		assert.ErrorIs(t, err, ErrHourOutOfRange)
	}
}

func TestCentroid_Empty(t *testing.T) {
	at5, err := FilterHour(fixtureTable(t), 5)
	require.NoError(t, err)
	assert.Zero(t, at5.Nrow())

	c, err := Centroid(at5, "lat", "lon")
	assert.ErrorIs(t, err, ErrEmptySelection)
	assert.True(t, c.IsNaN())
	assert.True(t, math.IsNaN(c.Lat))

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":null,"lon":null}`, string(data))
}

func TestCentroid_MissingColumn(t *testing.T) {
	_, err := Centroid(fixtureTable(t), "latitude", "lon")
	assert.ErrorIs(t, err, dataset.ErrMissingColumn)
}
