package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
)

const sampleCSV = `Date/Time,Lat,Lon,Base
9/1/2014 0:01:00,40.2201,-74.0021,B02512
9/1/2014 0:01:00,40.75,-74.0027,B02512
9/1/2014 0:03:00,40.7559,-73.9864,B02512
`

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"https://s3-us-west-2.amazonaws.com/streamlit-demo-data/uber-raw-data-sep14.csv.gz": FormatCSVGzip,
		"https://example.com/data.CSV?token=abc":                                            FormatCSV,
		"s3://bucket/pickups.xlsx":                                                          FormatXLSX,
		"data/uber.csv":                                                                     FormatCSV,
		"data/uber":                                                                         FormatCSV,
	}
	for loc, want := range cases {
		assert.Equal(t, want, DetectFormat(loc), loc)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" GZIP ")
	require.NoError(t, err)
	assert.Equal(t, FormatCSVGzip, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, Format(""), f)

	_, err = ParseFormat("parquet")
	assert.Error(t, err)
}

func TestReadRecords_CSVLimit(t *testing.T) {
	records, err := ReadRecords(strings.NewReader(sampleCSV), FormatCSV, ReadOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Date/Time", "Lat", "Lon", "Base"}, records[0])
	assert.Equal(t, "40.75", records[2][1])

	records, err = ReadRecords(strings.NewReader(sampleCSV), FormatCSV, ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestReadRecords_Empty(t *testing.T) {
	_, err := ReadRecords(strings.NewReader(""), FormatCSV, ReadOptions{Limit: 10})
	assert.ErrorIs(t, err, ErrEmptySource)

	records, err := ReadRecords(strings.NewReader("Date/Time,Lat,Lon\n"), FormatCSV, ReadOptions{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReadRecords_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	records, err := ReadRecords(&buf, FormatCSVGzip, ReadOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "9/1/2014 0:01:00", records[1][0])

	// 已被传输层解压的内容按明文读取
	records, err = ReadRecords(strings.NewReader(sampleCSV), FormatCSVGzip, ReadOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestReadRecords_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("pickups")
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(sampleCSV), "\n") {
		row := sheet.AddRow()
		for _, v := range strings.Split(line, ",") {
			row.AddCell().SetString(v)
		}
	}
	sheet.AddRow() // 空行应被跳过

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	data := buf.Bytes()

	records, err := ReadRecords(bytes.NewReader(data), FormatXLSX, ReadOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Lat", records[0][1])
	assert.Equal(t, "B02512", records[3][3])

	records, err = ReadRecords(bytes.NewReader(data), FormatXLSX, ReadOptions{Limit: 1, SheetName: "pickups"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = ReadRecords(bytes.NewReader(data), FormatXLSX, ReadOptions{SheetName: "missing"})
	assert.Error(t, err)
}

func TestFileMonitor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uber.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0644))

	monitor, err := NewFileMonitor(path)
	require.NoError(t, err)
	defer monitor.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changed := make(chan string, 10)
	go func() {
		_ = monitor.Watch(ctx, func(name string) { changed <- name })
	}()

	// 其他文件的变更不上报
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.csv"), []byte("x"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV+"9/1/2014 0:06:00,40.7,-74.0,B02512\n"), 0644))

	select {
	case name := <-changed:
		assert.Equal(t, "uber.csv", filepath.Base(name))
	case <-ctx.Done():
		t.Fatal("未收到文件变更通知")
	}
}
