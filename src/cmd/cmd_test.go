package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"UberPickups/src/config"
	"UberPickups/src/storage"
)

const fixtureCSV = `Date/Time,Lat,Lon,Base
9/1/2014 3:10:00,40.70,-74.00,B02512
9/1/2014 3:40:00,40.72,-74.02,B02512
9/1/2014 17:05:00,40.75,-73.98,B02598
9/1/2014 17:20:00,40.76,-73.97,B02598
9/1/2014 17:55:00,40.77,-73.96,B02617
`

// writeFixture 写入数据文件和配置文件，返回配置文件路径
func writeFixture(t *testing.T) (cfgPath, dataPath string) {
	t.Helper()
	dir := t.TempDir()
	dataPath = filepath.Join(dir, "uber.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte(fixtureCSV), 0644))

	cfgPath = filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`
source:
  url: %s
  row_limit: 100
server:
  addr: 127.0.0.1:0
refresh:
  watch: true
log_name: %s
`, dataPath, filepath.Join(dir, "app.log"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	return cfgPath, dataPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLoadCmd(t *testing.T) {
	cfgPath, _ := writeFixture(t)

	out, err := execute(t, "-c", cfgPath, "load", "--rows", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "rows: 3\n")
	assert.Contains(t, out, "columns: date/time, lat, lon, base")
	assert.Contains(t, out, "03:00 2\n")
	assert.Contains(t, out, "17:00 1\n")
}

func TestExportCmd(t *testing.T) {
	cfgPath, _ := writeFixture(t)
	target := filepath.Join(t.TempDir(), "at17.xlsx")

	out, err := execute(t, "-c", cfgPath, "export", "--hour", "17", "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "3 rows")

	f, err := excelize.OpenFile(target)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	_, err = execute(t, "-c", cfgPath, "export", "--hour", "30", "--out", target)
	assert.Error(t, err)
}

func TestReportCmd_NotConfigured(t *testing.T) {
	cfgPath, _ := writeFixture(t)
	_, err := execute(t, "-c", cfgPath, "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report.server")
}

func TestRun_ExitCode(t *testing.T) {
	assert.Equal(t, 1, run([]string{"-c", filepath.Join(t.TempDir(), "missing.yaml"), "load"}))
}

func TestLoadConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDataURL, cfg.Source.URL)

	_, err = loadConfig(missing, true)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildReport(t *testing.T) {
	cfgPath, _ := writeFixture(t)
	folder, name := filepath.Split(cfgPath)
	cfg, err := config.LoadConfig(folder, name)
	require.NoError(t, err)

	loader, err := newLoader(cfg, storage.NewWriterLogger(io.Discard))
	require.NoError(t, err)

	report, err := buildReport(context.Background(), cfg, loader, 100, 17)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Count)
	assert.Equal(t, 5, report.Histogram.Total())
	assert.InDelta(t, 40.76, report.Centroid.Lat, 1e-9)
	assert.NotEmpty(t, report.Attachment)
	assert.Equal(t, "uber-pickups-17.xlsx", report.AttachmentName)

	report, err = buildReport(context.Background(), cfg, loader, 100, 5)
	require.NoError(t, err)
	assert.Zero(t, report.Count)
	assert.True(t, report.Centroid.IsNaN())
}

func TestServe(t *testing.T) {
	cfgPath, dataPath := writeFixture(t)
	folder, name := filepath.Split(cfgPath)
	cfg, err := config.LoadConfig(folder, name)
	require.NoError(t, err)

	logger := storage.NewWriterLogger(io.Discard)
	logs, cancelLogs := logger.Subscribe()
	defer cancelLogs()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, logger) }()

	addrRe := regexp.MustCompile(`http://(\S+)`)
	var addr string
	deadline := time.After(5 * time.Second)
	for addr == "" {
		select {
		case line := <-logs:
			if m := addrRe.FindStringSubmatch(line); m != nil && strings.Contains(line, "服务已启动") {
				addr = m[1]
			}
		case <-deadline:
			t.Fatal("服务未启动")
		}
	}

	resp, err := http.Get("http://" + addr + "/api/histogram")
	require.NoError(t, err)
	var h struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	resp.Body.Close()
	assert.Equal(t, 5, h.Total)

	// 数据文件变更后缓存被清空，新数据生效
	time.Sleep(50 * time.Millisecond)
	tmp := dataPath + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(fixtureCSV+"9/1/2014 18:00:00,40.7,-74.0,B02512\n"), 0644))
	require.NoError(t, os.Rename(tmp, dataPath))
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/histogram")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
			return false
		}
		return h.Total == 6
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("服务未退出")
	}
}

func TestReopenOnHangup(t *testing.T) {
	name := filepath.Join(t.TempDir(), "app.log")
	logger, err := storage.NewLogger(name)
	require.NoError(t, err)
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reopenOnHangup(ctx, logger, name)

	logger.Info("before")
	require.NoError(t, os.Rename(name, name+".1"))
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(name)
		return err == nil && strings.Contains(string(data), "日志文件已重新打开")
	}, 5*time.Second, 20*time.Millisecond)
}
