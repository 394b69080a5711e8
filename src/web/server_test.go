package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"UberPickups/src/app"
	"UberPickups/src/dataset"
	"UberPickups/src/datasource/remote"
	"UberPickups/src/storage"
)

const fixtureCSV = `Date/Time,Lat,Lon,Base
9/1/2014 3:10:00,40.70,-74.00,B02512
9/1/2014 3:40:00,40.72,-74.02,B02512
9/1/2014 17:05:00,40.75,-73.98,B02598
9/1/2014 17:20:00,40.76,-73.97,B02598
9/1/2014 17:55:00,40.77,-73.96,B02617
`

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	hits   *atomic.Int32
	loader *dataset.Loader
	logger *storage.Logger
}

func newTestEnv(t *testing.T, status int, body string) *testEnv {
	t.Helper()

	hits := &atomic.Int32{}
	data := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(data.Close)

	logger := storage.NewWriterLogger(io.Discard)
	loader := dataset.NewLoader(
		remote.NewHTTPSource(data.URL+"/uber.csv", remote.TransportOptions{Timeout: 5 * time.Second}),
		dataset.WithLogger(logger),
	)
	server := NewServer(loader, app.NewRegistry(app.DefaultSessionOptions()), logger, Options{RowLimit: 100, RawRows: 2})

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		srv:    srv,
		client: &http.Client{Jar: jar, Timeout: 5 * time.Second},
		hits:   hits,
		loader: loader,
		logger: logger,
	}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) post(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := e.client.PostForm(e.srv.URL+path, form)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp
}

func TestPage(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, fixtureCSV)

	resp, body := env.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	page := string(body)
	assert.Contains(t, page, "Uber pickups in NYC")
	assert.Contains(t, page, "Number of pickups by hour")
	assert.Contains(t, page, "Map of all pickups at 17:00")
	assert.Contains(t, page, "HexagonLayer")
	assert.NotContains(t, page, "Raw data")

	// 第二次请求命中缓存
	env.get(t, "/")
	assert.Equal(t, int32(1), env.hits.Load())
}

func TestPage_Events(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, fixtureCSV)
	env.get(t, "/")

	resp := env.post(t, "/raw", url.Values{"show": {"false", "on"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "重定向后返回页面")

	_, body := env.get(t, "/")
	assert.Contains(t, string(body), "Raw data")
	assert.Contains(t, string(body), "2 of 5 rows, 4 columns")

	env.post(t, "/hour", url.Values{"hour": {"3"}})
	_, body = env.get(t, "/")
	assert.Contains(t, string(body), "Map of all pickups at 3:00")

	env.post(t, "/hour", url.Values{"hour": {"5"}})
	_, body = env.get(t, "/")
	assert.Contains(t, string(body), "No pickups at 5:00")

	_, body = env.get(t, "/api/session")
	var sess sessionResponse
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.True(t, sess.ShowRaw)
	assert.Equal(t, 5, sess.Hour)
	// 四次页面请求加三次提交后的重定向，API 请求不计数
	assert.Equal(t, 7, sess.Counter)
}

func TestSelectHour_Invalid(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, fixtureCSV)

	resp, err := env.client.PostForm(env.srv.URL+"/hour", url.Values{"hour": {"24"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = env.client.PostForm(env.srv.URL+"/hour", url.Values{"hour": {"noon"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Histogram(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, fixtureCSV)

	resp, body := env.get(t, "/api/histogram")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h struct {
		Counts []int `json:"counts"`
		Total  int   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &h))
	require.Len(t, h.Counts, 24)
	assert.Equal(t, 2, h.Counts[3])
	assert.Equal(t, 3, h.Counts[17])
	assert.Equal(t, 5, h.Total)
}

func TestAPI_Pickups(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, fixtureCSV)

	_, body := env.get(t, "/api/pickups?hour=17")
	var p pickupsResponse
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, 17, p.Hour)
	assert.Equal(t, 3, p.Count)
	assert.Len(t, p.Rows, 3)
	assert.InDelta(t, 40.76, p.Centroid.Lat, 1e-9)

	_, body = env.get(t, "/api/pickups?hour=5")
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.JSONEq(t, `{"lat":null,"lon":null}`, string(raw["centroid"]))
	assert.JSONEq(t, `[]`, string(raw["rows"]))

	resp, _ := env.get(t, "/api/pickups?hour=25")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Map(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, fixtureCSV)

	_, body := env.get(t, "/api/map?hour=3")
	var deck struct {
		InitialViewState struct {
			Latitude *float64 `json:"latitude"`
			Zoom     float64  `json:"zoom"`
		} `json:"initialViewState"`
		Layers []struct {
			Type string       `json:"@@type"`
			Data [][2]float64 `json:"data"`
		} `json:"layers"`
	}
	require.NoError(t, json.Unmarshal(body, &deck))
	require.NotNil(t, deck.InitialViewState.Latitude)
	assert.InDelta(t, 40.71, *deck.InitialViewState.Latitude, 1e-9)
	assert.Equal(t, float64(11), deck.InitialViewState.Zoom)
	require.Len(t, deck.Layers, 2)
	assert.Len(t, deck.Layers[0].Data, 2)

	// 查询参数不改变会话的小时
	_, body = env.get(t, "/api/session")
	assert.Contains(t, string(body), `"hour":17`)

	_, body = env.get(t, "/api/map")
	require.NoError(t, json.Unmarshal(body, &deck))
	assert.Len(t, deck.Layers[0].Data, 3)

	resp, _ := env.get(t, "/api/map?hour=24")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFetchError(t *testing.T) {
	env := newTestEnv(t, http.StatusForbidden, "AccessDenied")

	resp, body := env.get(t, "/")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "Loading data failed")

	resp, _ = env.get(t, "/api/histogram")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Zero(t, env.loader.Cache().Len())
}

func TestParseError(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "Date/Time,Lat,Lon\nsoon,40.7,-74.0\n")

	resp, body := env.get(t, "/")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "Parsing data failed")
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, fixtureCSV)

	resp, body := env.get(t, "/export.xlsx?hour=17")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "uber-pickups-17.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, "date/time", rows[0][0])

	_, body = env.get(t, "/export.xlsx?hour=all")
	f2, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f2.Close()
	rows, err = f2.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestResetCache(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, fixtureCSV)
	env.get(t, "/api/histogram")
	require.Equal(t, 1, env.loader.Cache().Len())

	resp, err := env.client.Post(env.srv.URL+"/api/cache/reset", "", nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"cleared":1}`, string(body))
	assert.Zero(t, env.loader.Cache().Len())

	env.get(t, "/api/histogram")
	assert.Equal(t, int32(2), env.hits.Load())
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, fixtureCSV)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/logs", nil)
	require.NoError(t, err)
	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// 等待订阅建立
	time.Sleep(50 * time.Millisecond)
	env.logger.Info("hello from test")

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), "INFO: hello from test"), line)
}

func TestRequestID(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(RequestIDFromContext(r.Context())))
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc-123", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}
