package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"host-sentinel/internal/alerting"
	"host-sentinel/internal/anomaly"
	"host-sentinel/internal/forecast"
	"host-sentinel/internal/metrics"
	"host-sentinel/internal/pipeline"
)

var now = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu         sync.Mutex
	thresholds alerting.Thresholds
	interval   time.Duration
	verdict    *anomaly.Verdict
	samples    []metrics.Sample
}

func (f *fakeSource) Status() pipeline.Status {
	return pipeline.Status{Stage: pipeline.StageInit, StageDetail: pipeline.StageInit.Detail(), Samples: len(f.samples)}
}

func (f *fakeSource) Stage() pipeline.Stage { return pipeline.StageInit }

func (f *fakeSource) LatestSample() (metrics.Sample, bool) {
	if len(f.samples) == 0 {
		return metrics.Sample{}, false
	}
	return f.samples[len(f.samples)-1], true
}

func (f *fakeSource) History(m metrics.Metric) []float64 {
	out := make([]float64, len(f.samples))
	for i, s := range f.samples {
		out[i] = s.Value(m)
	}
	return out
}

func (f *fakeSource) Timestamps() []time.Time {
	out := make([]time.Time, len(f.samples))
	for i, s := range f.samples {
		out[i] = s.Timestamp
	}
	return out
}

func (f *fakeSource) AlertEvents() []alerting.Event {
	return []alerting.Event{{Timestamp: now, Kind: alerting.KindThreshold, Metric: metrics.CPU, Value: 91, Threshold: 80}}
}

func (f *fakeSource) Thresholds() alerting.Thresholds {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thresholds
}

func (f *fakeSource) SetThresholds(t alerting.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thresholds = t
	return nil
}

func (f *fakeSource) Forecast(m metrics.Metric) forecast.Result {
	return forecast.InsufficientData(m, now)
}

func (f *fakeSource) AnomalyVerdict() (anomaly.Verdict, bool) {
	if f.verdict == nil {
		return anomaly.Verdict{}, false
	}
	return *f.verdict, true
}

func (f *fakeSource) RecentAnomalies() []anomaly.Verdict { return nil }

func (f *fakeSource) ModelState() anomaly.ModelState { return anomaly.ModelState{} }

func (f *fakeSource) SetInterval(d time.Duration) time.Duration {
	if d < 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	f.interval = d
	return d
}

func newTestServer(src *fakeSource) *Server {
	return New(Options{StreamInterval: 20 * time.Millisecond}, src, zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLatestBeforeAndAfterSamples(t *testing.T) {
	src := &fakeSource{thresholds: alerting.DefaultThresholds()}
	h := newTestServer(src).Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/latest", "").Code)

	src.samples = []metrics.Sample{{Timestamp: now, CPU: 12.5, Memory: 40, Disk: 55}}
	rec := do(t, h, http.MethodGet, "/api/v1/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got metrics.Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 12.5, got.CPU)
}

func TestHistoryLimitAndUnknownMetric(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 5; i++ {
		src.samples = append(src.samples, metrics.Sample{Timestamp: now.Add(time.Duration(i) * time.Second), CPU: float64(i)})
	}
	h := newTestServer(src).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/history/cpu?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []float64{3, 4}, got.Values)
	assert.Len(t, got.Timestamps, 2)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/history/gpu", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/history/cpu?limit=x", "").Code)
}

func TestPutThresholds(t *testing.T) {
	src := &fakeSource{thresholds: alerting.DefaultThresholds()}
	h := newTestServer(src).Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/thresholds", `{"cpu":150,"memory":80,"disk":90}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, alerting.DefaultThresholds(), src.Thresholds())

	rec = do(t, h, http.MethodPut, "/api/v1/thresholds", `{"cpu":70,"memory":75,"disk":95}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alerting.Thresholds{CPU: 70, Memory: 75, Disk: 95}, src.Thresholds())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/thresholds", `not json`).Code)
}

func TestPutThresholdsPartialBodyKeepsOtherFields(t *testing.T) {
	src := &fakeSource{thresholds: alerting.DefaultThresholds()}
	h := newTestServer(src).Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/thresholds", `{"cpu":90}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cpu":90,"memory":80,"disk":90}`, rec.Body.String())
	assert.Equal(t, alerting.Thresholds{CPU: 90, Memory: 80, Disk: 90}, src.Thresholds())

	rec = do(t, h, http.MethodPut, "/api/v1/thresholds", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alerting.Thresholds{CPU: 90, Memory: 80, Disk: 90}, src.Thresholds())
}

func TestAnomalyReportsUntrained(t *testing.T) {
	src := &fakeSource{}
	h := newTestServer(src).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/anomaly", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trained":false}`, rec.Body.String())

	src.verdict = &anomaly.Verdict{IsAnomaly: true, Score: -0.7, CPU: 95, DetectedAt: now}
	rec = do(t, h, http.MethodGet, "/api/v1/anomaly", "")
	var got anomalyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Trained)
	require.NotNil(t, got.Verdict)
	assert.True(t, got.Verdict.IsAnomaly)
}

func TestPutInterval(t *testing.T) {
	src := &fakeSource{}
	h := newTestServer(src).Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/interval", `{"interval":"100ms"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"interval":"500ms"}`, rec.Body.String())
	assert.Equal(t, 500*time.Millisecond, src.interval)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/interval", `{"interval":"soon"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/interval", `{}`).Code)
}

func TestForecastAndAlerts(t *testing.T) {
	h := newTestServer(&fakeSource{}).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/forecast/memory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res forecast.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, forecast.StatusInsufficientData, res.Status)

	rec = do(t, h, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []alerting.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, metrics.CPU, events[0].Metric)
}

func TestStreamPushesStatus(t *testing.T) {
	src := &fakeSource{samples: []metrics.Sample{{Timestamp: now}}}
	srv := httptest.NewServer(newTestServer(src).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	for i := 0; i < 2; i++ {
		var msg struct {
			Type string          `json:"type"`
			Data pipeline.Status `json:"data"`
		}
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "status", msg.Type)
		assert.Equal(t, pipeline.StageInit, msg.Data.Stage)
		assert.Equal(t, 1, msg.Data.Samples)
	}
}
