package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	days map[string][]models.MUnifiedMetrics
	err  error
}

func (s *stubSink) Initialize() error { return nil }
func (s *stubSink) Close() error      { return nil }
func (s *stubSink) SaveUnifiedMetrics(string, []models.MUnifiedMetrics) error {
	return nil
}
func (s *stubSink) LoadUnifiedMetrics(date string) ([]models.MUnifiedMetrics, error) {
	return s.days[date], s.err
}
func (s *stubSink) LatestMetricsDate() (string, error) {
	latest := ""
	for d := range s.days {
		if d > latest {
			latest = d
		}
	}
	return latest, s.err
}
func (s *stubSink) CleanupOldData(int) error { return nil }

type stubRuns struct {
	run *models.MRefreshRun
}

func (r *stubRuns) LastRun() (*models.MRefreshRun, error) { return r.run, nil }

func rank(n int) *int { return &n }

func sampleRecords(date string) []models.MUnifiedMetrics {
	return []models.MUnifiedMetrics{
		{EntityID: "op-09", Date: date, CurrentRank: rank(1)},
		{EntityID: "op-10", Date: date, CurrentRank: rank(2)},
	}
}

func newTestServer(sink *stubSink, runs *stubRuns) *MetricsServer {
	gin.SetMode(gin.TestMode)
	cfg := &models.MConfig{Host: "127.0.0.1", Port: 8080, LogLevel: "INFO"}
	return NewMetricsServer(cfg, sink, runs, logger.NewNopLogger())
}

func get(t *testing.T, s *MetricsServer, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	s := newTestServer(&stubSink{}, &stubRuns{})
	code, body := get(t, s, "/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestCORSAdmitsLocalDashboardsOnly(t *testing.T) {
	s := newTestServer(&stubSink{}, &stubRuns{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebsocketOriginRule(t *testing.T) {
	cases := map[string]bool{
		"":                       true,
		"http://127.0.0.1:8080":  true,
		"http://localhost:5173":  true,
		"https://evil.example":   false,
		"http://localhost.evil":  false,
		"http://192.168.1.20:80": false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, wsOrigin(req), origin)
	}
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(&stubSink{}, &stubRuns{})
	s.startHub()
	defer s.Stop()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://localhost:5173"}})
	require.NoError(t, err)
	conn.Close()
}

func TestLatestMetricsFallsBackToSink(t *testing.T) {
	sink := &stubSink{days: map[string][]models.MUnifiedMetrics{
		"2024-04-30": sampleRecords("2024-04-30"),
		"2024-05-01": sampleRecords("2024-05-01"),
	}}
	s := newTestServer(sink, &stubRuns{})

	code, body := get(t, s, "/api/metrics/latest")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2024-05-01", body["date"])
	assert.Len(t, body["records"], 2)

	code, body = get(t, s, "/api/metrics/latest?entities=op-10")
	assert.Equal(t, http.StatusOK, code)
	records := body["records"].([]interface{})
	require.Len(t, records, 1)
	assert.Equal(t, "op-10", records[0].(map[string]interface{})["entity_id"])
}

func TestLatestMetricsPrefersBroadcastState(t *testing.T) {
	s := newTestServer(&stubSink{}, &stubRuns{})

	code, _ := get(t, s, "/api/metrics/latest")
	assert.Equal(t, http.StatusNotFound, code)

	s.Broadcast(models.MLatestData{
		Date: "2024-05-02",
		Records: map[string]models.MUnifiedMetrics{
			"op-10": {EntityID: "op-10", CurrentRank: rank(2)},
			"op-09": {EntityID: "op-09", CurrentRank: rank(1)},
			"eb-01": {EntityID: "eb-01"},
		},
	})

	code, body := get(t, s, "/api/metrics/latest")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2024-05-02", body["date"])
	var ids []string
	for _, r := range body["records"].([]interface{}) {
		ids = append(ids, r.(map[string]interface{})["entity_id"].(string))
	}
	assert.Equal(t, []string{"op-09", "op-10", "eb-01"}, ids)
}

func TestMetricsByDate(t *testing.T) {
	sink := &stubSink{days: map[string][]models.MUnifiedMetrics{"2024-05-01": sampleRecords("2024-05-01")}}
	s := newTestServer(sink, &stubRuns{})

	code, body := get(t, s, "/api/metrics/2024-05-01")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["records"], 2)

	code, _ = get(t, s, "/api/metrics/2024-05-02")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, s, "/api/metrics/yesterday")
	assert.Equal(t, http.StatusBadRequest, code)

	sink.err = errors.New("db down")
	code, _ = get(t, s, "/api/metrics/2024-05-01")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestLatestRun(t *testing.T) {
	runs := &stubRuns{}
	s := newTestServer(&stubSink{}, runs)

	code, _ := get(t, s, "/api/runs/latest")
	assert.Equal(t, http.StatusNotFound, code)

	runs.run = &models.MRefreshRun{RunID: "r1", AsOf: "2024-05-01", Status: models.RunCompleted}
	code, body := get(t, s, "/api/runs/latest")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "r1", body["run_id"])
	assert.Equal(t, "completed", body["status"])
}

func readState(t *testing.T, conn *websocket.Conn) models.MLatestData {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg models.MLatestData
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebsocketSubscription(t *testing.T) {
	s := newTestServer(&stubSink{}, &stubRuns{})
	s.UpdateAllDatas(models.MLatestData{
		Type: "INITIAL",
		Date: "2024-05-01",
		Records: map[string]models.MUnifiedMetrics{
			"op-09": {EntityID: "op-09"},
			"op-10": {EntityID: "op-10"},
		},
	})
	s.startHub()
	defer s.Stop()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readState(t, conn)
	assert.Equal(t, "INITIAL", initial.Type)
	assert.Len(t, initial.Records, 2)

	require.NoError(t, conn.WriteJSON(models.MSubscribeCommand{Command: "subscribe", Entities: []string{"op-09"}}))
	filtered := readState(t, conn)
	assert.Equal(t, "INITIAL", filtered.Type)
	assert.Len(t, filtered.Records, 1)
	assert.Contains(t, filtered.Records, "op-09")

	s.Broadcast(models.MLatestData{
		Date: "2024-05-02",
		Records: map[string]models.MUnifiedMetrics{
			"op-09": {EntityID: "op-09", Date: "2024-05-02"},
			"op-10": {EntityID: "op-10", Date: "2024-05-02"},
		},
	})
	update := readState(t, conn)
	assert.Equal(t, "UPDATE", update.Type)
	assert.Equal(t, "2024-05-02", update.Date)
	assert.Len(t, update.Records, 1)
	assert.Contains(t, update.Records, "op-09")
}
