package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tos-rag/internal/models"
	"tos-rag/internal/rag"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStreamer struct {
	events []rag.Event
	got    rag.Request
}

func (f *fakeStreamer) Stream(_ context.Context, req rag.Request) <-chan rag.Event {
	f.got = req
	ch := make(chan rag.Event, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch
}

type fakeLister []string

func (f fakeLister) List(context.Context) []string { return f }

func post(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleAnalyze_StreamsNDJSON(t *testing.T) {
	s := &fakeStreamer{events: []rag.Event{
		rag.LogEvent{Message: "Starting scraper on: https://x.test"},
		rag.DataEvent{Scrape: &models.ScrapeResult{}},
		rag.IndexReadyEvent{},
		rag.ResultEvent{Payload: &models.ResultPayload{
			Result:    models.Verdict{RiskScore: 5, RiskLevel: models.RiskLow},
			DebugInfo: models.DebugInfo{Engine: rag.EngineSinglePage},
		}},
	}}
	router := NewRouter(s, fakeLister{})

	w := post(t, router, `{"url":"https://x.test","intent":"resell","model_name":"gemini-2.0-flash","enable_rag":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentTypeNDJSON, w.Header().Get("Content-Type"))
	assert.Equal(t, rag.Request{URL: "https://x.test", Intent: "resell", Model: "gemini-2.0-flash", EnableRAG: true}, s.got)

	var lines []map[string]any
	sc := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2, "data and index_ready stay internal")
	assert.Equal(t, "log", lines[0]["type"])
	assert.Equal(t, "result", lines[1]["type"])
	assert.Equal(t, rag.EngineSinglePage, lines[1]["data"].(map[string]any)["debug_info"].(map[string]any)["engine"])
}

func TestHandleAnalyze_BadRequest(t *testing.T) {
	router := NewRouter(&fakeStreamer{}, fakeLister{})

	for _, body := range []string{`{}`, `not json`, `{"intent":"x"}`} {
		w := post(t, router, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), "error")
	}
}

func TestHandleModels(t *testing.T) {
	router := NewRouter(&fakeStreamer{}, fakeLister{"gemini-2.0-flash", "gemini-1.5-pro"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":["gemini-2.0-flash","gemini-1.5-pro"]}`, w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	router := NewRouter(&fakeStreamer{}, fakeLister{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Greater(t, body["timestamp"], float64(0))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(&fakeStreamer{}, fakeLister{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
