package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splatgate/internal/analysis"
	"splatgate/internal/pipeline"
	"splatgate/internal/storage"
)

type fakeQueue struct {
	mu        sync.Mutex
	submitted []pipeline.Job
	err       error
	subs      []chan pipeline.Result
}

func (q *fakeQueue) Submit(job pipeline.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.submitted = append(q.submitted, job)
	return nil
}

func (q *fakeQueue) Subscribe() (<-chan pipeline.Result, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan pipeline.Result, 4)
	q.subs = append(q.subs, ch)
	return ch, func() {}
}

func (q *fakeQueue) emit(res pipeline.Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subs {
		ch <- res
	}
}

func (q *fakeQueue) subscribers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subs)
}

func newTestServer(t *testing.T) (*Server, *storage.Store, *fakeQueue) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	q := &fakeQueue{}
	return NewServer(":0", store, q, slog.Default()), store, q
}

func storedReport(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	require.NoError(t, store.RecordJobQueued(storage.JobRecord{ID: id, JobType: "analyze", Status: "queued", Source: "clip.mp4"}))
	require.NoError(t, store.RecordJobResult(id, "rejected", map[string]any{"score": 65}, ""))
	require.NoError(t, store.SaveReport(id, &analysis.QualityReport{
		OverallScore: 65,
		OverallLevel: "medium",
		Threshold:    70,
		Confidence:   analysis.ConfidenceHigh,
		FrameMetrics: []analysis.FrameMetrics{
			{Index: 0, Timestamp: 0, Brightness: 120, Sharpness: 40},
			{Index: 1, Timestamp: 0.5, Brightness: 125, Sharpness: 42},
		},
	}))
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAnalyzeQueuesLocalSource(t *testing.T) {
	s, _, q := newTestServer(t)
	dir := t.TempDir()

	body := `{"source": "` + dir + `", "threshold": 80}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/analyze", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp["id"], "analyze-"))

	require.Len(t, q.submitted, 1)
	job := q.submitted[0]
	assert.Equal(t, pipeline.JobAnalyze, job.Type)
	assert.Equal(t, dir, job.Source)
	assert.Equal(t, 80, job.Options["threshold"])
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	s, _, q := newTestServer(t)
	cases := map[string]string{
		"malformed":     `{`,
		"missing":       `{}`,
		"nonexistent":   `{"source": "/definitely/not/here.mp4"}`,
		"bad threshold": `{"source": "` + t.TempDir() + `", "threshold": 101}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/analyze", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, q.submitted)
}

func TestAnalyzeQueueFull(t *testing.T) {
	s, _, q := newTestServer(t)
	q.err = pipeline.ErrQueueFull
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/analyze", strings.NewReader(`{"source": "`+t.TempDir()+`"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReportEndpoints(t *testing.T) {
	s, store, _ := newTestServer(t)
	storedReport(t, store, "job-1")
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/job-1/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report analysis.QualityReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 65, report.OverallScore)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/job-1/frames", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics []analysis.FrameMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Len(t, metrics, 2)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"score":65`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "job-1")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/missing/report", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChartEndpoint(t *testing.T) {
	s, store, _ := newTestServer(t)
	storedReport(t, store, "job-2")
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/job-2/chart", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/job-2/chart?format=png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestHandoffsEndpoint(t *testing.T) {
	s, store, _ := newTestServer(t)
	require.NoError(t, store.RecordHandoff(storage.HandoffRecord{JobID: "job-3", Source: "a.mp4", OverallScore: 81}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/handoffs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []storage.HandoffRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, 81, recs[0].OverallScore)
}

func TestStreamDeliversJobEvents(t *testing.T) {
	s, _, q := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return q.subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	d := analysis.Decision{Proceed: false, Reason: "overall score 65 is below threshold 70"}
	q.emit(pipeline.Result{
		Job:      pipeline.Job{ID: "job-4", Type: pipeline.JobAnalyze, Source: "clip.mp4"},
		Report:   &analysis.QualityReport{OverallScore: 65},
		Decision: &d,
	})

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))
	var ev jobEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, "job-4", ev.ID)
	assert.Equal(t, "rejected", ev.Status)
	require.NotNil(t, ev.Score)
	assert.Equal(t, 65, *ev.Score)
}

func TestWebsocketReceivesJobEvents(t *testing.T) {
	s, _, q := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.startBackground(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// The hub registers the client asynchronously; resend until it arrives.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := make(chan jobEvent, 1)
	go func() {
		var ev jobEvent
		if err := conn.ReadJSON(&ev); err == nil {
			got <- ev
		}
	}()
	deadline := time.After(5 * time.Second)
	for {
		q.emit(pipeline.Result{Job: pipeline.Job{ID: "job-5", Type: pipeline.JobMetrics}})
		select {
		case ev := <-got:
			assert.Equal(t, "job-5", ev.ID)
			assert.Equal(t, "completed", ev.Status)
			return
		case <-deadline:
			t.Fatal("no websocket event received")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
