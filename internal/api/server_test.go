package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/loiter.report/internal/alertpub"
	"github.com/banshee-data/loiter.report/internal/config"
	"github.com/banshee-data/loiter.report/internal/db"
	"github.com/banshee-data/loiter.report/internal/detect"
	"github.com/banshee-data/loiter.report/internal/loiter"
	"github.com/banshee-data/loiter.report/internal/metrics"
	"github.com/banshee-data/loiter.report/internal/pipeline"
	"github.com/banshee-data/loiter.report/internal/timeutil"
)

// loiteringReplay is a person standing still for three seconds inside the
// default region of interest.
const loiteringReplay = `{"width": 1280, "height": 720, "frames": [
	{"t": 0.0, "boxes": [[100, 100, 40, 100]]},
	{"t": 0.5, "boxes": [[101, 100, 40, 100]]},
	{"t": 1.0, "boxes": [[102, 101, 40, 100]]},
	{"t": 1.5, "boxes": [[101, 100, 40, 100]]},
	{"t": 2.0, "boxes": [[100, 100, 40, 100]]},
	{"t": 2.5, "boxes": [[101, 101, 40, 100]]},
	{"t": 3.0, "boxes": [[100, 100, 40, 100]]}
]}`

const emptyReplay = `{"width": 640, "height": 480, "frames": [{"t": 0, "boxes": []}]}`

type fakePublisher struct {
	mu   sync.Mutex
	msgs []alertpub.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg alertpub.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

type testEnv struct {
	server    *Server
	handler   http.Handler
	db        *db.DB
	metrics   *metrics.Metrics
	publisher *fakePublisher
	uploads   string
}

func newTestEnv(t *testing.T, opener pipeline.VideoOpener) *testEnv {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "loiter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	analyzer := pipeline.NewAnalyzer(config.EmptyTuningConfig(), opener)
	analyzer.Clock = timeutil.NewSteppingClock(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), 100*time.Millisecond)

	env := &testEnv{
		db:        database,
		metrics:   metrics.New(),
		publisher: &fakePublisher{},
		uploads:   t.TempDir(),
	}
	env.server = NewServer(Options{
		Analyzer:  analyzer,
		DB:        database,
		Metrics:   env.metrics,
		Publisher: env.publisher,
		UploadDir: env.uploads,
	})
	env.handler = env.server.ServeMux()
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) loiter.Report {
	t.Helper()
	var report loiter.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report), rec.Body.String())
	return report
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message": "Loitering Detection API is running."}`, rec.Body.String())

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["database"])
	assert.Contains(t, body, "version")
}

func TestAnalyzeDetections(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/analyze/detections?source=platform-3", strings.NewReader(loiteringReplay))
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decodeReport(t, rec)
	assert.True(t, report.LoiteringDetected)
	assert.Equal(t, loiter.AssessmentLoitering, report.Assessment)
	assert.Equal(t, "1280x720", report.Resolution)
	assert.Equal(t, "platform-3", report.Source)
	assert.Equal(t, 7, report.FramesProcessed)
	require.Len(t, report.Entries, 1)
	assert.InDelta(t, 3.0, report.Entries[0].MaxLoiterTime, 1e-9)
	assert.Equal(t, loiter.StatusAlert, report.Entries[0].Status)

	stored, err := db.NewSessionStore(env.db.DB).Get(report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, report.Entries, stored.Entries)

	require.Len(t, env.publisher.msgs, 1)
	msg := env.publisher.msgs[0]
	assert.Equal(t, report.SessionID, msg.SessionID)
	assert.True(t, msg.LoiteringDetected)
	assert.NotEmpty(t, msg.AlertID)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "loiter_frames_processed_total 7")
	assert.Contains(t, rec.Body.String(), "loiter_alert_frames_total 3")
	assert.Contains(t, rec.Body.String(), `loiter_sessions_total{outcome="completed"} 1`)
	assert.Contains(t, rec.Body.String(), `loiter_alerts_published_total{result="ok"} 1`)
}

func TestAnalyzeDetections_Empty(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/analyze/detections", strings.NewReader(emptyReplay)))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"report":[]`)
	report := decodeReport(t, rec)
	assert.False(t, report.LoiteringDetected)
	assert.Equal(t, loiter.AssessmentClear, report.Assessment)
}

func TestAnalyzeDetections_BadBody(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []string{
		`{"width": 10, "frames": [{"boxes": [[1, 2, 3]]}]}`,
		`not json`,
		`{"fps": 30}`,
		`{"width": 1280, "height": 720, "frames": [{"boxes": [[500, 400, -50, -60]]}]}`,
		`{"frames": [{"t": 0, "boxes": []}, {"boxes": []}]}`,
	} {
		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/analyze/detections", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "decode replay")
	}
}

func TestAnalyze_NoFile(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, multipartRequest(t, "other", "clip.mp4", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "No video file provided"}`, rec.Body.String())

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "No video file provided"}`, rec.Body.String())
}

func TestAnalyze_VideoUpload(t *testing.T) {
	var openedPath string
	var sawContent []byte
	opener := func(path string, _ *config.TuningConfig, _ time.Time) (detect.Source, error) {
		openedPath = path
		sawContent, _ = os.ReadFile(path)
		doc, err := detect.DecodeReplay(strings.NewReader(loiteringReplay))
		if err != nil {
			return nil, err
		}
		return detect.NewReplaySource(doc, time.Unix(0, 0), 1000), nil
	}
	env := newTestEnv(t, opener)

	rec := env.do(t, multipartRequest(t, "video", "../front door.mp4", []byte("fake video bytes")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decodeReport(t, rec)
	assert.True(t, report.LoiteringDetected)
	assert.Equal(t, "front_door.mp4", report.Source)

	assert.Equal(t, "fake video bytes", string(sawContent))
	canonical, err := filepath.EvalSymlinks(env.uploads)
	require.NoError(t, err)
	assert.Equal(t, canonical, filepath.Dir(openedPath))
	assert.Regexp(t, `^[0-9a-f]{32}_front_door\.mp4$`, filepath.Base(openedPath))

	entries, err := os.ReadDir(env.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries, "upload is removed after analysis")
}

func TestAnalyze_SourceUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, multipartRequest(t, "video", "clip.mp4", []byte("not decodable")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "source unavailable")

	entries, err := os.ReadDir(env.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries)

	sessions, err := db.NewSessionStore(env.db.DB).List(10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Empty(t, env.publisher.msgs)
}

func TestAnalyze_ReplayUpload(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, multipartRequest(t, "video", "capture.json", []byte(loiteringReplay)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeReport(t, rec).LoiteringDetected)
}

func TestAnalyze_TooLarge(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.maxUploadBytes = 64
	env.handler = env.server.ServeMux()

	rec := env.do(t, multipartRequest(t, "video", "clip.mp4", bytes.Repeat([]byte("x"), 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	env.publisher.err = errors.New("broker unreachable")

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/analyze/detections", strings.NewReader(loiteringReplay)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `loiter_alerts_published_total{result="error"} 1`)
}

func analyzeReplay(t *testing.T, env *testEnv, body string) loiter.Report {
	t.Helper()
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/analyze/detections", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeReport(t, rec)
}

func TestSessionsAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	first := analyzeReplay(t, env, loiteringReplay)
	second := analyzeReplay(t, env, emptyReplay)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []db.SessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 2)
	assert.Equal(t, second.SessionID, sessions[0].SessionID)
	assert.Equal(t, first.SessionID, sessions[1].SessionID)
	assert.Equal(t, 1, sessions[1].Identities)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions?limit=1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 1)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+first.SessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeReport(t, rec)
	assert.Equal(t, first.Entries, got.Entries)
	assert.True(t, got.StartedAt.Equal(first.StartedAt))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionRenderings(t *testing.T) {
	env := newTestEnv(t, nil)
	report := analyzeReplay(t, env, loiteringReplay)
	base := "/api/sessions/" + report.SessionID

	rec := env.do(t, httptest.NewRequest(http.MethodGet, base+"/chart", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")

	rec = env.do(t, httptest.NewRequest(http.MethodGet, base+"/plot.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, base+"/export.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	for _, suffix := range []string{"/chart", "/plot.png", "/export.xlsx"} {
		rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/missing"+suffix, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, suffix)
	}
}

func TestAlertsAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	loitering := analyzeReplay(t, env, loiteringReplay)
	analyzeReplay(t, env, emptyReplay)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/alerts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []db.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.Len(t, alerts, 2)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/alerts?loitering=true", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, loitering.SessionID, alerts[0].SessionID)
	assert.True(t, alerts[0].Timestamp.Equal(loitering.EndedAt))
}

func TestNoDatabase(t *testing.T) {
	s := NewServer(Options{UploadDir: t.TempDir()})
	handler := s.ServeMux()

	for _, path := range []string{"/api/sessions", "/api/sessions/abc", "/api/alerts"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analyze/detections", strings.NewReader(loiteringReplay)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodRouting(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(503), colorBoldRed)
}

func TestStart_Shutdown(t *testing.T) {
	s := NewServer(Options{UploadDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_ListenError(t *testing.T) {
	s := NewServer(Options{UploadDir: t.TempDir()})
	err := s.Start(context.Background(), "256.0.0.1:bad")
	assert.Error(t, err)
}
