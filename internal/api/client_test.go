package api

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/loiter.report/internal/detect"
	"github.com/banshee-data/loiter.report/internal/httputil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestClient_ReplayAgainstServer(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	path := writeFile(t, "platform 3.json", loiteringReplay)
	report, err := NewClient(ts.URL+"/", nil).AnalyzeFile(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, report.LoiteringDetected)
	assert.Equal(t, "platform 3.json", report.Source)
	assert.NotEmpty(t, report.SessionID)
}

func TestClient_VideoUpload(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, `{"session_id": "abc", "loitering_detected": true, "report": []}`)
	path := writeFile(t, "clip.mp4", "video bytes")

	report, err := NewClient("http://loiterd:8000", mock).AnalyzeFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "abc", report.SessionID)

	require.Equal(t, 1, mock.RequestCount())
	req, body := mock.Request(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://loiterd:8000/analyze", req.URL.String())

	mr := multipart.NewReader(strings.NewReader(string(body)), boundary(t, req))
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "video", part.FormName())
	assert.Equal(t, "clip.mp4", part.FileName())
}

func boundary(t *testing.T, req *http.Request) string {
	t.Helper()
	ct := req.Header.Get("Content-Type")
	_, b, ok := strings.Cut(ct, "boundary=")
	require.True(t, ok, ct)
	return b
}

func TestClient_ServerError(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusInternalServerError, `{"error": "detection source unavailable: cannot open"}`)
	path := writeFile(t, "clip.mp4", "x")

	_, err := NewClient("http://loiterd", mock).AnalyzeFile(context.Background(), path)
	var se *httputil.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, err.Error(), "cannot open")
}

func TestClient_TransportError(t *testing.T) {
	mock := httputil.NewMockClient().AddError(errors.New("connection refused"))
	path := writeFile(t, "capture.json", emptyReplay)

	_, err := NewClient("http://loiterd", mock).AnalyzeFile(context.Background(), path)
	assert.ErrorContains(t, err, "connection refused")

	req, _ := mock.Request(0)
	assert.Equal(t, "/analyze/detections", req.URL.Path)
	assert.Equal(t, "capture.json", req.URL.Query().Get("source"))
}

func TestClient_MissingFile(t *testing.T) {
	mock := httputil.NewMockClient()
	_, err := NewClient("http://loiterd", mock).AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	assert.ErrorIs(t, err, detect.ErrSourceUnavailable)
	assert.Zero(t, mock.RequestCount())
}
