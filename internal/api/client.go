package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/loiter.report/internal/detect"
	"github.com/banshee-data/loiter.report/internal/httputil"
	"github.com/banshee-data/loiter.report/internal/loiter"
)

// Client submits analysis jobs to a running loiterd.
type Client struct {
	baseURL string
	http    httputil.Doer
}

// NewClient returns a Client for baseURL. A nil doer uses
// http.DefaultClient.
func NewClient(baseURL string, doer httputil.Doer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

// AnalyzeFile uploads path to POST /analyze, or posts it to
// POST /analyze/detections when it is a replay document.
func (c *Client) AnalyzeFile(ctx context.Context, path string) (loiter.Report, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return loiter.Report{}, fmt.Errorf("%w: %v", detect.ErrSourceUnavailable, err)
	}
	defer f.Close()

	var req *http.Request
	if detect.IsReplayPath(path) {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/analyze/detections?source="+url.QueryEscape(filepath.Base(path)), f)
		if err != nil {
			return loiter.Report{}, err
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		body, contentType, err := multipartVideo(f, filepath.Base(path))
		if err != nil {
			return loiter.Report{}, err
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", body)
		if err != nil {
			return loiter.Report{}, err
		}
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return loiter.Report{}, fmt.Errorf("submit %s: %w", filepath.Base(path), err)
	}
	var report loiter.Report
	if err := httputil.DecodeJSONResponse(resp, &report); err != nil {
		return loiter.Report{}, fmt.Errorf("submit %s: %w", filepath.Base(path), err)
	}
	return report, nil
}

func multipartVideo(r io.Reader, filename string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", fmt.Errorf("read video: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
