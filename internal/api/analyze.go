package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/banshee-data/loiter.report/internal/detect"
	"github.com/banshee-data/loiter.report/internal/httputil"
	"github.com/banshee-data/loiter.report/internal/loiter"
	"github.com/banshee-data/loiter.report/internal/pipeline"
	"github.com/banshee-data/loiter.report/internal/security"
)

const maxDetectionsBytes = 64 << 20

// handleAnalyze accepts a multipart "video" upload, stores it under the
// upload dir for the duration of the analysis and returns the report.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		httputil.BadRequest(w, "No video file provided")
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		log.Printf("save upload %q: %v", header.Filename, err)
		httputil.InternalServerError(w, err.Error())
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("remove upload %s: %v", path, err)
		}
	}()

	report, err := s.runSession(r.Context(), func(ctx context.Context, obs ...pipeline.Observer) (loiter.Report, error) {
		return s.analyzer.AnalyzeFile(ctx, path, security.SanitizeFilename(header.Filename), obs...)
	})
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, report)
}

func (s *Server) saveUpload(src io.Reader, filename string) (string, error) {
	path, err := security.ResolveUpload(s.uploadDir, security.UploadName(filename))
	if err != nil {
		return "", err
	}
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload: %w", err)
	}
	return path, nil
}

// handleAnalyzeDetections runs a session over a replay document posted as
// the request body.
func (s *Server) handleAnalyzeDetections(w http.ResponseWriter, r *http.Request) {
	doc, err := detect.DecodeReplay(http.MaxBytesReader(w, r.Body, maxDetectionsBytes))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	name := r.URL.Query().Get("source")

	report, err := s.runSession(r.Context(), func(ctx context.Context, obs ...pipeline.Observer) (loiter.Report, error) {
		return s.analyzer.AnalyzeReplay(ctx, doc, name, obs...)
	})
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, report)
}
