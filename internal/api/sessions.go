package api

import (
	"bytes"
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/banshee-data/loiter.report/internal/db"
	"github.com/banshee-data/loiter.report/internal/httputil"
	"github.com/banshee-data/loiter.report/internal/loiter"
	"github.com/banshee-data/loiter.report/internal/render"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return false
	}
	return true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	limit, err := httputil.QueryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sessions, err := db.NewSessionStore(s.db.DB).List(limit)
	if err != nil {
		log.Printf("list sessions: %v", err)
		httputil.InternalServerError(w, "failed to list sessions")
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

// loadReport writes the error response itself and returns nil when the
// session cannot be served.
func (s *Server) loadReport(w http.ResponseWriter, r *http.Request) *loiter.Report {
	if !s.requireDB(w) {
		return nil
	}
	id := r.PathValue("id")
	report, err := db.NewSessionStore(s.db.DB).Get(id)
	if errors.Is(err, sql.ErrNoRows) {
		httputil.NotFound(w, "session not found")
		return nil
	}
	if err != nil {
		log.Printf("get session %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load session")
		return nil
	}
	return report
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if report := s.loadReport(w, r); report != nil {
		httputil.WriteJSONOK(w, report)
	}
}

func (s *Server) sessionChart(w http.ResponseWriter, r *http.Request) {
	report := s.loadReport(w, r)
	if report == nil {
		return
	}
	html, err := render.DwellChartHTML(report)
	if err != nil {
		log.Printf("chart %s: %v", report.SessionID, err)
		httputil.InternalServerError(w, "failed to render chart")
		return
	}
	httputil.WriteFile(w, "text/html; charset=utf-8", "", html)
}

func (s *Server) sessionPlot(w http.ResponseWriter, r *http.Request) {
	report := s.loadReport(w, r)
	if report == nil {
		return
	}
	var buf bytes.Buffer
	if err := render.DwellPlotPNG(&buf, report); err != nil {
		log.Printf("plot %s: %v", report.SessionID, err)
		httputil.InternalServerError(w, "failed to render plot")
		return
	}
	httputil.WriteFile(w, "image/png", "", buf.Bytes())
}

func (s *Server) sessionWorkbook(w http.ResponseWriter, r *http.Request) {
	report := s.loadReport(w, r)
	if report == nil {
		return
	}
	data, err := render.ReportWorkbook(report)
	if err != nil {
		log.Printf("workbook %s: %v", report.SessionID, err)
		httputil.InternalServerError(w, "failed to build workbook")
		return
	}
	httputil.WriteFile(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"loiter-"+report.SessionID+".xlsx", data)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	limit, err := httputil.QueryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	onlyLoitering := r.URL.Query().Get("loitering") == "true"
	alerts, err := db.NewAlertStore(s.db.DB).List(limit, onlyLoitering)
	if err != nil {
		log.Printf("list alerts: %v", err)
		httputil.InternalServerError(w, "failed to list alerts")
		return
	}
	httputil.WriteJSONOK(w, alerts)
}
