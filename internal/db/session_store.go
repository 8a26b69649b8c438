package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	SessionID         string    `json:"session_id"`
	Source            string    `json:"source"`
	Resolution        string    `json:"resolution"`
	LoiteringDetected bool      `json:"loitering_detected"`
	Assessment        string    `json:"assessment"`
	TotalPerson       int       `json:"total_person"`
	Identities        int       `json:"identities"`
	FramesProcessed   int       `json:"frames_processed"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
}

// SessionStore persists end-of-session reports.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Insert stores report and its per-identity entries in one transaction.
// If report.SessionID is empty, a new UUID is generated and written back.
func (s *SessionStore) Insert(report *loiter.Report) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert session: %w", err)
	}
	defer tx.Rollback()

	if err := insertSession(tx, report); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert session: %w", err)
	}
	return nil
}

func insertSession(tx *sql.Tx, report *loiter.Report) error {
	if report.SessionID == "" {
		report.SessionID = uuid.New().String()
	}

	_, err := tx.Exec(`
		INSERT INTO loiter_sessions (
			session_id, source, resolution, threshold_sec,
			roi_x, roi_y, roi_width, roi_height,
			loitering_detected, assessment, total_person, standing_count,
			mean_max_loiter_time, frames_processed, started_at_ns, ended_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.SessionID, report.Source, report.Resolution, report.ThresholdSec,
		report.ROI[0], report.ROI[1], report.ROI[2], report.ROI[3],
		boolToInt(report.LoiteringDetected), report.Assessment, report.TotalPerson, report.StandingCount,
		report.MeanMaxLoiterTime, report.FramesProcessed, unixNanos(report.StartedAt), unixNanos(report.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO loiter_identity_reports (session_id, object_id, max_loiter_time, status)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare identity insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range report.Entries {
		if _, err := stmt.Exec(report.SessionID, e.ObjectID, e.MaxLoiterTime, e.Status); err != nil {
			return fmt.Errorf("insert identity %d: %w", e.ObjectID, err)
		}
	}
	return nil
}

// Get returns the stored report for sessionID, or sql.ErrNoRows.
func (s *SessionStore) Get(sessionID string) (*loiter.Report, error) {
	r := &loiter.Report{}
	var detected int
	var startedNs, endedNs int64

	err := s.db.QueryRow(`
		SELECT session_id, source, resolution, threshold_sec,
		       roi_x, roi_y, roi_width, roi_height,
		       loitering_detected, assessment, total_person, standing_count,
		       mean_max_loiter_time, frames_processed, started_at_ns, ended_at_ns
		FROM loiter_sessions
		WHERE session_id = ?`, sessionID,
	).Scan(
		&r.SessionID, &r.Source, &r.Resolution, &r.ThresholdSec,
		&r.ROI[0], &r.ROI[1], &r.ROI[2], &r.ROI[3],
		&detected, &r.Assessment, &r.TotalPerson, &r.StandingCount,
		&r.MeanMaxLoiterTime, &r.FramesProcessed, &startedNs, &endedNs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	r.LoiteringDetected = detected != 0
	r.StartedAt = fromUnixNanos(startedNs)
	r.EndedAt = fromUnixNanos(endedNs)

	rows, err := s.db.Query(`
		SELECT object_id, max_loiter_time, status
		FROM loiter_identity_reports
		WHERE session_id = ?
		ORDER BY object_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list identity reports: %w", err)
	}
	defer rows.Close()

	r.Entries = make([]loiter.ReportEntry, 0)
	for rows.Next() {
		var e loiter.ReportEntry
		if err := rows.Scan(&e.ObjectID, &e.MaxLoiterTime, &e.Status); err != nil {
			return nil, fmt.Errorf("scan identity report: %w", err)
		}
		r.Entries = append(r.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns the most recent sessions, newest first.
func (s *SessionStore) List(limit int) ([]*SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT s.session_id, s.source, s.resolution, s.loitering_detected,
		       s.assessment, s.total_person, s.frames_processed,
		       s.started_at_ns, s.ended_at_ns,
		       (SELECT COUNT(*) FROM loiter_identity_reports r WHERE r.session_id = s.session_id)
		FROM loiter_sessions s
		ORDER BY s.ended_at_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*SessionSummary, 0)
	for rows.Next() {
		ss := &SessionSummary{}
		var detected int
		var startedNs, endedNs int64
		if err := rows.Scan(
			&ss.SessionID, &ss.Source, &ss.Resolution, &detected,
			&ss.Assessment, &ss.TotalPerson, &ss.FramesProcessed,
			&startedNs, &endedNs, &ss.Identities,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ss.LoiteringDetected = detected != 0
		ss.StartedAt = fromUnixNanos(startedNs)
		ss.EndedAt = fromUnixNanos(endedNs)
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// RecordSession stores report and its alert document in one transaction.
// Neither row is written when either insert fails.
func (db *DB) RecordSession(report *loiter.Report) (*Alert, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin record session: %w", err)
	}
	defer tx.Rollback()

	if err := insertSession(tx, report); err != nil {
		return nil, err
	}
	alert := AlertFromReport(report)
	if err := insertAlert(tx, alert); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record session: %w", err)
	}
	return alert, nil
}
