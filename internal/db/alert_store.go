package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

// ErrAlertExists is returned when a session already has an alert document.
var ErrAlertExists = errors.New("alert already recorded for session")

// Alert is the write-once summary document emitted at session end.
type Alert struct {
	AlertID           string    `json:"alert_id"`
	SessionID         string    `json:"session_id"`
	Timestamp         time.Time `json:"timestamp"`
	LoiteringDetected bool      `json:"loitering_detected"`
	TotalPerson       int       `json:"total_person"`
	StandingCount     int       `json:"standing_count"`
}

// AlertFromReport builds the alert document for a finished session. The
// document is keyed by the session end time.
func AlertFromReport(r *loiter.Report) *Alert {
	return &Alert{
		SessionID:         r.SessionID,
		Timestamp:         r.EndedAt,
		LoiteringDetected: r.LoiteringDetected,
		TotalPerson:       r.TotalPerson,
		StandingCount:     r.StandingCount,
	}
}

// AlertStore persists alert documents.
type AlertStore struct {
	db *sql.DB
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(db *sql.DB) *AlertStore {
	return &AlertStore{db: db}
}

// Insert records a. If a.AlertID is empty, a new UUID is generated. A
// second alert for the same session returns ErrAlertExists.
func (s *AlertStore) Insert(a *Alert) error {
	return insertAlert(s.db, a)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertAlert(ex execer, a *Alert) error {
	if a.AlertID == "" {
		a.AlertID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	_, err := ex.Exec(`
		INSERT INTO loiter_alerts (
			alert_id, session_id, timestamp_ns, loitering_detected, total_person, standing_count
		) VALUES (?, ?, ?, ?, ?, ?)`,
		a.AlertID, a.SessionID, a.Timestamp.UnixNano(), boolToInt(a.LoiteringDetected),
		a.TotalPerson, a.StandingCount,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrAlertExists, a.SessionID)
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// List returns the most recent alerts, newest first. When onlyLoitering is
// set, sessions without loitering are skipped.
func (s *AlertStore) List(limit int, onlyLoitering bool) ([]*Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT alert_id, session_id, timestamp_ns, loitering_detected, total_person, standing_count
		FROM loiter_alerts`
	if onlyLoitering {
		query += ` WHERE loitering_detected = 1`
	}
	query += ` ORDER BY timestamp_ns DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*Alert, 0)
	for rows.Next() {
		a := &Alert{}
		var tsNs int64
		var detected int
		if err := rows.Scan(&a.AlertID, &a.SessionID, &tsNs, &detected, &a.TotalPerson, &a.StandingCount); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Timestamp = time.Unix(0, tsNs).UTC()
		a.LoiteringDetected = detected != 0
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
