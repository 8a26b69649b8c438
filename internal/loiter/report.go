package loiter

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Report statuses and assessments.
const (
	StatusAlert  = "ALERT"
	StatusNormal = "Normal"

	AssessmentLoitering = "Suspicious activity detected (loitering)"
	AssessmentClear     = "No loitering detected"
)

// Aggregator keeps the per-identity high-water mark of the loiter timer.
// Entries are never removed, even after the identity is evicted.
type Aggregator struct {
	maxLoiter map[int64]float64
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{maxLoiter: make(map[int64]float64)}
}

// Observe records secs for id if it exceeds the current high-water mark.
func (a *Aggregator) Observe(id int64, secs float64) {
	if cur, ok := a.maxLoiter[id]; !ok || secs > cur {
		a.maxLoiter[id] = secs
	}
}

// Max returns the high-water mark for id and whether id has been seen.
func (a *Aggregator) Max(id int64) (float64, bool) {
	v, ok := a.maxLoiter[id]
	return v, ok
}

// Len returns the number of ids in the report.
func (a *Aggregator) Len() int {
	return len(a.maxLoiter)
}

// Entries returns one entry per id in ascending id order.
func (a *Aggregator) Entries(threshold float64) []ReportEntry {
	ids := make([]int64, 0, len(a.maxLoiter))
	for id := range a.maxLoiter {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make([]ReportEntry, 0, len(ids))
	for _, id := range ids {
		secs := a.maxLoiter[id]
		status := StatusNormal
		if secs >= threshold {
			status = StatusAlert
		}
		entries = append(entries, ReportEntry{ObjectID: id, MaxLoiterTime: secs, Status: status})
	}
	return entries
}

// ReportEntry is one identity's line in the final report.
type ReportEntry struct {
	ObjectID      int64   `json:"object_id"`
	MaxLoiterTime float64 `json:"max_loiter_time"`
	Status        string  `json:"status"`
}

// Report is the structured end-of-session output.
type Report struct {
	SessionID         string        `json:"session_id,omitempty"`
	Source            string        `json:"source,omitempty"`
	Resolution        string        `json:"resolution"`
	ThresholdSec      float64       `json:"threshold_sec"`
	ROI               [4]int        `json:"roi"`
	LoiteringDetected bool          `json:"loitering_detected"`
	Entries           []ReportEntry `json:"report"`
	Assessment        string        `json:"assessment"`

	// Derived read-only summaries.
	TotalPerson       int       `json:"total_person"`
	StandingCount     int       `json:"standing_count"`
	MeanMaxLoiterTime float64   `json:"mean_max_loiter_time"`
	FramesProcessed   int       `json:"frames_processed"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
}

// SessionMeta carries the informational fields of a report that the core
// does not own.
type SessionMeta struct {
	SessionID   string
	Source      string
	FrameWidth  int
	FrameHeight int
	StartedAt   time.Time
	EndedAt     time.Time
}

// Resolution formats the frame size as "WxH".
func Resolution(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}

// AssessmentFor returns the textual assessment for a verdict.
func AssessmentFor(loitering bool) string {
	if loitering {
		return AssessmentLoitering
	}
	return AssessmentClear
}

// buildReport derives the final report from the aggregator. An empty
// aggregator yields loitering_detected=false and an empty (non-nil) list.
func buildReport(agg *Aggregator, cfg Config, meta SessionMeta) Report {
	entries := agg.Entries(cfg.LoiterThresholdSecs)

	alerted := 0
	values := make([]float64, 0, len(entries))
	for _, e := range entries {
		if e.Status == StatusAlert {
			alerted++
		}
		values = append(values, e.MaxLoiterTime)
	}

	mean := 0.0
	if len(values) > 0 {
		mean = stat.Mean(values, nil)
	}

	detected := alerted > 0
	return Report{
		SessionID:         meta.SessionID,
		Source:            meta.Source,
		Resolution:        Resolution(meta.FrameWidth, meta.FrameHeight),
		ThresholdSec:      cfg.LoiterThresholdSecs,
		ROI:               cfg.ROI.Array(),
		LoiteringDetected: detected,
		Entries:           entries,
		Assessment:        AssessmentFor(detected),
		TotalPerson:       alerted,
		MeanMaxLoiterTime: mean,
		StartedAt:         meta.StartedAt,
		EndedAt:           meta.EndedAt,
	}
}
