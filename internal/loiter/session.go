package loiter

import (
	"sort"
	"time"
)

// TrackStatus is the per-identity live signal for overlays. It carries no
// state back into the session.
type TrackStatus struct {
	ID          int64   `json:"id"`
	Box         Box     `json:"box"`
	Posture     Posture `json:"posture"`
	PostureSecs float64 `json:"posture_secs"`
	LoiterSecs  float64 `json:"loiter_secs"`
	Loitering   bool    `json:"loitering"`
	Matched     bool    `json:"matched"`
	Status      string  `json:"status"`
}

// FrameResult is returned after every processed frame.
type FrameResult struct {
	Frame       int           `json:"frame"`
	Timestamp   time.Time     `json:"timestamp"`
	AlertActive bool          `json:"alert_active"`
	Tracks      []TrackStatus `json:"tracks"`
	Created     int           `json:"created"`
	Evicted     []int64       `json:"evicted,omitempty"`
}

// Session owns every piece of mutable state for one analysis run: the
// tracked identities, the id counter and the report aggregator. It is not
// safe for concurrent use; a single frame loop drives it.
type Session struct {
	cfg        Config
	identities map[int64]*Identity
	nextID     int64
	agg        *Aggregator

	frames  int
	created int
}

// NewSession creates a Session with the given configuration.
func NewSession(cfg Config) *Session {
	return &Session{
		cfg:        cfg,
		identities: make(map[int64]*Identity),
		agg:        NewAggregator(),
	}
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// SetROI replaces the region of interest. Used when the region follows the
// frame size, which is only known once the source is open.
func (s *Session) SetROI(r Region) {
	s.cfg.ROI = r
}

// ProcessFrame runs association, dwell tracking, report aggregation and
// eviction for one frame. now is the frame's arrival time.
func (s *Session) ProcessFrame(boxes []Box, now time.Time) FrameResult {
	createdBefore := s.created

	assignments := s.associate(boxes, now)

	matched := make(map[int64]bool, len(assignments))
	for _, a := range assignments {
		matched[a.identity.ID] = true
		if s.updateDwell(a.identity, a.box, now) {
			s.agg.Observe(a.identity.ID, a.identity.LoiterSecs)
		}
	}

	evicted := s.evict(matched, now)

	result := FrameResult{
		Frame:     s.frames,
		Timestamp: now,
		Tracks:    s.trackStatuses(matched),
		Created:   s.created - createdBefore,
		Evicted:   evicted,
	}
	for _, t := range result.Tracks {
		if t.Loitering {
			result.AlertActive = true
			break
		}
	}
	s.frames++
	return result
}

// AlertActive reports whether any tracked identity is currently loitering.
func (s *Session) AlertActive() bool {
	for _, identity := range s.identities {
		if identity.Loitering {
			return true
		}
	}
	return false
}

// Identity returns a copy of the tracked identity with the given id.
func (s *Session) Identity(id int64) (Identity, bool) {
	identity, ok := s.identities[id]
	if !ok {
		return Identity{}, false
	}
	return *identity, true
}

// Identities returns copies of all tracked identities in ascending id order.
func (s *Session) Identities() []Identity {
	out := make([]Identity, 0, len(s.identities))
	for _, identity := range s.identities {
		out = append(out, *identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MaxLoiter returns the report high-water mark for id.
func (s *Session) MaxLoiter(id int64) (float64, bool) {
	return s.agg.Max(id)
}

// FramesProcessed returns the number of frames applied so far.
func (s *Session) FramesProcessed() int {
	return s.frames
}

// StandingCount counts still-tracked identities whose posture is standing.
func (s *Session) StandingCount() int {
	n := 0
	for _, identity := range s.identities {
		if identity.Posture == PostureStanding {
			n++
		}
	}
	return n
}

// Report builds the end-of-session report from the current state.
func (s *Session) Report(meta SessionMeta) Report {
	r := buildReport(s.agg, s.cfg, meta)
	r.StandingCount = s.StandingCount()
	r.FramesProcessed = s.frames
	return r
}

func (s *Session) trackStatuses(matched map[int64]bool) []TrackStatus {
	identities := s.Identities()
	out := make([]TrackStatus, 0, len(identities))
	for i := range identities {
		identity := &identities[i]
		out = append(out, TrackStatus{
			ID:          identity.ID,
			Box:         identity.LastBox,
			Posture:     identity.Posture,
			PostureSecs: identity.PostureSecs,
			LoiterSecs:  identity.LoiterSecs,
			Loitering:   identity.Loitering,
			Matched:     matched[identity.ID],
			Status:      identity.Status(),
		})
	}
	return out
}
