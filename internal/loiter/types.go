package loiter

import (
	"fmt"
	"time"

	"github.com/banshee-data/loiter.report/internal/config"
	"gonum.org/v1/gonum/floats"
)

// Posture is the coarse body classification derived from box shape.
type Posture string

const (
	PostureStanding       Posture = "STANDING"
	PostureSittingOrLying Posture = "SITTING/LYING"
)

// Point is a pixel position in frame coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DistanceTo returns the Euclidean distance between p and q in pixels.
func (p Point) DistanceTo(q Point) float64 {
	return floats.Distance(
		[]float64{float64(p.X), float64(p.Y)},
		[]float64{float64(q.X), float64(q.Y)},
		2,
	)
}

// Box is an axis-aligned detection rectangle as emitted by the foreground
// detector.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Centroid returns the box centre using integer division, matching the
// integer boxes produced by contour extraction.
func (b Box) Centroid() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// AspectRatio returns height/width, or 0 for a degenerate zero-width box.
func (b Box) AspectRatio() float64 {
	if b.Width == 0 {
		return 0
	}
	return float64(b.Height) / float64(b.Width)
}

// Area returns width*height.
func (b Box) Area() int {
	return b.Width * b.Height
}

// PostureFor classifies b: strictly taller than standingRatio is standing.
func PostureFor(b Box, standingRatio float64) Posture {
	if b.AspectRatio() > standingRatio {
		return PostureStanding
	}
	return PostureSittingOrLying
}

// Region is the rectangular region of interest.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Contains reports whether p lies strictly inside r. Points on the border
// are outside.
func (r Region) Contains(p Point) bool {
	return r.X < p.X && p.X < r.X+r.Width &&
		r.Y < p.Y && p.Y < r.Y+r.Height
}

// Array returns the region as [x, y, width, height].
func (r Region) Array() [4]int {
	return [4]int{r.X, r.Y, r.Width, r.Height}
}

// Config holds the parameters of the association and dwell state machine.
type Config struct {
	LoiterThresholdSecs float64       // Dwell seconds at which an identity is loitering
	MovementThresholdPx float64       // Per-frame displacement below which an identity is stationary
	MatchGatePx         float64       // Association gate radius (exclusive)
	StandingAspectRatio float64       // height/width above which a box is standing
	ROI                 Region        // Dwell only accrues inside this region
	LoiterRetention     time.Duration // Max unmatched time for a loitering identity; 0 = unlimited
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	x, y, w, h := cfg.GetROI()
	return Config{
		LoiterThresholdSecs: cfg.GetLoiteringTimeThresholdSecs(),
		MovementThresholdPx: cfg.GetMovementThresholdPx(),
		MatchGatePx:         cfg.GetMatchGatePx(),
		StandingAspectRatio: cfg.GetStandingAspectRatio(),
		ROI:                 Region{X: x, Y: y, Width: w, Height: h},
		LoiterRetention:     cfg.GetLoiterRetention(),
	}
}

// Identity is a tracked object with its dwell and posture timers.
type Identity struct {
	ID           int64
	LastPosition Point
	LastBox      Box
	LoiterSecs   float64
	Posture      Posture
	PostureSecs  float64
	Loitering    bool
	LastUpdate   time.Time
	LastMatched  time.Time
}

// Status returns the overlay label: "LOITERING" or "<posture>: <secs>s".
func (id *Identity) Status() string {
	if id.Loitering {
		return "LOITERING"
	}
	return fmt.Sprintf("%s: %.1fs", id.Posture, id.PostureSecs)
}
