package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Time sources for frame timestamps.
const (
	TimeSourceWall  = "wall"  // wall-clock arrival time of each frame
	TimeSourceMedia = "media" // presentation timestamp reported by the decoder
)

// TuningConfig holds every tunable parameter of the loitering pipeline.
// All fields are optional; the Get* accessors supply defaults so partial
// JSON files are safe.
type TuningConfig struct {
	// Loitering decision
	LoiteringTimeThresholdSecs *float64 `json:"loitering_time_threshold_secs,omitempty"`
	MovementThresholdPx        *float64 `json:"movement_threshold_px,omitempty"`
	MatchGatePx                *float64 `json:"match_gate_px,omitempty"`
	StandingAspectRatio        *float64 `json:"standing_aspect_ratio,omitempty"`
	LoiterRetention            *string  `json:"loiter_retention,omitempty"` // duration string, "" = unlimited

	// Region of interest as [x, y, width, height] in pixels.
	ROI          []int `json:"roi,omitempty"`
	ROIFullFrame *bool `json:"roi_full_frame,omitempty"`

	// Foreground detector
	MinContourArea    *float64 `json:"min_contour_area,omitempty"`
	BgHistory         *int     `json:"bg_history,omitempty"`
	BgVarThreshold    *float64 `json:"bg_var_threshold,omitempty"`
	BgDetectShadows   *bool    `json:"bg_detect_shadows,omitempty"`
	FgBinaryThreshold *float64 `json:"fg_binary_threshold,omitempty"`
	DilateKernelPx    *int     `json:"dilate_kernel_px,omitempty"`
	DilateIterations  *int     `json:"dilate_iterations,omitempty"`
	TimeSource        *string  `json:"time_source,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// LoadOrDefault loads path when it is non-empty and otherwise returns an
// empty config whose accessors yield the built-in defaults.
func LoadOrDefault(path string) (*TuningConfig, error) {
	if path == "" {
		return EmptyTuningConfig(), nil
	}
	return LoadTuningConfig(path)
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"loitering_time_threshold_secs", c.LoiteringTimeThresholdSecs},
		{"movement_threshold_px", c.MovementThresholdPx},
		{"match_gate_px", c.MatchGatePx},
		{"standing_aspect_ratio", c.StandingAspectRatio},
		{"min_contour_area", c.MinContourArea},
		{"bg_var_threshold", c.BgVarThreshold},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", f.name, *f.v)
		}
	}

	if c.FgBinaryThreshold != nil && (*c.FgBinaryThreshold < 0 || *c.FgBinaryThreshold > 255) {
		return fmt.Errorf("fg_binary_threshold must be between 0 and 255, got %f", *c.FgBinaryThreshold)
	}

	if c.ROI != nil {
		if len(c.ROI) != 4 {
			return fmt.Errorf("roi must have 4 elements [x, y, width, height], got %d", len(c.ROI))
		}
		if c.ROI[2] < 0 || c.ROI[3] < 0 {
			return fmt.Errorf("roi width and height must be non-negative, got %dx%d", c.ROI[2], c.ROI[3])
		}
	}

	if c.LoiterRetention != nil && *c.LoiterRetention != "" {
		d, err := time.ParseDuration(*c.LoiterRetention)
		if err != nil {
			return fmt.Errorf("invalid loiter_retention '%s': %w", *c.LoiterRetention, err)
		}
		if d < 0 {
			return fmt.Errorf("loiter_retention must be non-negative, got %s", d)
		}
	}

	for _, f := range []struct {
		name string
		v    *int
	}{
		{"bg_history", c.BgHistory},
		{"dilate_kernel_px", c.DilateKernelPx},
		{"dilate_iterations", c.DilateIterations},
	} {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", f.name, *f.v)
		}
	}

	if c.TimeSource != nil && *c.TimeSource != "" {
		switch *c.TimeSource {
		case TimeSourceWall, TimeSourceMedia:
		default:
			return fmt.Errorf("time_source must be %q or %q, got %q", TimeSourceWall, TimeSourceMedia, *c.TimeSource)
		}
	}

	return nil
}

// GetLoiteringTimeThresholdSecs returns the dwell time at which an identity
// is considered loitering.
func (c *TuningConfig) GetLoiteringTimeThresholdSecs() float64 {
	if c.LoiteringTimeThresholdSecs == nil {
		return 2.0
	}
	return *c.LoiteringTimeThresholdSecs
}

// GetMovementThresholdPx returns the per-frame centroid displacement below
// which an identity counts as stationary.
func (c *TuningConfig) GetMovementThresholdPx() float64 {
	if c.MovementThresholdPx == nil {
		return 45.0
	}
	return *c.MovementThresholdPx
}

// GetMatchGatePx returns the association gate radius.
func (c *TuningConfig) GetMatchGatePx() float64 {
	if c.MatchGatePx == nil {
		return 50.0
	}
	return *c.MatchGatePx
}

// GetStandingAspectRatio returns the height/width ratio above which a
// detection is classified as standing.
func (c *TuningConfig) GetStandingAspectRatio() float64 {
	if c.StandingAspectRatio == nil {
		return 1.2
	}
	return *c.StandingAspectRatio
}

// GetLoiterRetention parses LoiterRetention. Zero means a loitering
// identity is retained indefinitely while unmatched.
func (c *TuningConfig) GetLoiterRetention() time.Duration {
	if c.LoiterRetention == nil || *c.LoiterRetention == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.LoiterRetention)
	if err != nil {
		return 0
	}
	return d
}

// GetROI returns the region of interest as x, y, width, height.
func (c *TuningConfig) GetROI() (x, y, w, h int) {
	if len(c.ROI) != 4 {
		return 0, 0, 1000, 800
	}
	return c.ROI[0], c.ROI[1], c.ROI[2], c.ROI[3]
}

// GetROIFullFrame reports whether the ROI should be replaced by the full
// frame once the source resolution is known.
func (c *TuningConfig) GetROIFullFrame() bool {
	if c.ROIFullFrame == nil {
		return false
	}
	return *c.ROIFullFrame
}

// GetMinContourArea returns the minimum contour area kept by the detector.
func (c *TuningConfig) GetMinContourArea() float64 {
	if c.MinContourArea == nil {
		return 1000
	}
	return *c.MinContourArea
}

// GetBgHistory returns the MOG2 history length.
func (c *TuningConfig) GetBgHistory() int {
	if c.BgHistory == nil {
		return 1000
	}
	return *c.BgHistory
}

// GetBgVarThreshold returns the MOG2 variance threshold.
func (c *TuningConfig) GetBgVarThreshold() float64 {
	if c.BgVarThreshold == nil {
		return 12
	}
	return *c.BgVarThreshold
}

// GetBgDetectShadows returns whether MOG2 marks shadows.
func (c *TuningConfig) GetBgDetectShadows() bool {
	if c.BgDetectShadows == nil {
		return true
	}
	return *c.BgDetectShadows
}

// GetFgBinaryThreshold returns the foreground mask threshold. The default
// of 254 discards MOG2 shadow pixels (value 127).
func (c *TuningConfig) GetFgBinaryThreshold() float64 {
	if c.FgBinaryThreshold == nil {
		return 254
	}
	return *c.FgBinaryThreshold
}

// GetDilateKernelPx returns the square dilation kernel size.
func (c *TuningConfig) GetDilateKernelPx() int {
	if c.DilateKernelPx == nil {
		return 5
	}
	return *c.DilateKernelPx
}

// GetDilateIterations returns the number of dilation passes.
func (c *TuningConfig) GetDilateIterations() int {
	if c.DilateIterations == nil {
		return 2
	}
	return *c.DilateIterations
}

// GetTimeSource returns TimeSourceWall or TimeSourceMedia.
func (c *TuningConfig) GetTimeSource() string {
	if c.TimeSource == nil || *c.TimeSource == "" {
		return TimeSourceWall
	}
	return *c.TimeSource
}
