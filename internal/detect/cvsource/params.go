// Package cvsource reads a video file with OpenCV and turns each frame into
// foreground bounding boxes using MOG2 background subtraction.
//
// OpenCV is linked by default. Build with -tags=nocv to drop it; OpenVideo
// then reports every file as detect.ErrSourceUnavailable.
package cvsource

import (
	"github.com/banshee-data/loiter.report/internal/config"
)

// DetectorParams configures the foreground detector.
type DetectorParams struct {
	History           int
	VarThreshold      float64
	DetectShadows     bool
	BinaryThreshold   float32
	DilateKernelPx    int
	DilateIterations  int
	MinContourArea    float64
	UseMediaTimestamp bool
}

// ParamsFromTuning maps the tuning file onto DetectorParams.
func ParamsFromTuning(cfg *config.TuningConfig) DetectorParams {
	return DetectorParams{
		History:           cfg.GetBgHistory(),
		VarThreshold:      cfg.GetBgVarThreshold(),
		DetectShadows:     cfg.GetBgDetectShadows(),
		BinaryThreshold:   float32(cfg.GetFgBinaryThreshold()),
		DilateKernelPx:    cfg.GetDilateKernelPx(),
		DilateIterations:  cfg.GetDilateIterations(),
		MinContourArea:    cfg.GetMinContourArea(),
		UseMediaTimestamp: cfg.GetTimeSource() == config.TimeSourceMedia,
	}
}
