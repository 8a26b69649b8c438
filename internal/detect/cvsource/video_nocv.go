//go:build nocv

package cvsource

import (
	"fmt"
	"time"

	"github.com/banshee-data/loiter.report/internal/config"
	"github.com/banshee-data/loiter.report/internal/detect"
)

// OpenVideo is a stub used when OpenCV support is disabled.
// Build without -tags=nocv to enable video decoding.
func OpenVideo(path string, tuning *config.TuningConfig, base time.Time) (detect.Source, error) {
	return nil, fmt.Errorf("%w: open %s: video support not enabled: rebuild without -tags=nocv", detect.ErrSourceUnavailable, path)
}
