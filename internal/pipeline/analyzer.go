package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/loiter.report/internal/config"
	"github.com/banshee-data/loiter.report/internal/detect"
	"github.com/banshee-data/loiter.report/internal/loiter"
	"github.com/banshee-data/loiter.report/internal/timeutil"
)

// VideoOpener opens a video file as a detection source. base anchors media
// timestamps.
type VideoOpener func(path string, tuning *config.TuningConfig, base time.Time) (detect.Source, error)

// Analyzer runs one fresh session per call. It is safe for concurrent use
// as long as its observers are.
type Analyzer struct {
	Tuning    *config.TuningConfig
	Clock     timeutil.Clock
	OpenVideo VideoOpener // Optional: video files are rejected when nil
	Observers []Observer
}

// NewAnalyzer returns an Analyzer using the real clock.
func NewAnalyzer(tuning *config.TuningConfig, openVideo VideoOpener) *Analyzer {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Analyzer{
		Tuning:    tuning,
		Clock:     timeutil.RealClock{},
		OpenVideo: openVideo,
	}
}

// AnalyzeFile opens path (a replay document when it ends in .json, a video
// otherwise) and runs it to completion. name is recorded as the report
// source; the base name of path is used when it is empty. Open failures
// wrap detect.ErrSourceUnavailable.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path, name string, extra ...Observer) (loiter.Report, error) {
	if name == "" {
		name = filepath.Base(path)
	}
	base := a.clock().Now()

	var (
		src detect.Source
		err error
	)
	switch {
	case detect.IsReplayPath(path):
		src, err = detect.OpenReplayFile(path, base, a.Tuning.GetMinContourArea())
	case a.OpenVideo != nil:
		src, err = a.OpenVideo(path, a.Tuning, base)
	default:
		err = fmt.Errorf("%w: video decoding is not available", detect.ErrSourceUnavailable)
	}
	if err != nil {
		return loiter.Report{}, err
	}
	defer src.Close()

	return a.run(ctx, src, name, extra)
}

// AnalyzeReplay runs a decoded replay document.
func (a *Analyzer) AnalyzeReplay(ctx context.Context, doc detect.ReplayDocument, name string, extra ...Observer) (loiter.Report, error) {
	src := detect.NewReplaySource(doc, a.clock().Now(), a.Tuning.GetMinContourArea())
	defer src.Close()
	return a.run(ctx, src, name, extra)
}

func (a *Analyzer) run(ctx context.Context, src detect.Source, name string, extra []Observer) (loiter.Report, error) {
	session := loiter.NewSession(loiter.ConfigFromTuning(a.Tuning))
	observers := make([]Observer, 0, len(a.Observers)+len(extra))
	observers = append(observers, a.Observers...)
	observers = append(observers, extra...)

	return Run(ctx, src, session, RunConfig{
		Clock:        a.clock(),
		Source:       name,
		ROIFullFrame: a.Tuning.GetROIFullFrame(),
		Observers:    observers,
	})
}

func (a *Analyzer) clock() timeutil.Clock {
	if a.Clock == nil {
		return timeutil.RealClock{}
	}
	return a.Clock
}
