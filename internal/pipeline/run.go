package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/banshee-data/loiter.report/internal/detect"
	"github.com/banshee-data/loiter.report/internal/loiter"
	"github.com/banshee-data/loiter.report/internal/monitoring"
	"github.com/banshee-data/loiter.report/internal/timeutil"
)

// Observer receives every FrameResult. Observers run synchronously on the
// frame loop and must not retain the result's slices.
type Observer interface {
	ObserveFrame(result loiter.FrameResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(result loiter.FrameResult)

// ObserveFrame calls f(result).
func (f ObserverFunc) ObserveFrame(result loiter.FrameResult) { f(result) }

// RunConfig holds the dependencies of a single Run.
type RunConfig struct {
	Clock     timeutil.Clock // Required: stamps frames without a source timestamp
	SessionID string         // Optional: generated when empty
	Source    string         // Informational name recorded in the report

	// ROIFullFrame replaces the session ROI with the full frame once the
	// source resolution is known.
	ROIFullFrame bool

	Observers []Observer
}

// Run applies frames from src to session until the source is exhausted or
// ctx is cancelled, then returns the session report. On cancellation the
// report covers every frame that was fully applied and the context error is
// returned alongside it. A read error other than io.EOF ends the session
// with that error; the partial report is still returned.
func Run(ctx context.Context, src detect.Source, session *loiter.Session, cfg RunConfig) (loiter.Report, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	width, height := src.Resolution()
	if cfg.ROIFullFrame && width > 0 && height > 0 {
		session.SetROI(loiter.Region{X: 0, Y: 0, Width: width, Height: height})
	}

	logf := monitoring.Prefixed("session " + shortID(sessionID))
	meta := loiter.SessionMeta{
		SessionID:   sessionID,
		Source:      cfg.Source,
		FrameWidth:  width,
		FrameHeight: height,
		StartedAt:   clock.Now(),
	}
	logf("started source=%q resolution=%s roi=%v", cfg.Source, loiter.Resolution(width, height), session.Config().ROI.Array())

	runErr := loop(ctx, src, session, clock, cfg.Observers)

	meta.EndedAt = clock.Now()
	report := session.Report(meta)
	logf("finished frames=%d identities=%d loitering=%t", report.FramesProcessed, len(report.Entries), report.LoiteringDetected)
	return report, runErr
}

func loop(ctx context.Context, src detect.Source, session *loiter.Session, clock timeutil.Clock, observers []Observer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read frame %d: %w", session.FramesProcessed(), err)
		}

		now := frame.Timestamp
		if now.IsZero() {
			now = clock.Now()
		}

		result := session.ProcessFrame(frame.Boxes, now)
		for _, o := range observers {
			o.ObserveFrame(result)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
