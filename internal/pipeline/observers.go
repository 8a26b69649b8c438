package pipeline

import (
	"github.com/banshee-data/loiter.report/internal/loiter"
)

// AlertTransitions returns an observer that logs when the frame-level
// alert flag turns on or off, with the status of every loitering identity.
func AlertTransitions(logf func(format string, v ...interface{})) Observer {
	active := false
	return ObserverFunc(func(r loiter.FrameResult) {
		if r.AlertActive == active {
			return
		}
		active = r.AlertActive
		if !active {
			logf("frame %d: alert cleared", r.Frame)
			return
		}
		for _, t := range r.Tracks {
			if t.Loitering {
				logf("frame %d: ALERT object %d %s at (%d,%d) dwell=%.1fs posture=%s",
					r.Frame, t.ID, t.Status, t.Box.X, t.Box.Y, t.LoiterSecs, t.Posture)
			}
		}
	})
}

// FrameCounter counts observed frames and alert frames.
type FrameCounter struct {
	Frames      int
	AlertFrames int
	MaxTracks   int
}

// ObserveFrame implements Observer.
func (c *FrameCounter) ObserveFrame(r loiter.FrameResult) {
	c.Frames++
	if r.AlertActive {
		c.AlertFrames++
	}
	if len(r.Tracks) > c.MaxTracks {
		c.MaxTracks = len(r.Tracks)
	}
}
