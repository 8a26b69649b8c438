// Package detect defines the frame/detection source contract consumed by
// the loitering pipeline and a replay source for pre-extracted detections.
package detect

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

// ErrSourceUnavailable is returned when a source cannot be opened or read.
// It is fatal to the session; callers report it upward and do not retry.
var ErrSourceUnavailable = errors.New("detection source unavailable")

// Frame is one frame worth of foreground detections.
type Frame struct {
	Index int
	// Timestamp is the source's own timestamp for the frame. It is zero
	// when the source has none and the caller should stamp arrival time.
	Timestamp time.Time
	Boxes     []loiter.Box
}

// Source yields frames in order. Next returns io.EOF after the last frame.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Resolution() (width, height int)
	Close() error
}

// FilterBoxes drops boxes whose area is below minArea. It filters in place
// and preserves emission order.
func FilterBoxes(boxes []loiter.Box, minArea float64) []loiter.Box {
	out := boxes[:0]
	for _, b := range boxes {
		if float64(b.Area()) < minArea {
			continue
		}
		out = append(out, b)
	}
	return out
}
