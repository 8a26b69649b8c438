package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

// ReplayDocument is the on-disk and over-the-wire format for pre-extracted
// detections:
//
//	{"width": 1280, "height": 720,
//	 "frames": [{"t": 0.0, "boxes": [[x, y, w, h], ...]}, ...]}
//
// "t" is optional seconds from the start of the clip, but a document either
// stamps every frame or none. When every frame omits it the consumer stamps
// frames with arrival time. Box width and height must not be negative.
type ReplayDocument struct {
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Frames []ReplayFrame `json:"frames"`
}

// ReplayFrame is one frame of a ReplayDocument.
type ReplayFrame struct {
	T     *float64 `json:"t,omitempty"`
	Boxes [][]int  `json:"boxes"`
}

// ReplaySource replays a ReplayDocument.
type ReplaySource struct {
	doc     ReplayDocument
	base    time.Time
	minArea float64
	next    int
}

// NewReplaySource wraps an already decoded document. Media timestamps are
// offsets from base. Boxes below minArea are dropped.
func NewReplaySource(doc ReplayDocument, base time.Time, minArea float64) *ReplaySource {
	return &ReplaySource{doc: doc, base: base, minArea: minArea}
}

// DecodeReplay reads a ReplayDocument from r.
func DecodeReplay(r io.Reader) (ReplayDocument, error) {
	var doc ReplayDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return ReplayDocument{}, fmt.Errorf("decode replay: %w", err)
	}
	if doc.Width < 0 || doc.Height < 0 {
		return ReplayDocument{}, fmt.Errorf("decode replay: negative resolution %dx%d", doc.Width, doc.Height)
	}
	stamped := 0
	for i, f := range doc.Frames {
		if f.T != nil {
			stamped++
		}
		for _, b := range f.Boxes {
			if len(b) != 4 {
				return ReplayDocument{}, fmt.Errorf("decode replay: frame %d: box must be [x, y, w, h], got %d values", i, len(b))
			}
			if b[2] < 0 || b[3] < 0 {
				return ReplayDocument{}, fmt.Errorf("decode replay: frame %d: negative box size %dx%d", i, b[2], b[3])
			}
		}
	}
	if stamped != 0 && stamped != len(doc.Frames) {
		return ReplayDocument{}, fmt.Errorf("decode replay: %d of %d frames carry \"t\"; stamp every frame or none", stamped, len(doc.Frames))
	}
	return doc, nil
}

// OpenReplayFile opens a replay document from disk. Any failure to open
// or parse the file is reported as ErrSourceUnavailable.
func OpenReplayFile(path string, base time.Time, minArea float64) (*ReplaySource, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer f.Close()

	doc, err := DecodeReplay(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return NewReplaySource(doc, base, minArea), nil
}

// IsReplayPath reports whether path looks like a replay document.
func IsReplayPath(path string) bool {
	return filepath.Ext(path) == ".json"
}

// Next returns the next frame or io.EOF.
func (s *ReplaySource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.doc.Frames) {
		return Frame{}, io.EOF
	}

	rf := s.doc.Frames[s.next]
	boxes := make([]loiter.Box, 0, len(rf.Boxes))
	for _, b := range rf.Boxes {
		boxes = append(boxes, loiter.Box{X: b[0], Y: b[1], Width: b[2], Height: b[3]})
	}

	frame := Frame{
		Index: s.next,
		Boxes: FilterBoxes(boxes, s.minArea),
	}
	if rf.T != nil {
		frame.Timestamp = s.base.Add(time.Duration(*rf.T * float64(time.Second)))
	}
	s.next++
	return frame, nil
}

// Resolution returns the document's frame size.
func (s *ReplaySource) Resolution() (int, int) {
	return s.doc.Width, s.doc.Height
}

// Close is a no-op.
func (s *ReplaySource) Close() error {
	return nil
}
