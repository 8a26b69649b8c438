//go:build !nocv

package cvsource

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/loiter.report/internal/config"
	"github.com/banshee-data/loiter.report/internal/detect"
	"github.com/banshee-data/loiter.report/internal/loiter"
)

// VideoSource implements detect.Source over a gocv.VideoCapture.
type VideoSource struct {
	params DetectorParams
	base   time.Time

	capture *gocv.VideoCapture
	mog2    gocv.BackgroundSubtractorMOG2
	kernel  gocv.Mat
	frame   gocv.Mat
	gray    gocv.Mat
	mask    gocv.Mat

	width, height int
	index         int
}

// Open opens path and prepares the detector. Failure to open the file or a
// file with no decodable stream yields detect.ErrSourceUnavailable. base
// anchors media timestamps when UseMediaTimestamp is set.
func Open(path string, params DetectorParams, base time.Time) (*VideoSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", detect.ErrSourceUnavailable, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: open %s: not a readable video", detect.ErrSourceUnavailable, path)
	}

	kernelPx := params.DilateKernelPx
	if kernelPx < 1 {
		kernelPx = 1
	}

	return &VideoSource{
		params:  params,
		base:    base,
		capture: capture,
		mog2:    gocv.NewBackgroundSubtractorMOG2WithParams(params.History, params.VarThreshold, params.DetectShadows),
		kernel:  gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelPx, kernelPx)),
		frame:   gocv.NewMat(),
		gray:    gocv.NewMat(),
		mask:    gocv.NewMat(),
		width:   int(capture.Get(gocv.VideoCaptureFrameWidth)),
		height:  int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// Resolution returns the frame size reported by the decoder.
func (s *VideoSource) Resolution() (int, int) {
	return s.width, s.height
}

// Next decodes the next frame and returns its foreground boxes. It returns
// io.EOF once the decoder yields no more frames.
func (s *VideoSource) Next(ctx context.Context) (detect.Frame, error) {
	if err := ctx.Err(); err != nil {
		return detect.Frame{}, err
	}
	if ok := s.capture.Read(&s.frame); !ok || s.frame.Empty() {
		return detect.Frame{}, io.EOF
	}

	frame := detect.Frame{
		Index: s.index,
		Boxes: s.detect(),
	}
	if s.params.UseMediaTimestamp {
		ms := s.capture.Get(gocv.VideoCapturePosMsec)
		frame.Timestamp = s.base.Add(time.Duration(ms * float64(time.Millisecond)))
	}
	s.index++
	return frame, nil
}

// detect runs grayscale, MOG2, binary threshold, dilation and external
// contour extraction on the current frame.
func (s *VideoSource) detect() []loiter.Box {
	gocv.CvtColor(s.frame, &s.gray, gocv.ColorBGRToGray)
	s.mog2.Apply(s.gray, &s.mask)
	gocv.Threshold(s.mask, &s.mask, s.params.BinaryThreshold, 255, gocv.ThresholdBinary)
	for i := 0; i < s.params.DilateIterations; i++ {
		gocv.Dilate(s.mask, &s.mask, s.kernel)
	}

	contours := gocv.FindContours(s.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	boxes := make([]loiter.Box, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) < s.params.MinContourArea {
			continue
		}
		rect := gocv.BoundingRect(contour)
		boxes = append(boxes, loiter.Box{
			X:      rect.Min.X,
			Y:      rect.Min.Y,
			Width:  rect.Dx(),
			Height: rect.Dy(),
		})
	}
	return boxes
}

// Close releases the capture and every OpenCV buffer.
func (s *VideoSource) Close() error {
	s.mask.Close()
	s.gray.Close()
	s.frame.Close()
	s.kernel.Close()
	s.mog2.Close()
	return s.capture.Close()
}

var _ detect.Source = (*VideoSource)(nil)

// OpenVideo adapts Open to the analyzer's opener signature.
func OpenVideo(path string, tuning *config.TuningConfig, base time.Time) (detect.Source, error) {
	src, err := Open(path, ParamsFromTuning(tuning), base)
	if err != nil {
		return nil, err
	}
	return src, nil
}
