// Package pipeline drives a loitering session: it pulls frames from a
// detect.Source, stamps them, applies them to a loiter.Session and hands
// each FrameResult to the registered observers.
//
// The pipeline owns no domain logic. Association, dwell tracking and the
// report live in internal/loiter; opening video lives in
// internal/detect/cvsource and is injected through Analyzer.OpenVideo so
// this package builds without OpenCV.
package pipeline
