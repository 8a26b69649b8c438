// Package loiter owns per-frame identity association, dwell and posture
// timing, identity lifecycle and session report aggregation.
//
// A Session is built per analysis run and is driven by a single goroutine:
// callers hand it one frame of detection boxes at a time via ProcessFrame
// and read the final Report once the frame loop stops.
// Key types: Box, Identity, Session, FrameResult, Report.
//
// No I/O is allowed in this package. Frame decoding and foreground
// extraction live in internal/detect; persistence lives in internal/db.
package loiter
