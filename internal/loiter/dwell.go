package loiter

import "time"

// updateDwell applies one matched detection to an identity and reports
// whether the detection's centroid was inside the region of interest.
//
// Inside the region the loiter timer grows by the elapsed time while the
// centroid moves less than MovementThresholdPx and resets otherwise; the
// posture timer grows while the posture holds and restarts at the elapsed
// delta when it changes. Outside the region both timers and the loitering
// flag are cleared at once. The last position always follows the detection.
func (s *Session) updateDwell(identity *Identity, box Box, now time.Time) bool {
	centroid := box.Centroid()
	inROI := s.cfg.ROI.Contains(centroid)

	if inROI {
		elapsed := now.Sub(identity.LastUpdate).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		movement := identity.LastPosition.DistanceTo(centroid)

		if movement < s.cfg.MovementThresholdPx {
			identity.LoiterSecs += elapsed
		} else {
			identity.LoiterSecs = 0
		}

		posture := PostureFor(box, s.cfg.StandingAspectRatio)
		if posture == identity.Posture {
			identity.PostureSecs += elapsed
		} else {
			identity.Posture = posture
			identity.PostureSecs = elapsed
		}

		identity.LastUpdate = now
		identity.Loitering = identity.LoiterSecs >= s.cfg.LoiterThresholdSecs
	} else {
		identity.LoiterSecs = 0
		identity.PostureSecs = 0
		identity.Loitering = false
	}

	identity.LastPosition = centroid
	identity.LastBox = box
	identity.LastMatched = now
	return inROI
}
