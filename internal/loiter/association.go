package loiter

import (
	"math"
	"sort"
	"time"
)

// assignment pairs a detection with the identity it was matched to.
type assignment struct {
	identity *Identity
	box      Box
	created  bool
}

// associate matches detections to identities with greedy per-detection
// nearest-neighbour gating. Detections are processed in emission order.
// Each identity can be claimed at most once per frame: once matched (or
// freshly created) it leaves the candidate pool. Ties on distance go to
// the lowest id.
//
// Detections with no free identity strictly inside MatchGatePx get a new
// identity seeded with the detection's centroid, posture and timestamp.
func (s *Session) associate(boxes []Box, now time.Time) []assignment {
	candidates := make([]int64, 0, len(s.identities))
	for id := range s.identities {
		candidates = append(candidates, id)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	consumed := make(map[int64]bool, len(boxes))
	out := make([]assignment, 0, len(boxes))

	for _, box := range boxes {
		centroid := box.Centroid()

		bestID := int64(-1)
		bestDist := math.Inf(1)
		for _, id := range candidates {
			if consumed[id] {
				continue
			}
			dist := s.identities[id].LastPosition.DistanceTo(centroid)
			if dist < s.cfg.MatchGatePx && dist < bestDist {
				bestDist = dist
				bestID = id
			}
		}

		if bestID >= 0 {
			consumed[bestID] = true
			out = append(out, assignment{identity: s.identities[bestID], box: box})
			continue
		}

		identity := s.newIdentity(box, now)
		consumed[identity.ID] = true
		out = append(out, assignment{identity: identity, box: box, created: true})
	}

	return out
}

// newIdentity allocates the next id. Ids are never reused within a session.
func (s *Session) newIdentity(box Box, now time.Time) *Identity {
	identity := &Identity{
		ID:           s.nextID,
		LastPosition: box.Centroid(),
		LastBox:      box,
		Posture:      PostureFor(box, s.cfg.StandingAspectRatio),
		LastUpdate:   now,
		LastMatched:  now,
	}
	s.nextID++
	s.identities[identity.ID] = identity
	s.created++
	return identity
}
