package loiter

import (
	"sort"
	"time"
)

// evict removes identities that were not matched this frame and are not
// loitering. A loitering identity survives a missed detection so an active
// alert is not erased; when LoiterRetention is set it is dropped once it
// has gone unmatched for longer than that. Returns the evicted ids in
// ascending order.
func (s *Session) evict(matched map[int64]bool, now time.Time) []int64 {
	var evicted []int64
	for id, identity := range s.identities {
		if matched[id] {
			continue
		}
		if identity.Loitering && !s.retentionExpired(identity, now) {
			continue
		}
		evicted = append(evicted, id)
	}
	for _, id := range evicted {
		delete(s.identities, id)
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	return evicted
}

func (s *Session) retentionExpired(identity *Identity, now time.Time) bool {
	if s.cfg.LoiterRetention <= 0 {
		return false
	}
	return now.Sub(identity.LastMatched) > s.cfg.LoiterRetention
}
