package dispatch

import "time"

// recorders forwards every call to each of its members in order.
type recorders []Recorder

func (rs recorders) WriteDispatchOutcome(action, room string, succeeded bool, latency time.Duration) {
	for _, r := range rs {
		r.WriteDispatchOutcome(action, room, succeeded, latency)
	}
}

func (rs recorders) WriteDirectoryRefresh(before, after int, stale bool) {
	for _, r := range rs {
		r.WriteDirectoryRefresh(before, after, stale)
	}
}

// Recorders combines several recorders into one. Nil members are skipped;
// with no members left it returns nil, which disables recording.
func Recorders(rs ...Recorder) Recorder {
	var out recorders
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
