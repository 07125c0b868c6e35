package backfill

import "time"

const (
	// matchWindow is how far apart two timestamps may be and still match.
	matchWindow = time.Second
	// overlapRatio is the share of a gateway log's timestamps that must match
	// a session log for the two to count as the same conversation.
	overlapRatio = 0.8
)

type fingerprint struct {
	Path       string
	Format     Format
	Timestamps []time.Time
}

func fingerprintOf(path string, format Format, msgs []Message) fingerprint {
	fp := fingerprint{Path: path, Format: format}
	for _, m := range msgs {
		if !m.Timestamp.IsZero() {
			fp.Timestamps = append(fp.Timestamps, m.Timestamp)
		}
	}
	return fp
}

// findDuplicates returns the gateway paths that repeat a session log. The
// session copy wins because it keeps the chain order.
func findDuplicates(sessions, gateways []fingerprint) map[string]bool {
	dups := make(map[string]bool)
	for _, gw := range gateways {
		if len(gw.Timestamps) == 0 {
			continue
		}
		for _, s := range sessions {
			if overlaps(s, gw) {
				dups[gw.Path] = true
				break
			}
		}
	}
	return dups
}

func overlaps(a, b fingerprint) bool {
	if len(b.Timestamps) == 0 {
		return false
	}
	matches := 0
	for _, bt := range b.Timestamps {
		for _, at := range a.Timestamps {
			d := bt.Sub(at)
			if d < 0 {
				d = -d
			}
			if d <= matchWindow {
				matches++
				break
			}
		}
	}
	return float64(matches)/float64(len(b.Timestamps)) >= overlapRatio
}
