package transcript

import "time"

// MergeDelta returns entries with delta appended to the open generated entry.
// If the last entry is not generated, a new empty one is opened first, which
// starts a new generation run. The input slice is never modified.
func MergeDelta(entries []Entry, delta string, now time.Time) []Entry {
	out := make([]Entry, len(entries), len(entries)+1)
	copy(out, entries)

	if len(out) == 0 || out[len(out)-1].Role != RoleGenerated {
		out = append(out, Entry{Role: RoleGenerated, Timestamp: FormatTimestamp(now)})
	}

	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == RoleGenerated {
			out[i].Text += delta
			break
		}
	}
	return out
}

// AppendAuthored returns entries with a new author entry at the end.
// Author entries never coalesce.
func AppendAuthored(entries []Entry, text string, now time.Time) []Entry {
	out := make([]Entry, len(entries), len(entries)+1)
	copy(out, entries)
	return append(out, Entry{Text: text, Role: RoleAuthor, Timestamp: FormatTimestamp(now)})
}
