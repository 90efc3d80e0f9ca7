// Package reconcile applies the missed-sync soft delete lifecycle: a record
// absent from a sync run is counted as missed, and is marked deleted once it
// has been missed threshold times in a row. Reappearing resets it.
package reconcile

// DefaultThreshold is the number of consecutive missed syncs before a
// record is soft deleted.
const DefaultThreshold = 2

// Row is the lifecycle state of one persisted record.
type Row struct {
	Key             string
	MissedSyncCount int
	IsDeleted       bool
	LastSeenAt      string
	UpdatedAt       string
}

// Threshold normalizes a configured threshold: zero means the default and
// the result is at least 1.
func Threshold(t int) int {
	if t == 0 {
		t = DefaultThreshold
	}
	if t < 1 {
		return 1
	}
	return t
}

// Seen returns the state of a record present in the run at syncedAt.
func Seen(key, syncedAt string) Row {
	return Row{Key: key, LastSeenAt: syncedAt, UpdatedAt: syncedAt}
}

// Missed returns prev after one more absence.
func Missed(prev Row, syncedAt string, threshold int) Row {
	prev.MissedSyncCount++
	prev.IsDeleted = prev.MissedSyncCount >= Threshold(threshold)
	prev.UpdatedAt = syncedAt
	return prev
}

// Plan compares the previous rows with the keys present in this run. It
// returns the new state of every present key and of every previous row that
// is now absent, in that order.
func Plan(previous []Row, present []string, syncedAt string, threshold int) []Row {
	seen := make(map[string]bool, len(present))
	out := make([]Row, 0, len(present)+len(previous))
	for _, k := range present {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, Seen(k, syncedAt))
	}
	for _, p := range previous {
		if seen[p.Key] {
			continue
		}
		out = append(out, Missed(p, syncedAt, threshold))
	}
	return out
}
