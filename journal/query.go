package journal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics records match.
var ErrNoMetricsFound = errors.New("no metrics records found")

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Day       string
	Workflow  string
	SessionID string
}

func (f Filter) matchesSnapshot(snap *lode.DatasetSnapshot, kind string) bool {
	return snapshotMatches(snap, "record_kind", kind) &&
		snapshotMatches(snap, "day", f.Day) &&
		snapshotMatches(snap, "workflow", f.Workflow) &&
		snapshotMatches(snap, "session_id", f.SessionID)
}

func (f Filter) matchesRecord(workflow, day, sessionID string) bool {
	return (f.Day == "" || f.Day == day) &&
		(f.Workflow == "" || f.Workflow == workflow) &&
		(f.SessionID == "" || f.SessionID == sessionID)
}

// QueryOutcomes returns every outcome entry matching f, oldest first.
// Entries are deduplicated by entry_id.
func QueryOutcomes(ctx context.Context, ds lode.Dataset, f Filter) ([]OutcomeEntry, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	seen := make(map[string]struct{})
	var entries []OutcomeEntry
	for _, snap := range snapshots {
		// Manifest paths are a coarse pre-filter; record fields are authoritative.
		if !f.matchesSnapshot(snap, RecordKindOutcome) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindOutcome {
				continue
			}
			var e OutcomeEntry
			if err := decodeEntry(record, &e); err != nil {
				return nil, fmt.Errorf("decode outcome entry: %w", err)
			}
			if !f.matchesRecord(e.Workflow, e.Day, e.SessionID) {
				continue
			}
			if _, dup := seen[e.EntryID]; dup && e.EntryID != "" {
				continue
			}
			seen[e.EntryID] = struct{}{}
			entries = append(entries, e)
		}
	}

	slices.SortStableFunc(entries, func(a, b OutcomeEntry) int {
		if c := strings.Compare(a.FinishedAt, b.FinishedAt); c != 0 {
			return c
		}
		return a.Run - b.Run
	})
	return entries, nil
}

// QueryLatestMetrics returns the most recent metrics entry matching f,
// or ErrNoMetricsFound.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, f Filter) (*MetricsEntry, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	// Snapshots are ordered by creation time
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !f.matchesSnapshot(snap, RecordKindMetrics) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			var e MetricsEntry
			if err := decodeEntry(record, &e); err != nil {
				return nil, fmt.Errorf("decode metrics entry: %w", err)
			}
			if !f.matchesRecord(e.Workflow, e.Day, e.SessionID) {
				continue
			}
			return &e, nil
		}
	}
	return nil, ErrNoMetricsFound
}

// snapshotMatches reports whether any file in the snapshot sits under the
// key=value partition. An empty value matches.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// session_id=s-1 never matches session_id=s-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
