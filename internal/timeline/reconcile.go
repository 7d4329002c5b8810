package timeline

import (
	"sort"

	"doorcal/internal/model"
)

// Reconcile computes what must be deleted from and added to the external
// calendar so that it matches desired. Both maps are keyed by door name and
// are not modified. Events match an interval only on exact status, start and
// end; each event matches at most once.
func Reconcile(desired map[string][]model.Interval, actual map[string][]model.ExternalEvent) model.Changeset {
	cs := model.Changeset{
		ToDelete: []model.ExternalEvent{},
		ToAdd:    []model.Addition{},
	}

	for _, name := range sortedKeys(actual) {
		if _, ok := desired[name]; !ok {
			cs.ToDelete = append(cs.ToDelete, actual[name]...)
		}
	}

	for _, name := range sortedKeys(desired) {
		intervals := desired[name]

		events, ok := actual[name]
		if !ok {
			for _, iv := range intervals {
				cs.ToAdd = append(cs.ToAdd, model.Addition{DoorName: name, Interval: iv})
			}
			continue
		}

		remaining := make([]model.ExternalEvent, len(events))
		copy(remaining, events)
		sort.SliceStable(remaining, func(i, j int) bool {
			return remaining[i].Start.Before(remaining[j].Start)
		})

		for _, iv := range intervals {
			if i := findEvent(remaining, iv); i >= 0 {
				remaining = append(remaining[:i], remaining[i+1:]...)
				continue
			}
			cs.ToAdd = append(cs.ToAdd, model.Addition{DoorName: name, Interval: iv})
		}

		cs.ToDelete = append(cs.ToDelete, remaining...)
	}

	return cs
}

// findEvent returns the index of the first event equal to iv, or -1. events
// is sorted by start, so the scan stops at the first later start.
func findEvent(events []model.ExternalEvent, iv model.Interval) int {
	for i, ev := range events {
		if ev.Start.After(iv.Start) {
			break
		}
		if ev.Status == string(iv.Status) && ev.Start.Equal(iv.Start) && ev.End.Equal(iv.End) {
			return i
		}
	}
	return -1
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
