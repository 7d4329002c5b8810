package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"doorcal/internal/model"
)

func iv(status model.DoorStatus, date string, startH, startM, endH, endM int) model.Interval {
	return model.Interval{Status: status, Start: at(date, startH, startM), End: at(date, endH, endM)}
}

const d1 = "2025-03-10"

func TestMergeEmpty(t *testing.T) {
	assert.Empty(t, Merge(nil))
	assert.NotNil(t, Merge(nil))
}

func TestMergeResolvesOverlaps(t *testing.T) {
	tests := []struct {
		name string
		in   []model.Interval
		want []model.Interval
	}{
		{
			name: "already canonical list is unchanged",
			in: []model.Interval{
				iv(model.StatusLocked, d1, 8, 0, 9, 0),
				iv(model.StatusUnlocked, d1, 9, 0, 12, 0),
				iv(model.StatusCardAndCode, d1, 13, 0, 17, 0),
			},
			want: []model.Interval{
				iv(model.StatusLocked, d1, 8, 0, 9, 0),
				iv(model.StatusUnlocked, d1, 9, 0, 12, 0),
				iv(model.StatusCardAndCode, d1, 13, 0, 17, 0),
			},
		},
		{
			name: "unsorted input is sorted",
			in: []model.Interval{
				iv(model.StatusCardAndCode, d1, 13, 0, 17, 0),
				iv(model.StatusLocked, d1, 8, 0, 9, 0),
			},
			want: []model.Interval{
				iv(model.StatusLocked, d1, 8, 0, 9, 0),
				iv(model.StatusCardAndCode, d1, 13, 0, 17, 0),
			},
		},
		{
			name: "earlier higher priority interval is truncated at the later start",
			in: []model.Interval{
				iv(model.StatusLocked, d1, 9, 0, 12, 0),
				iv(model.StatusUnlocked, d1, 11, 0, 13, 0),
			},
			want: []model.Interval{
				iv(model.StatusLocked, d1, 9, 0, 11, 0),
				iv(model.StatusUnlocked, d1, 11, 0, 13, 0),
			},
		},
		{
			name: "earlier lower priority interval pushes the later start back",
			in: []model.Interval{
				iv(model.StatusUnlocked, d1, 9, 0, 12, 0),
				iv(model.StatusLocked, d1, 11, 0, 13, 0),
			},
			want: []model.Interval{
				iv(model.StatusUnlocked, d1, 9, 0, 12, 0),
				iv(model.StatusLocked, d1, 12, 0, 13, 0),
			},
		},
		{
			name: "higher priority container is split around the contained interval",
			in: []model.Interval{
				iv(model.StatusLocked, d1, 9, 0, 17, 0),
				iv(model.StatusUnlocked, d1, 11, 0, 12, 0),
			},
			want: []model.Interval{
				iv(model.StatusLocked, d1, 9, 0, 11, 0),
				iv(model.StatusUnlocked, d1, 11, 0, 12, 0),
				iv(model.StatusLocked, d1, 12, 0, 17, 0),
			},
		},
		{
			name: "lower priority container absorbs the contained interval",
			in: []model.Interval{
				iv(model.StatusUnlocked, d1, 9, 0, 17, 0),
				iv(model.StatusLocked, d1, 11, 0, 12, 0),
			},
			want: []model.Interval{
				iv(model.StatusUnlocked, d1, 9, 0, 17, 0),
			},
		},
		{
			name: "equal priority keeps the earlier interval",
			in: []model.Interval{
				iv(model.StatusCardAndCode, d1, 9, 0, 12, 0),
				iv(model.StatusCardAndCode, d1, 11, 0, 14, 0),
			},
			want: []model.Interval{
				iv(model.StatusCardAndCode, d1, 9, 0, 12, 0),
				iv(model.StatusCardAndCode, d1, 12, 0, 14, 0),
			},
		},
		{
			name: "equal priority contained interval is dropped",
			in: []model.Interval{
				iv(model.StatusAccessControlled, d1, 9, 0, 17, 0),
				iv(model.StatusAccessControlled, d1, 10, 0, 17, 0),
			},
			want: []model.Interval{
				iv(model.StatusAccessControlled, d1, 9, 0, 17, 0),
			},
		},
		{
			name: "same start leaves no empty head",
			in: []model.Interval{
				iv(model.StatusLocked, d1, 9, 0, 12, 0),
				iv(model.StatusUnlocked, d1, 9, 0, 10, 0),
			},
			want: []model.Interval{
				iv(model.StatusUnlocked, d1, 9, 0, 10, 0),
				iv(model.StatusLocked, d1, 10, 0, 12, 0),
			},
		},
		{
			name: "same end leaves no empty tail",
			in: []model.Interval{
				iv(model.StatusLocked, d1, 9, 0, 12, 0),
				iv(model.StatusUnlocked, d1, 10, 0, 12, 0),
			},
			want: []model.Interval{
				iv(model.StatusLocked, d1, 9, 0, 10, 0),
				iv(model.StatusUnlocked, d1, 10, 0, 12, 0),
			},
		},
		{
			name: "touching intervals do not overlap",
			in: []model.Interval{
				iv(model.StatusUnlocked, d1, 9, 0, 12, 0),
				iv(model.StatusUnlocked, d1, 12, 0, 13, 0),
			},
			want: []model.Interval{
				iv(model.StatusUnlocked, d1, 9, 0, 12, 0),
				iv(model.StatusUnlocked, d1, 12, 0, 13, 0),
			},
		},
		{
			name: "remainder keeps resolving against later intervals",
			in: []model.Interval{
				iv(model.StatusLocked, d1, 8, 0, 18, 0),
				iv(model.StatusUnlocked, d1, 10, 0, 11, 0),
				iv(model.StatusCardAndCode, d1, 12, 0, 13, 0),
			},
			want: []model.Interval{
				iv(model.StatusLocked, d1, 8, 0, 10, 0),
				iv(model.StatusUnlocked, d1, 10, 0, 11, 0),
				iv(model.StatusLocked, d1, 11, 0, 12, 0),
				iv(model.StatusCardAndCode, d1, 12, 0, 13, 0),
				iv(model.StatusLocked, d1, 13, 0, 18, 0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.in)
			assert.Equal(t, tt.want, got)
			assertCanonical(t, got)
		})
	}
}

// The earlier interval is only carved when it has the higher priority, so an
// unlocked day does not split around a locked hour it contains.
func TestMergeContainedLockedHourInsideUnlockedDay(t *testing.T) {
	day := iv(model.StatusUnlocked, d1, 9, 0, 17, 0)
	lockedHour := iv(model.StatusLocked, d1, 11, 0, 12, 0)

	got := Merge([]model.Interval{day, lockedHour})
	assert.Equal(t, []model.Interval{day}, got)
	assert.NotContains(t, got, lockedHour)
}

func TestMergeDoesNotDetectOverlapAcrossMidnight(t *testing.T) {
	// The earlier interval ends on the next date, so it is not compared
	// against an interval starting the evening before.
	evening := model.Interval{
		Status: model.StatusUnlocked,
		Start:  at("2025-03-10", 20, 0),
		End:    at("2025-03-11", 0, 30),
	}
	late := iv(model.StatusLocked, "2025-03-10", 23, 0, 23, 45)

	got := Merge([]model.Interval{evening, late})
	assert.Equal(t, []model.Interval{evening, late}, got)
}

func TestMergeLeavesInputUntouched(t *testing.T) {
	in := []model.Interval{
		iv(model.StatusLocked, d1, 9, 0, 12, 0),
		iv(model.StatusUnlocked, d1, 11, 0, 13, 0),
	}
	snapshot := append([]model.Interval(nil), in...)

	_ = Merge(in)
	assert.Equal(t, snapshot, in)
}

func TestMergeIsIdempotent(t *testing.T) {
	in := []model.Interval{
		iv(model.StatusUnlocked, d1, 7, 0, 19, 0),
		iv(model.StatusLocked, d1, 12, 0, 13, 0),
		iv(model.StatusCardAndCode, d1, 18, 0, 21, 0),
		iv(model.StatusAccessControlled, "2025-03-11", 9, 0, 10, 0),
	}

	once := Merge(in)
	assert.Equal(t, once, Merge(once))
}

func TestMergeDoors(t *testing.T) {
	doors := map[string]*model.Door{
		"d-1": {ID: "d-1", Name: "Front", ExplodedExceptions: []model.Interval{
			iv(model.StatusLocked, d1, 9, 0, 17, 0),
			iv(model.StatusUnlocked, d1, 11, 0, 12, 0),
		}},
		"d-2": {ID: "d-2", Name: "Back"},
	}

	MergeDoors(doors)
	assert.Len(t, doors["d-1"].ExplodedExceptions, 3)
	assert.Empty(t, doors["d-2"].ExplodedExceptions)
}

func assertCanonical(t *testing.T, ivs []model.Interval) {
	t.Helper()
	for i, cur := range ivs {
		assert.True(t, cur.Start.Before(cur.End), "interval %d is empty: %s", i, cur)
		if i == 0 {
			continue
		}
		prev := ivs[i-1]
		assert.False(t, cur.Start.Before(prev.Start), "interval %d is out of order", i)
		if model.SameDate(prev.End, cur.Start) {
			assert.False(t, cur.Start.Before(prev.End), "interval %d overlaps its predecessor", i)
		}
	}
}
