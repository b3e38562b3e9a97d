package dbaccess

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestMergeInterval(t *testing.T) {
	tests := []struct {
		name     string
		existing []Interval
		add      Interval
		expected []Interval
	}{
		{
			name:     "into empty",
			existing: nil,
			add:      Interval{10, 20},
			expected: []Interval{{10, 20}},
		},
		{
			name:     "disjoint before",
			existing: []Interval{{100, 200}},
			add:      Interval{10, 20},
			expected: []Interval{{10, 20}, {100, 200}},
		},
		{
			name:     "disjoint after",
			existing: []Interval{{10, 20}},
			add:      Interval{100, 200},
			expected: []Interval{{10, 20}, {100, 200}},
		},
		{
			name:     "overlapping",
			existing: []Interval{{10, 20}},
			add:      Interval{15, 30},
			expected: []Interval{{10, 30}},
		},
		{
			name:     "adjacent coalesces",
			existing: []Interval{{10, 20}},
			add:      Interval{21, 30},
			expected: []Interval{{10, 30}},
		},
		{
			name:     "bridges two",
			existing: []Interval{{10, 20}, {40, 50}},
			add:      Interval{15, 45},
			expected: []Interval{{10, 50}},
		},
		{
			name:     "swallows several",
			existing: []Interval{{10, 20}, {30, 40}, {50, 60}, {100, 110}},
			add:      Interval{5, 70},
			expected: []Interval{{5, 70}, {100, 110}},
		},
		{
			name:     "contained is a no-op",
			existing: []Interval{{10, 100}},
			add:      Interval{20, 30},
			expected: []Interval{{10, 100}},
		},
	}

	for _, test := range tests {
		result := mergeInterval(test.existing, test.add)
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("%s: mergeInterval got %v, expected %v",
				test.name, result, test.expected)
		}
	}
}

func TestMissingIntervals(t *testing.T) {
	tests := []struct {
		name     string
		existing []Interval
		query    Interval
		expected []Interval
	}{
		{
			name:     "nothing recorded",
			existing: nil,
			query:    Interval{10, 20},
			expected: []Interval{{10, 20}},
		},
		{
			name:     "fully covered",
			existing: []Interval{{0, 100}},
			query:    Interval{10, 20},
			expected: nil,
		},
		{
			name:     "gap in the middle",
			existing: []Interval{{0, 10}, {20, 100}},
			query:    Interval{0, 100},
			expected: []Interval{{11, 19}},
		},
		{
			name:     "uncovered tail",
			existing: []Interval{{0, 50}},
			query:    Interval{10, 100},
			expected: []Interval{{51, 100}},
		},
		{
			name:     "uncovered head",
			existing: []Interval{{50, 100}},
			query:    Interval{10, 100},
			expected: []Interval{{10, 49}},
		},
		{
			name:     "multiple gaps",
			existing: []Interval{{10, 20}, {40, 50}, {70, 80}},
			query:    Interval{0, 100},
			expected: []Interval{{0, 9}, {21, 39}, {51, 69}, {81, 100}},
		},
		{
			name:     "recorded outside the query window",
			existing: []Interval{{1000, 2000}},
			query:    Interval{0, 100},
			expected: []Interval{{0, 100}},
		},
	}

	for _, test := range tests {
		result := missingIntervals(test.existing, test.query)
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("%s: missingIntervals got %v, expected %v",
				test.name, result, test.expected)
		}
	}
}

// TestRangeComplementProperty checks that for any sequence of recorded
// intervals, the missing ranges of a query window equal the window minus the
// union of everything recorded.
func TestRangeComplementProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const universe = 300

	for iteration := 0; iteration < 200; iteration++ {
		covered := make([]bool, universe)
		var recorded []Interval
		for i := 0; i < rng.Intn(8); i++ {
			start := int64(rng.Intn(universe))
			end := start + int64(rng.Intn(universe/4))
			if end >= universe {
				end = universe - 1
			}
			recorded = mergeInterval(recorded, Interval{start, end})
			for ts := start; ts <= end; ts++ {
				covered[ts] = true
			}
		}

		// The recorded list must stay sorted and disjoint with gaps
		// between entries.
		for i := 1; i < len(recorded); i++ {
			if recorded[i].Start <= recorded[i-1].End+1 {
				t.Fatalf("iteration %d: intervals not coalesced: %v", iteration, recorded)
			}
		}

		queryStart := int64(rng.Intn(universe / 2))
		queryEnd := queryStart + int64(rng.Intn(universe/2))
		missing := missingIntervals(recorded, Interval{queryStart, queryEnd})

		inMissing := func(ts int64) bool {
			for _, interval := range missing {
				if ts >= interval.Start && ts <= interval.End {
					return true
				}
			}
			return false
		}
		for ts := queryStart; ts <= queryEnd; ts++ {
			if covered[ts] == inMissing(ts) {
				t.Fatalf("iteration %d: timestamp %d covered=%v but missing=%v (recorded %v, missing %v)",
					iteration, ts, covered[ts], inMissing(ts), recorded, missing)
			}
		}
	}
}
