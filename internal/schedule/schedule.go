// Package schedule builds the repeating daily sync timetable from a
// catalogue of projects and answers "what fires next".
package schedule

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cosi-lab/syncsched/internal/catalogue"
)

const hoursPerDay = 24

// Schedule is a repeating daily timetable: lcm equal-length intervals, each
// naming the projects that fire at its boundary.
type Schedule struct {
	LCM       int
	Intervals [][]string // len == LCM, sorted project names per slot

	intervalLength time.Duration
}

// Build computes lcm, builds intervals, and verifies invariants. A failed
// verification is a programming error (the build algorithm is
// deterministic) — it is logged at error severity and the computed
// schedule is still returned so the service can proceed.
func Build(cat catalogue.Catalogue) (*Schedule, error) {
	names := cat.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("schedule: empty catalogue")
	}

	l := 1
	for _, name := range names {
		l = lcm(l, cat.Get(name).SyncsPerDay)
	}

	intervals := make([][]string, l)
	for _, name := range names {
		f := cat.Get(name).SyncsPerDay
		step := l / f
		for i := 0; i < l; i++ {
			if (i+1)%step == 0 {
				intervals[i] = append(intervals[i], name)
			}
		}
	}
	for i := range intervals {
		sort.Strings(intervals[i])
	}

	sch := &Schedule{
		LCM:            l,
		Intervals:      intervals,
		intervalLength: time.Duration(int64(time.Hour) * hoursPerDay / int64(l)),
	}

	if err := sch.verify(cat); err != nil {
		slog.Error("schedule failed verification, proceeding anyway", "error", err)
	}

	return sch, nil
}

// verify checks the schedule's invariants: exact firing counts per project,
// and catalogue closure (every scheduled name is catalogued).
func (s *Schedule) verify(cat catalogue.Catalogue) error {
	if s.LCM < 1 || len(s.Intervals) != s.LCM {
		return fmt.Errorf("schedule: lcm/interval length mismatch (lcm=%d, len=%d)", s.LCM, len(s.Intervals))
	}

	counts := make(map[string]int)
	for _, batch := range s.Intervals {
		for _, name := range batch {
			if cat.Get(name) == nil {
				return fmt.Errorf("schedule: interval references uncatalogued project %q", name)
			}
			counts[name]++
		}
	}
	for _, name := range cat.Names() {
		want := cat.Get(name).SyncsPerDay
		if counts[name] != want {
			return fmt.Errorf("schedule: project %q fires %d times, want %d", name, counts[name], want)
		}
	}
	return nil
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// NextBatch returns the next fire time strictly after now and the set of
// project names scheduled to fire at that time. now is normally time.Now()
// in UTC; callers that need determinism (tests) pass a fixed instant.
//
// Slot LCM-1 lands on the following midnight (every project's step divides
// LCM, so every project fires there), which is also the instant the next
// day's own cycle begins counting from. When LCM does not divide a day in
// nanoseconds, the truncated interval length puts that slot up to LCM-1 ns
// before midnight; only a now inside that gap leaves the scan without a
// candidate and reaches the fallback below.
func (s *Schedule) NextBatch(now time.Time) (time.Time, []string) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	candidate := midnight.Add(s.intervalLength)

	for i := 0; i < s.LCM; i++ {
		if candidate.After(now) {
			return candidate, s.Intervals[i]
		}
		candidate = candidate.Add(s.intervalLength)
	}

	// Reached only in the sub-interval truncation gap described above: fire
	// tomorrow's first slot.
	tomorrow := midnight.AddDate(0, 0, 1)
	return tomorrow.Add(s.intervalLength), s.Intervals[0]
}

// IntervalLength returns the duration of one schedule slot (24h / lcm).
func (s *Schedule) IntervalLength() time.Duration {
	return s.intervalLength
}
