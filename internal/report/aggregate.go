package report

import (
	"math"
	"time"

	"classlens/pkg/types"
)

// stats is the per-group rollup shared by every report shape
type stats struct {
	sum      int
	count    int
	peak     int
	earliest time.Time
	students map[string]struct{}
}

func newStats() *stats {
	return &stats{students: make(map[string]struct{})}
}

func (s *stats) add(o *types.Observation) {
	if s.count == 0 || o.Score > s.peak {
		s.peak = o.Score
	}
	if s.count == 0 || o.ObservedAt.Before(s.earliest) {
		s.earliest = o.ObservedAt
	}
	s.sum += o.Score
	s.count++
	s.students[o.StudentAccountID] = struct{}{}
}

// average rounds half away from zero; zero observations average to 0
func (s *stats) average() int {
	if s.count == 0 {
		return 0
	}
	return int(math.Round(float64(s.sum) / float64(s.count)))
}

func rollup(observations []*types.Observation) *stats {
	st := newStats()
	for _, o := range observations {
		st.add(o)
	}
	return st
}

// groupBySession keeps first-seen session order
func groupBySession(observations []*types.Observation) ([]string, map[string]*stats) {
	order := make([]string, 0)
	groups := make(map[string]*stats)
	for _, o := range observations {
		st, ok := groups[o.SessionID]
		if !ok {
			st = newStats()
			groups[o.SessionID] = st
			order = append(order, o.SessionID)
		}
		st.add(o)
	}
	return order, groups
}

// weekStart returns the Monday 00:00 UTC that begins t's week
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
