package report

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

type fakeObservations struct {
	mu   sync.Mutex
	obs  []*types.Observation
	fail map[string]error // keyed by student or session id
}

func (f *fakeObservations) add(session, student string, score int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obs = append(f.obs, &types.Observation{
		SessionID: session, StudentAccountID: student, StudentName: "name-" + student, Score: score, ObservedAt: at,
	})
}

func (f *fakeObservations) QueryObservations(_ context.Context, filter types.ObservationFilter) ([]*types.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[filter.SessionID+filter.StudentAccountID]; err != nil {
		return nil, err
	}

	inSet := func(id string) bool {
		if len(filter.SessionIDs) == 0 {
			return true
		}
		for _, s := range filter.SessionIDs {
			if s == id {
				return true
			}
		}
		return false
	}

	var out []*types.Observation
	for _, o := range f.obs {
		if filter.SessionID != "" && o.SessionID != filter.SessionID {
			continue
		}
		if filter.StudentAccountID != "" && o.StudentAccountID != filter.StudentAccountID {
			continue
		}
		if !inSet(o.SessionID) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

type fakeSessions map[string]*types.Session

func (f fakeSessions) GetSession(_ context.Context, id string) (*types.Session, error) {
	s, ok := f[id]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s, nil
}

func (f fakeSessions) ListTeacherSessions(_ context.Context, teacherID string) ([]*types.Session, error) {
	var out []*types.Session
	for _, s := range f {
		if s.TeacherID == teacherID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var t0 = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC) // a Tuesday

func session(id, teacher string, created time.Time) *types.Session {
	return &types.Session{ID: id, Name: "Class " + id, TeacherID: teacher, CreatedAt: created, Status: types.SessionStatusCreated}
}

func TestSessionReport_SingleZeroScoreIsData(t *testing.T) {
	obs := &fakeObservations{}
	obs.add("S", "student", 0, t0)
	r := NewReporter(obs, fakeSessions{"S": session("S", "alice", t0)}, 0, nil)

	rep, err := r.SessionReport(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.AvgScore)
	assert.Equal(t, 0, rep.PeakScore)
	assert.Equal(t, 1, rep.TotalRecords)
	assert.Equal(t, StatusAtRisk, rep.Status)
}

func TestSessionReport_EmptyKnownSessionIsNoData(t *testing.T) {
	r := NewReporter(&fakeObservations{}, fakeSessions{"S": session("S", "alice", t0)}, 0, nil)

	rep, err := r.SessionReport(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.AvgScore)
	assert.Equal(t, 0, rep.PeakScore)
	assert.Equal(t, 0, rep.TotalRecords)
	assert.Equal(t, StatusNoData, rep.Status)
	assert.Equal(t, "Class S", rep.SessionName)
}

func TestSessionReport_UnknownSession(t *testing.T) {
	r := NewReporter(&fakeObservations{}, fakeSessions{}, 0, nil)
	_, err := r.SessionReport(context.Background(), "nope")
	assert.True(t, errors.Is(err, interfaces.ErrSessionNotFound))

	obs := &fakeObservations{}
	obs.add("adhoc", "bob", 60, t0)
	r = NewReporter(obs, fakeSessions{}, 0, nil)
	rep, err := r.SessionReport(context.Background(), "adhoc")
	require.NoError(t, err)
	assert.Equal(t, 60, rep.AvgScore)
	assert.Empty(t, rep.SessionName)
}

func TestSessionReport_OrderIndependentAverage(t *testing.T) {
	for _, order := range [][]int{{80, 20}, {20, 80}} {
		obs := &fakeObservations{}
		students := map[int]string{80: "A", 20: "B"}
		for i, score := range order {
			obs.add("S", students[score], score, t0.Add(time.Duration(i)*time.Second))
		}
		r := NewReporter(obs, fakeSessions{}, 0, nil)

		rep, err := r.SessionReport(context.Background(), "S")
		require.NoError(t, err)
		assert.Equal(t, 50, rep.AvgScore)
		assert.Equal(t, 80, rep.PeakScore)
		assert.Equal(t, StatusNeutral, rep.Status)
	}
}

func TestSessionAndStudentRollups_MixedStudents(t *testing.T) {
	obs := &fakeObservations{}
	obs.add("chem", "student1", 90, t0)
	obs.add("chem", "student1", 70, t0.Add(time.Minute))
	obs.add("chem", "student2", 40, t0.Add(2*time.Minute))
	r := NewReporter(obs, fakeSessions{"chem": session("chem", "alice", t0)}, 0, nil)

	history, err := r.StudentHistory(context.Background(), "student1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 80, history[0].AvgScore)
	assert.Equal(t, 90, history[0].PeakScore)
	assert.Equal(t, t0, history[0].Date)
	assert.Equal(t, "Class chem", history[0].SessionName)
	assert.Equal(t, StatusFocused, history[0].Status)

	rep, err := r.SessionReport(context.Background(), "chem")
	require.NoError(t, err)
	assert.Equal(t, 67, rep.AvgScore)
	assert.Equal(t, 90, rep.PeakScore)
	assert.Equal(t, 3, rep.TotalRecords)
	assert.Equal(t, 2, rep.Students)
}

func TestStudentHistory_MostRecentFirst(t *testing.T) {
	obs := &fakeObservations{}
	obs.add("old", "bob", 30, t0)
	obs.add("new", "bob", 60, t0.Add(48*time.Hour))
	obs.add("ghost", "bob", 90, t0.Add(24*time.Hour))
	obs.add("new", "eve", 10, t0.Add(48*time.Hour))
	r := NewReporter(obs, fakeSessions{
		"old": session("old", "alice", t0),
		"new": session("new", "alice", t0.Add(48*time.Hour)),
	}, 0, nil)

	history, err := r.StudentHistory(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"new", "ghost", "old"}, []string{history[0].SessionID, history[1].SessionID, history[2].SessionID})
	assert.Equal(t, "ghost", history[1].SessionName, "unknown sessions fall back to their id")
	assert.Equal(t, StatusAtRisk, history[2].Status)

	empty, err := r.StudentHistory(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = r.StudentHistory(context.Background(), "")
	assert.Equal(t, ErrMissingStudent, err)
}

func TestTeacherSessionReports(t *testing.T) {
	obs := &fakeObservations{}
	obs.add("a1", "bob", 90, t0)
	obs.add("a2", "bob", 40, t0)
	obs.add("z1", "bob", 10, t0)
	sessions := fakeSessions{
		"a1": session("a1", "alice", t0),
		"a2": session("a2", "alice", t0.Add(time.Hour)),
		"a3": session("a3", "alice", t0.Add(2*time.Hour)),
		"z1": session("z1", "zed", t0),
	}
	r := NewReporter(obs, sessions, 2, nil)

	reports, err := r.TeacherSessionReports(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "a3", reports[0].SessionID)
	assert.Equal(t, StatusNoData, reports[0].Status)
	assert.Equal(t, 40, reports[1].AvgScore)
	assert.Equal(t, 90, reports[2].AvgScore)

	_, err = r.TeacherSessionReports(context.Background(), "")
	assert.Equal(t, ErrMissingTeacher, err)
}

func TestTeacherSessionReports_PropagatesFailure(t *testing.T) {
	obs := &fakeObservations{fail: map[string]error{"a2": errors.New("storage down")}}
	sessions := fakeSessions{
		"a1": session("a1", "alice", t0),
		"a2": session("a2", "alice", t0.Add(time.Hour)),
	}
	r := NewReporter(obs, sessions, 1, nil)

	_, err := r.TeacherSessionReports(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage down")
}

func TestTeacherStudentReports(t *testing.T) {
	obs := &fakeObservations{}
	obs.add("a1", "bob", 90, t0)
	obs.add("a2", "bob", 70, t0)
	obs.add("a1", "eve", 30, t0)
	obs.add("other", "eve", 100, t0) // another teacher's session must not count
	sessions := fakeSessions{
		"a1":    session("a1", "alice", t0),
		"a2":    session("a2", "alice", t0),
		"other": session("other", "zed", t0),
	}
	r := NewReporter(obs, sessions, 0, nil)

	summaries, err := r.TeacherStudentReports(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "bob", summaries[0].StudentAccountID)
	assert.Equal(t, 80, summaries[0].AvgScore)
	assert.Equal(t, 2, summaries[0].Sessions)
	assert.Equal(t, StatusFocused, summaries[0].Status)

	assert.Equal(t, "eve", summaries[1].StudentAccountID)
	assert.Equal(t, 30, summaries[1].AvgScore)
	assert.Equal(t, 30, summaries[1].PeakScore)
	assert.Equal(t, "name-eve", summaries[1].StudentName)
	assert.Equal(t, StatusAtRisk, summaries[1].Status)

	none, err := r.TeacherStudentReports(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWeeklyRollup_MondayBoundary(t *testing.T) {
	tuesday := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	nextMonday := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)

	obs := &fakeObservations{}
	obs.add("tue", "bob", 80, tuesday)
	obs.add("sun", "eve", 40, sunday)
	obs.add("mon", "bob", 20, nextMonday)
	sessions := fakeSessions{
		"tue":   session("tue", "alice", tuesday),
		"sun":   session("sun", "alice", sunday),
		"mon":   session("mon", "alice", nextMonday),
		"empty": session("empty", "alice", nextMonday.Add(time.Hour)),
	}
	r := NewReporter(obs, sessions, 0, nil)

	weeks, err := r.WeeklyRollup(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, weeks, 2)

	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), weeks[0].WeekStart)
	assert.Equal(t, 2, weeks[0].Sessions)
	assert.Equal(t, 60, weeks[0].AvgScore)
	assert.Equal(t, 2, weeks[0].Students)

	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), weeks[1].WeekStart)
	assert.Equal(t, 2, weeks[1].Sessions)
	assert.Equal(t, 20, weeks[1].AvgScore, "empty sessions do not drag the average down")
	assert.Equal(t, 1, weeks[1].Students)
}

func TestWeekStart(t *testing.T) {
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	for d := 0; d < 7; d++ {
		day := monday.AddDate(0, 0, d).Add(13 * time.Hour)
		assert.Equal(t, monday, weekStart(day), "day %d", d)
	}
	assert.Equal(t, monday.AddDate(0, 0, 7), weekStart(monday.AddDate(0, 0, 7)))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, StatusFocused, Label(75))
	assert.Equal(t, StatusNeutral, Label(74))
	assert.Equal(t, StatusNeutral, Label(50))
	assert.Equal(t, StatusAtRisk, Label(49))
	assert.Equal(t, StatusAtRisk, Label(0))
	assert.Equal(t, StatusNoData, sessionLabel(0, 0))
	assert.Equal(t, StatusAtRisk, sessionLabel(1, 0))
}
