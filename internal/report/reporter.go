package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// ObservationSource is the read side of observation storage
type ObservationSource interface {
	QueryObservations(ctx context.Context, filter types.ObservationFilter) ([]*types.Observation, error)
}

// SessionSource resolves session metadata
type SessionSource interface {
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListTeacherSessions(ctx context.Context, teacherID string) ([]*types.Session, error)
}

// SessionReport is the per-session rollup
type SessionReport struct {
	SessionID    string     `json:"sessionId"`
	SessionName  string     `json:"sessionName"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	AvgScore     int        `json:"avgScore"`
	PeakScore    int        `json:"peakScore"`
	TotalRecords int        `json:"totalRecords"`
	Students     int        `json:"students"`
	Status       string     `json:"status"`

	studentIDs map[string]struct{}
}

// StudentSession is one session in a student's history
type StudentSession struct {
	SessionID    string    `json:"sessionId"`
	SessionName  string    `json:"sessionName"`
	AvgScore     int       `json:"avgScore"`
	PeakScore    int       `json:"peakScore"`
	TotalRecords int       `json:"totalRecords"`
	Date         time.Time `json:"date"`
	Status       string    `json:"status"`
}

// StudentSummary is one student across every session of a teacher
type StudentSummary struct {
	StudentAccountID string `json:"studentAccountId"`
	StudentName      string `json:"studentName"`
	AvgScore         int    `json:"avgScore"`
	PeakScore        int    `json:"peakScore"`
	TotalRecords     int    `json:"totalRecords"`
	Sessions         int    `json:"sessions"`
	Status           string `json:"status"`
}

// WeeklyBucket groups a teacher's sessions by Monday-aligned creation week
type WeeklyBucket struct {
	WeekStart time.Time `json:"weekStart"`
	Sessions  int       `json:"sessions"`
	AvgScore  int       `json:"avgScore"`
	Students  int       `json:"students"`
	Status    string    `json:"status"`
}

// Reporter computes read-only rollups by replaying stored observations
// ARCHITECTURAL DISCOVERY: Stateless per call; every report is recomputed
// from storage so it can never drift from the append-only log
type Reporter struct {
	observations ObservationSource
	sessions     SessionSource
	parallelism  int
	logger       *slog.Logger
}

// NewReporter creates a reporter; parallelism bounds per-teacher fan-out
func NewReporter(observations ObservationSource, sessions SessionSource, parallelism int, logger *slog.Logger) *Reporter {
	if parallelism <= 0 {
		parallelism = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		observations: observations,
		sessions:     sessions,
		parallelism:  parallelism,
		logger:       logger,
	}
}

// SessionReport returns average, peak and count for one session
// FUNCTIONAL DISCOVERY: Sessions unknown to the registry still report when
// observations exist; only an unknown session with no data is not found
func (r *Reporter) SessionReport(ctx context.Context, sessionID string) (*SessionReport, error) {
	session, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, interfaces.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to resolve session %s: %w", sessionID, err)
	}

	observations, err := r.observations.QueryObservations(ctx, types.ObservationFilter{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to load observations for %s: %w", sessionID, err)
	}

	if session == nil && len(observations) == 0 {
		return nil, interfaces.ErrSessionNotFound
	}

	return buildSessionReport(sessionID, session, rollup(observations)), nil
}

func buildSessionReport(sessionID string, session *types.Session, st *stats) *SessionReport {
	avg := st.average()
	rep := &SessionReport{
		SessionID:    sessionID,
		AvgScore:     avg,
		PeakScore:    st.peak,
		TotalRecords: st.count,
		Students:     len(st.students),
		Status:       sessionLabel(st.count, avg),
		studentIDs:   st.students,
	}
	if session != nil {
		rep.SessionName = session.Name
		created := session.CreatedAt
		rep.CreatedAt = &created
	}
	return rep
}

// StudentHistory groups a student's observations by session, most recent first
func (r *Reporter) StudentHistory(ctx context.Context, studentID string) ([]StudentSession, error) {
	if studentID == "" {
		return nil, ErrMissingStudent
	}

	observations, err := r.observations.QueryObservations(ctx, types.ObservationFilter{StudentAccountID: studentID})
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", studentID, err)
	}

	order, groups := groupBySession(observations)
	history := make([]StudentSession, 0, len(order))
	for _, sessionID := range order {
		st := groups[sessionID]
		name, err := r.sessionName(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		avg := st.average()
		history = append(history, StudentSession{
			SessionID:    sessionID,
			SessionName:  name,
			AvgScore:     avg,
			PeakScore:    st.peak,
			TotalRecords: st.count,
			Date:         st.earliest,
			Status:       Label(avg),
		})
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Date.After(history[j].Date)
	})
	return history, nil
}

// sessionName falls back to the id when the registry does not know the session
func (r *Reporter) sessionName(ctx context.Context, sessionID string) (string, error) {
	session, err := r.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		return sessionID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve session %s: %w", sessionID, err)
	}
	return session.Name, nil
}

// TeacherSessionReports computes a SessionReport for every session the teacher owns
func (r *Reporter) TeacherSessionReports(ctx context.Context, teacherID string) ([]*SessionReport, error) {
	if teacherID == "" {
		return nil, ErrMissingTeacher
	}

	sessions, err := r.sessions.ListTeacherSessions(ctx, teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for %s: %w", teacherID, err)
	}

	reports := make([]*SessionReport, len(sessions))
	err = r.fanOut(ctx, len(sessions), func(ctx context.Context, i int) error {
		s := sessions[i]
		observations, err := r.observations.QueryObservations(ctx, types.ObservationFilter{SessionID: s.ID})
		if err != nil {
			return fmt.Errorf("failed to load observations for %s: %w", s.ID, err)
		}
		reports[i] = buildSessionReport(s.ID, s, rollup(observations))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// TeacherStudentReports summarises every student observed in the teacher's sessions
func (r *Reporter) TeacherStudentReports(ctx context.Context, teacherID string) ([]*StudentSummary, error) {
	if teacherID == "" {
		return nil, ErrMissingTeacher
	}

	sessions, err := r.sessions.ListTeacherSessions(ctx, teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for %s: %w", teacherID, err)
	}
	if len(sessions) == 0 {
		return []*StudentSummary{}, nil
	}

	sessionIDs := make([]string, len(sessions))
	for i, s := range sessions {
		sessionIDs[i] = s.ID
	}

	all, err := r.observations.QueryObservations(ctx, types.ObservationFilter{SessionIDs: sessionIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to load observations for %s: %w", teacherID, err)
	}

	studentIDs := make([]string, 0)
	seen := make(map[string]struct{})
	for _, o := range all {
		if _, ok := seen[o.StudentAccountID]; !ok {
			seen[o.StudentAccountID] = struct{}{}
			studentIDs = append(studentIDs, o.StudentAccountID)
		}
	}
	sort.Strings(studentIDs)

	summaries := make([]*StudentSummary, len(studentIDs))
	err = r.fanOut(ctx, len(studentIDs), func(ctx context.Context, i int) error {
		observations, err := r.observations.QueryObservations(ctx, types.ObservationFilter{
			StudentAccountID: studentIDs[i],
			SessionIDs:       sessionIDs,
		})
		if err != nil {
			return fmt.Errorf("failed to load observations for %s: %w", studentIDs[i], err)
		}
		summaries[i] = buildStudentSummary(studentIDs[i], observations)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func buildStudentSummary(studentID string, observations []*types.Observation) *StudentSummary {
	st := rollup(observations)
	sessions := make(map[string]struct{})
	name := ""
	for _, o := range observations {
		sessions[o.SessionID] = struct{}{}
		if o.StudentName != "" {
			name = o.StudentName
		}
	}
	avg := st.average()
	return &StudentSummary{
		StudentAccountID: studentID,
		StudentName:      name,
		AvgScore:         avg,
		PeakScore:        st.peak,
		TotalRecords:     st.count,
		Sessions:         len(sessions),
		Status:           Label(avg),
	}
}

// WeeklyRollup buckets the teacher's sessions by creation week, oldest week first
// FUNCTIONAL DISCOVERY: The bucket average is the mean of per-session averages;
// sessions without observations are counted but do not pull the average to 0
func (r *Reporter) WeeklyRollup(ctx context.Context, teacherID string) ([]WeeklyBucket, error) {
	reports, err := r.TeacherSessionReports(ctx, teacherID)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		sessions int
		sum      int
		scored   int
		students map[string]struct{}
	}
	buckets := make(map[time.Time]*bucket)
	for _, rep := range reports {
		if rep.CreatedAt == nil {
			continue
		}
		week := weekStart(*rep.CreatedAt)
		b, ok := buckets[week]
		if !ok {
			b = &bucket{students: make(map[string]struct{})}
			buckets[week] = b
		}
		b.sessions++
		if rep.TotalRecords > 0 {
			b.sum += rep.AvgScore
			b.scored++
		}
		for id := range rep.studentIDs {
			b.students[id] = struct{}{}
		}
	}

	weeks := make([]WeeklyBucket, 0, len(buckets))
	for week, b := range buckets {
		st := &stats{sum: b.sum, count: b.scored}
		avg := st.average()
		weeks = append(weeks, WeeklyBucket{
			WeekStart: week,
			Sessions:  b.sessions,
			AvgScore:  avg,
			Students:  len(b.students),
			Status:    sessionLabel(b.scored, avg),
		})
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].WeekStart.Before(weeks[j].WeekStart) })
	return weeks, nil
}

// fanOut runs fn for each index with bounded parallelism; the first error cancels the rest
// TECHNICAL DISCOVERY: Groups share no state, each worker writes only its own slot
func (r *Reporter) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	sem := make(chan struct{}, r.parallelism)

	for i := 0; i < n && ctx.Err() == nil; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(ctx, i); err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
