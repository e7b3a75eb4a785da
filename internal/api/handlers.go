package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"classlens/internal/auth"
	"classlens/internal/engagement"
	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

type CreateSessionRequest struct {
	Name string `json:"name"`
}

type JoinSessionRequest struct {
	Code string `json:"code"`
}

type ParticipantsResponse struct {
	SessionID    string                  `json:"sessionId"`
	Participants []types.ParticipantView `json:"participants"`
}

type AlertsResponse struct {
	SessionID string        `json:"sessionId"`
	Alerts    []types.Alert `json:"alerts"`
}

func caller(r *http.Request) (types.Identity, error) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return types.Identity{}, interfaces.ErrUnauthorized
	}
	return identity, nil
}

// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	identity, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.deps.Sessions.CreateSession(r.Context(), req.Name, identity.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GET /api/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	identity, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sessions, err := s.deps.Sessions.ListTeacherSessions(r.Context(), identity.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// POST /api/sessions/join
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	var req JoinSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	found, err := s.deps.Sessions.GetSessionByCode(r.Context(), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// POST /api/sessions/{sessionID}/end
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	identity, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ended, err := s.deps.Sessions.EndSession(r.Context(), chi.URLParam(r, "sessionID"), identity.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ended)
}

// GET /api/sessions/{sessionID}/report
func (s *Server) sessionReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Reports.SessionReport(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GET /api/sessions/{sessionID}/participants
func (s *Server) participants(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	snapshot := s.deps.Roster.Snapshot(sessionID)

	views := make([]types.ParticipantView, 0, len(snapshot))
	for _, p := range snapshot {
		views = append(views, p.View())
	}
	writeJSON(w, http.StatusOK, ParticipantsResponse{SessionID: sessionID, Participants: views})
}

// GET /api/sessions/{sessionID}/alerts
func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, AlertsResponse{SessionID: sessionID, Alerts: s.deps.Alerts.Active(sessionID)})
}

// POST /api/engagement
// FUNCTIONAL DISCOVERY: 202 because fan-out delivery is best-effort; the
// observation itself is already durable when the ack is written
func (s *Server) submitEngagement(w http.ResponseWriter, r *http.Request) {
	identity, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var sub engagement.Submission
	if err := decodeJSON(w, r, &sub); err != nil {
		s.writeError(w, r, err)
		return
	}

	ack, err := s.deps.Engagement.Submit(r.Context(), identity, sub)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// GET /api/engagement/{sessionID}
func (s *Server) listEngagement(w http.ResponseWriter, r *http.Request) {
	observations, err := s.deps.Engagement.ListSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if observations == nil {
		observations = []*types.Observation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": observations})
}

// GET /api/engagement/history
func (s *Server) studentHistory(w http.ResponseWriter, r *http.Request) {
	identity, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	history, err := s.deps.Reports.StudentHistory(r.Context(), identity.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// GET /api/teacher/sessions/report
func (s *Server) teacherSessionReports(w http.ResponseWriter, r *http.Request) {
	identity, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	reports, err := s.deps.Reports.TeacherSessionReports(r.Context(), identity.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// GET /api/teacher/students/report
func (s *Server) teacherStudentReports(w http.ResponseWriter, r *http.Request) {
	identity, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	students, err := s.deps.Reports.TeacherStudentReports(r.Context(), identity.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

// GET /api/teacher/weekly
func (s *Server) weeklyRollup(w http.ResponseWriter, r *http.Request) {
	identity, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	weeks, err := s.deps.Reports.WeeklyRollup(r.Context(), identity.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weeks)
}
