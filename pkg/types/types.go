package types

import (
	"encoding/json"
	"time"
)

// Participant roles. The presence channel only distinguishes teachers and students.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Session lifecycle states as written by the session registry.
const (
	SessionStatusCreated = "created"
	SessionStatusEnded   = "ended"
)

// Participant is one human in one session.
// An empty TransportID means the media layer has not announced an id yet.
type Participant struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	TransportID string `json:"transportId,omitempty"`
}

// Announced reports whether the participant can be matched to a video tile.
func (p Participant) Announced() bool {
	return p.TransportID != ""
}

// View returns the public projection sent to other clients.
func (p Participant) View() ParticipantView {
	return ParticipantView{
		TransportID: p.TransportID,
		DisplayName: p.DisplayName,
		Role:        p.Role,
	}
}

// Session represents one scheduled or instant video-class instance
// ARCHITECTURAL DISCOVERY: presence and ingestion only read ID as an opaque
// partition key, the remaining fields feed report labels and weekly bucketing
type Session struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	TeacherID string     `json:"teacherId"`
	JoinCode  string     `json:"joinCode"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Status    string     `json:"status"`
}

// IsEnded reports whether the session has been closed by its teacher.
func (s *Session) IsEnded() bool {
	return s.Status == SessionStatusEnded
}

// Observation is one scored sample of a student's attentiveness.
// Observations are immutable once appended.
type Observation struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"sessionId"`
	StudentAccountID string          `json:"studentAccountId"`
	StudentName      string          `json:"studentName"`
	Score            int             `json:"score"`
	TransportID      string          `json:"transportId,omitempty"`
	Detail           json.RawMessage `json:"detail,omitempty"`
	ObservedAt       time.Time       `json:"observedAt"`
}

// ObservationFilter selects observations for the read side.
// Empty fields are not constrained; SessionIDs matches any of the listed sessions.
type ObservationFilter struct {
	SessionID        string
	SessionIDs       []string
	StudentAccountID string
}

// Alert is a transient low-engagement warning raised from the fan-out stream.
type Alert struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	StudentAccountID string    `json:"studentAccountId"`
	DisplayName      string    `json:"displayName"`
	Score            int       `json:"score"`
	RaisedAt         time.Time `json:"raisedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// Identity is the caller resolved by the auth layer. The core trusts it as given.
type Identity struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// IsTeacher reports whether the caller holds the teacher role.
func (i Identity) IsTeacher() bool {
	return i.Role == RoleTeacher
}
