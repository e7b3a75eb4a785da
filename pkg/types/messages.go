package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Presence channel message names. Inbound names are client to server.
const (
	MessageTypeJoinSession     = "join_session"
	MessageTypeSendTransportID = "send_transport_id"
	MessageTypeLeaveSession    = "leave_session"

	MessageTypeExistingParticipants = "existing_participants"
	MessageTypeParticipantUpdate    = "participant_update"
	MessageTypeParticipantLeft      = "participant_left"
	MessageTypeEngagementUpdate     = "engagement_update"
	MessageTypeError                = "error"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is what the server writes to a connection.
type OutboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// InboundMessage is implemented by every decoded client message.
// Each variant carries the session it targets.
type InboundMessage interface {
	MessageType() string
	TargetSession() string
}

// JoinSession announces the intent to enter a session's presence channel.
type JoinSession struct {
	SessionID   string `json:"sessionId" validate:"required,identifier"`
	Role        string `json:"role" validate:"omitempty,oneof=teacher student"`
	DisplayName string `json:"displayName" validate:"max=200"`
}

func (JoinSession) MessageType() string     { return MessageTypeJoinSession }
func (m JoinSession) TargetSession() string { return m.SessionID }

// SendTransportID maps the media layer's opaque id onto the sender.
type SendTransportID struct {
	SessionID   string `json:"sessionId" validate:"required,identifier"`
	TransportID string `json:"transportId" validate:"required,max=128"`
	DisplayName string `json:"displayName" validate:"max=200"`
	Role        string `json:"role" validate:"omitempty,oneof=teacher student"`
}

func (SendTransportID) MessageType() string     { return MessageTypeSendTransportID }
func (m SendTransportID) TargetSession() string { return m.SessionID }

// LeaveSession removes the sender from a session.
type LeaveSession struct {
	SessionID string `json:"sessionId" validate:"required,identifier"`
}

func (LeaveSession) MessageType() string     { return MessageTypeLeaveSession }
func (m LeaveSession) TargetSession() string { return m.SessionID }

// ParticipantView is the projection of a Participant other clients see.
type ParticipantView struct {
	TransportID string `json:"transportId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// ExistingParticipantsPayload is sent to a joiner only.
type ExistingParticipantsPayload struct {
	Participants []ParticipantView `json:"participants"`
}

// ParticipantLeftPayload tells clients which video tile to drop.
type ParticipantLeftPayload struct {
	TransportID string `json:"transportId"`
}

// EngagementUpdatePayload is the fan-out form of an accepted observation.
type EngagementUpdatePayload struct {
	SessionID        string    `json:"sessionId"`
	StudentAccountID string    `json:"studentAccountId"`
	TransportID      string    `json:"transportId,omitempty"`
	DisplayName      string    `json:"displayName"`
	Score            int       `json:"score"`
	ObservedAt       time.Time `json:"observedAt"`
}

// ErrorPayload reports a rejected frame back to its sender.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewOutbound wraps a payload in the wire envelope.
func NewOutbound(msgType string, payload interface{}) OutboundMessage {
	return OutboundMessage{Type: msgType, Payload: payload}
}

// DecodeInbound parses one client frame into its tagged variant.
// FUNCTIONAL DISCOVERY: Unknown fields are rejected at both the envelope and
// payload level so misspelled keys surface as errors instead of silent zero values
func DecodeInbound(data []byte) (InboundMessage, error) {
	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		if env.Type == "" {
			return nil, ErrMalformedMessage
		}
		if !isInboundType(env.Type) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
		}
		return nil, ErrMissingPayload
	}

	var msg InboundMessage
	switch env.Type {
	case MessageTypeJoinSession:
		var m JoinSession
		if err := strictUnmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		msg = m
	case MessageTypeSendTransportID:
		var m SendTransportID
		if err := strictUnmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		msg = m
	case MessageTypeLeaveSession:
		var m LeaveSession
		if err := strictUnmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}

	if err := ValidateStruct(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func isInboundType(msgType string) bool {
	switch msgType {
	case MessageTypeJoinSession, MessageTypeSendTransportID, MessageTypeLeaveSession:
		return true
	default:
		return false
	}
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
