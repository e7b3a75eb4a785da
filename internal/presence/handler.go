package presence

import (
	"log/slog"

	"classlens/internal/roster"
	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// Handler is the presence protocol state machine
// ARCHITECTURAL DISCOVERY: The handler itself holds no per-connection state;
// everything lives in the injected roster, which this handler is the only writer of
type Handler struct {
	roster   *roster.Roster
	delivery interfaces.Delivery
	logger   *slog.Logger
}

// NewHandler creates a presence handler over an owned roster
func NewHandler(r *roster.Roster, delivery interfaces.Delivery, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		roster:   r,
		delivery: delivery,
		logger:   logger,
	}
}

// HandleMessage applies one decoded client message
func (h *Handler) HandleMessage(connectionID string, identity types.Identity, msg types.InboundMessage) {
	switch m := msg.(type) {
	case types.JoinSession:
		h.join(connectionID, identity, m)
	case types.SendTransportID:
		h.announce(connectionID, identity, m)
	case types.LeaveSession:
		h.leave(connectionID, m)
	default:
		h.logger.Warn("unhandled presence message", "type", msg.MessageType(), "connection_id", connectionID)
	}
}

// HandleDisconnect removes the connection from every session and tells the
// remaining participants which tiles to drop
func (h *Handler) HandleDisconnect(connectionID string) {
	for _, d := range h.roster.DropConnection(connectionID) {
		h.logger.Info("participant disconnected",
			"session_id", d.SessionID,
			"connection_id", connectionID,
			"account_id", d.Participant.AccountID)
		h.broadcastLeft(d.SessionID, d.Participant)
	}
}

// join registers the participant and replays announced peers to the joiner only.
// The authenticated role wins; the frame's role only fills an identity without one.
func (h *Handler) join(connectionID string, identity types.Identity, m types.JoinSession) {
	p := h.roster.Join(m.SessionID, connectionID, types.Participant{
		AccountID:   identity.AccountID,
		DisplayName: firstNonEmpty(m.DisplayName, identity.DisplayName),
		Role:        firstNonEmpty(identity.Role, m.Role),
	})

	h.logger.Info("participant joined",
		"session_id", m.SessionID,
		"connection_id", connectionID,
		"account_id", p.AccountID,
		"role", p.Role)

	peers := h.roster.SnapshotExcept(m.SessionID, connectionID)
	views := make([]types.ParticipantView, 0, len(peers))
	for _, peer := range peers {
		views = append(views, peer.View())
	}

	msg := types.NewOutbound(types.MessageTypeExistingParticipants, types.ExistingParticipantsPayload{Participants: views})
	if err := h.delivery.SendTo(connectionID, msg); err != nil {
		h.logger.Debug("existing participants not delivered", "connection_id", connectionID, "error", err)
	}
}

// announce records the transport id and confirms it to everyone, sender included
// FUNCTIONAL DISCOVERY: A conflicting second transport id is ignored and the
// stored participant is rebroadcast so every client converges on the same tile
func (h *Handler) announce(connectionID string, identity types.Identity, m types.SendTransportID) {
	p, accepted := h.roster.Announce(m.SessionID, connectionID, types.Participant{
		AccountID:   identity.AccountID,
		DisplayName: firstNonEmpty(m.DisplayName, identity.DisplayName),
		Role:        firstNonEmpty(identity.Role, m.Role),
		TransportID: m.TransportID,
	})
	if !accepted {
		h.logger.Warn("ignoring transport id change",
			"session_id", m.SessionID,
			"connection_id", connectionID,
			"current", p.TransportID,
			"requested", m.TransportID)
	}

	h.delivery.BroadcastAll(m.SessionID, types.NewOutbound(types.MessageTypeParticipantUpdate, p.View()))
}

func (h *Handler) leave(connectionID string, m types.LeaveSession) {
	p, ok := h.roster.Leave(m.SessionID, connectionID)
	if !ok {
		return
	}

	h.logger.Info("participant left",
		"session_id", m.SessionID,
		"connection_id", connectionID,
		"account_id", p.AccountID)
	h.broadcastLeft(m.SessionID, p)
}

// broadcastLeft is keyed by transport id, so a participant that never
// announced has no tile for anyone to drop
func (h *Handler) broadcastLeft(sessionID string, p types.Participant) {
	if !p.Announced() {
		return
	}
	msg := types.NewOutbound(types.MessageTypeParticipantLeft, types.ParticipantLeftPayload{TransportID: p.TransportID})
	h.delivery.BroadcastAll(sessionID, msg)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
