package router

import (
	"errors"
	"log/slog"

	"classlens/pkg/interfaces"
)

// ConnectionLookup resolves a connection id to a live connection
type ConnectionLookup interface {
	Lookup(connectionID string) (interfaces.Connection, bool)
}

// Router implements interfaces.Delivery over the roster and the connection registry
// ARCHITECTURAL DISCOVERY: Pure delivery without presence decisions; the
// roster answers "who is in the session", the registry answers "which socket"
type Router struct {
	connections ConnectionLookup
	roster      interfaces.RosterReader
	logger      *slog.Logger
}

var _ interfaces.Delivery = (*Router)(nil)

// NewRouter creates a new delivery router
func NewRouter(connections ConnectionLookup, roster interfaces.RosterReader, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		connections: connections,
		roster:      roster,
		logger:      logger,
	}
}

// SendTo writes msg to a single connection
// FUNCTIONAL DISCOVERY: A stale target is reported to the caller but callers
// treat ErrRecipientNotConnected as a no-op
func (r *Router) SendTo(connectionID string, msg interface{}) error {
	conn, ok := r.connections.Lookup(connectionID)
	if !ok {
		return ErrRecipientNotConnected
	}
	return conn.WriteJSON(msg)
}

// BroadcastAll writes msg to every connection joined to the session, sender included.
// It returns the number of connections the message was queued for.
// Delivery continues past individual failures.
// TECHNICAL DISCOVERY: Connection writes only enqueue onto a buffered channel,
// so a sequential loop does not wait on network I/O
func (r *Router) BroadcastAll(sessionID string, msg interface{}) int {
	delivered := 0
	for _, connectionID := range r.roster.Connections(sessionID) {
		if err := r.SendTo(connectionID, msg); err != nil {
			if !errors.Is(err, ErrRecipientNotConnected) {
				r.logger.Debug("delivery failed",
					"session_id", sessionID,
					"connection_id", connectionID,
					"error", err)
			}
			continue
		}
		delivered++
	}
	return delivered
}
