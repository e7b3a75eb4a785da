package interfaces

// Delivery pushes outbound messages to presence channel connections
// ARCHITECTURAL DISCOVERY: SendTo and BroadcastAll stay separate operations
// because the join snapshot goes to the joiner only while announcements
// must reach the sender as confirmation
type Delivery interface {
	// SendTo writes to a single connection. An unknown connection is not an error.
	SendTo(connectionID string, msg interface{}) error

	// BroadcastAll writes to every connection in the session, sender included
	BroadcastAll(sessionID string, msg interface{}) int
}

// RosterReader is the read-only view of presence state given to components
// that must not mutate the roster
type RosterReader interface {
	Connections(sessionID string) []string
}
