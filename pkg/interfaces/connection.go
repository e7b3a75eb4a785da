package interfaces

import "classlens/pkg/types"

// Connection represents one presence channel client
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the roster and delivery logic testable with in-memory fakes
type Connection interface {
	// WriteJSON queues a message for the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Implementations use a single writer goroutine,
	// callers from any goroutine may write concurrently
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its resources
	Close() error

	// ID returns the server-assigned presence channel connection id
	ID() string

	// Identity returns the authenticated caller bound at upgrade time
	Identity() types.Identity
}
