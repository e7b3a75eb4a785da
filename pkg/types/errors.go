package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error values let the HTTP and presence
// layers map client input failures without string matching
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrMissingPayload     = errors.New("message payload is required")
	ErrInvalidScore       = errors.New("score must be a number between 0 and 100")
)
