package router

import "errors"

// Delivery errors
var (
	ErrRecipientNotConnected = errors.New("recipient not connected")
)
