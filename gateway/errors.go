package gateway

import "errors"

// Error kinds surfaced to the socket protocol, per spec.md §7.
var (
	ErrAuthorization = errors.New("user lacks access to document")
	ErrProtocol      = errors.New("protocol violation")
	ErrNotJoined     = errors.New("must join-document before sending events")
)
