package tracing

import (
	"net/http"
)

// DocumentIDHeader and SessionIDHeader carry document/session context across
// the Gateway's service-to-service calls to the external Document/Auth
// services, per spec.md §1's collaborator boundary.
const (
	DocumentIDHeader = "X-Document-ID"
	SessionIDHeader  = "X-Session-ID"
)

// PropagateHeaders adds document/session correlation headers to an outgoing
// request. Use this when making service-to-service calls so the receiving
// service's logs and traces can be joined back to this document/session.
func PropagateHeaders(req *http.Request, documentID, sessionID string) {
	if documentID != "" {
		req.Header.Set(DocumentIDHeader, documentID)
	}
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}
}
