package testutil

import (
	"net/http"

	id "fieldops/pkg/domain"
	"fieldops/pkg/requestcontext"
)

// WithUserID adds a user ID to the request context, as RequireAuth would for an
// authenticated request. Invalid UUIDs leave the request anonymous.
func WithUserID(req *http.Request, userID string) *http.Request {
	if parsedUserID, err := id.ParseUserID(userID); err == nil {
		return req.WithContext(requestcontext.WithUserID(req.Context(), parsedUserID))
	}
	return req
}
