package testutil

import (
	"net/http"
	"time"

	id "bioattend/pkg/domain"
	"bioattend/pkg/requestcontext"
)

// AsStudent simulates the auth middleware for a student request: caller
// identity, student identity, and role are injected into the context.
func AsStudent(req *http.Request, studentID id.StudentID) *http.Request {
	ctx := req.Context()
	ctx = requestcontext.WithUserID(ctx, id.UserID(studentID))
	ctx = requestcontext.WithStudentID(ctx, studentID)
	ctx = requestcontext.WithRole(ctx, requestcontext.RoleStudent)
	return req.WithContext(ctx)
}

// AsSupervisor simulates an authenticated faculty or admin request.
func AsSupervisor(req *http.Request, userID id.UserID, role requestcontext.Role) *http.Request {
	ctx := req.Context()
	ctx = requestcontext.WithUserID(ctx, userID)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}

// AtTime pins the request-scoped clock, so timing assertions are exact.
func AtTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
