// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Values are set by middleware and consumed by services. Keeping this package
// free of net/http dependencies lets services import only what they need.
//
// Usage in services (read values):
//
//	studentID := requestcontext.StudentID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "bioattend/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	studentIDKey   struct{}
	userIDKey      struct{}
	roleKey        struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyStudentID   = studentIDKey{}
	ContextKeyUserID      = userIDKey{}
	ContextKeyRole        = roleKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Role is the caller's resolved role from the identity collaborator.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleFaculty Role = "FACULTY"
	RoleAdmin   Role = "ADMIN"
)

// StudentID retrieves the acting student identity from the context.
// Returns the zero value if the caller is not a student.
func StudentID(ctx context.Context) id.StudentID {
	if sid, ok := ctx.Value(ContextKeyStudentID).(id.StudentID); ok {
		return sid
	}
	return id.StudentID{}
}

// WithStudentID injects a student identity into the context.
func WithStudentID(ctx context.Context, sid id.StudentID) context.Context {
	return context.WithValue(ctx, ContextKeyStudentID, sid)
}

// UserID retrieves the authenticated user account ID from the context.
func UserID(ctx context.Context) id.UserID {
	if uid, ok := ctx.Value(ContextKeyUserID).(id.UserID); ok {
		return uid
	}
	return id.UserID{}
}

// WithUserID injects a user account ID into the context.
func WithUserID(ctx context.Context, uid id.UserID) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, uid)
}

// CallerRole retrieves the caller's role from the context.
func CallerRole(ctx context.Context) Role {
	if r, ok := ctx.Value(ContextKeyRole).(Role); ok {
		return r
	}
	return ""
}

// WithRole injects a caller role into the context.
func WithRole(ctx context.Context, r Role) context.Context {
	return context.WithValue(ctx, ContextKeyRole, r)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context. All operations within a
// single request observe the same "now", which keeps check-in timestamps,
// lateness decisions, and published events consistent. Falls back to
// time.Now() for non-HTTP contexts (workers, tests that don't set it).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Tests use this to pin the
// clock for lateness-boundary and timing assertions.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
