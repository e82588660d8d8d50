// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services and handlers read them. Keeping this package free
// of net/http lets the registry, consensus engine and audit chain read the caller and the
// request clock without importing transport code.
//
// Usage in services (read values):
//
//	actor := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithCaller(ctx, requestcontext.Caller{ID: "u-1", Role: "ggc_member"})
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

type (
	callerKey      struct{}
	clientIPKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyCaller      = callerKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// SystemActor is the actor recorded for mutations no human initiated
// (heartbeat auto-activation, consensus auto-suspension, background workers).
const SystemActor = "system"

// -----------------------------------------------------------------------------
// Caller
// -----------------------------------------------------------------------------

// Caller is the authenticated principal of a request.
type Caller struct {
	ID       string
	Role     string
	EntityID string
}

// IsZero reports whether no caller was authenticated.
func (c Caller) IsZero() bool {
	return c.ID == ""
}

// WithCaller injects the authenticated caller into the context.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, c)
}

// CallerFrom retrieves the authenticated caller. The zero Caller is returned when unset.
func CallerFrom(ctx context.Context) Caller {
	if c, ok := ctx.Value(ContextKeyCaller).(Caller); ok {
		return c
	}
	return Caller{}
}

// ActorID returns the caller id, or SystemActor when the context carries no caller.
func ActorID(ctx context.Context) string {
	if c := CallerFrom(ctx); !c.IsZero() {
		return c.ID
	}
	return SystemActor
}

// Role returns the caller role or "".
func Role(ctx context.Context) string {
	return CallerFrom(ctx).Role
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// WithClientIP injects the client IP address into a context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - Workers that need consistent time within a batch operation
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
