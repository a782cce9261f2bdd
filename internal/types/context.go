package types

import (
	"context"
)

// Role identifies the access level of an authenticated entity.
type Role string

const (
	RoleBuyer    Role = "BUYER"
	RoleInvestor Role = "INVESTOR"
	RoleAdmin    Role = "ADMIN"
)

// Actor represents the authenticated entity performing an operation.
// Token verification is an external collaborator concern; the Actor only
// carries what the platform needs for authorization decisions.
type Actor struct {
	Subject string
	Role    Role
}

// Context Keys
type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context, or nil for anonymous
// requests.
func GetActor(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorKey).(*Actor)
	return actor
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
