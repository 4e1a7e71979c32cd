// Package actor identifies the staff member behind a request so dispensing
// records and lot adjustments can name who performed them.
package actor

import (
	"context"
	"fmt"
	"strings"
)

// Roles recognised by the pharmacy service.
const (
	RoleProvider   = "provider"
	RolePharmacist = "pharmacist"
	RoleStudent    = "student"
	RoleAdmin      = "admin"
)

const systemID = "00000000-0000-0000-0000-000000000000"

// Actor represents the entity performing an action in the system.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	Site  string `json:"site,omitempty"`
}

// DisplayName is the name recorded on dispensing rows. Falls back to the
// email, then the id.
func (a *Actor) DisplayName() string {
	if a == nil {
		return "system"
	}
	if n := strings.TrimSpace(a.Name); n != "" {
		return n
	}
	if a.Email != "" {
		return a.Email
	}
	return a.ID
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.DisplayName(), a.ID)
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present (e.g., system operations).
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// OrSystem returns the actor in ctx, or the system actor.
func OrSystem(ctx context.Context) *Actor {
	if a := FromContext(ctx); a != nil {
		return a
	}
	return SystemActor()
}

// SystemActor is used for background jobs such as sync replays and imports
// started without a user.
func SystemActor() *Actor {
	return &Actor{
		ID:    systemID,
		Name:  "System",
		Email: "system@medtrack.local",
	}
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == systemID
}
