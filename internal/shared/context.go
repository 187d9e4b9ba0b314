package shared

import "context"

// Role is the coarse role supplied by the authentication collaborator.
type Role string

const (
	RoleUser       Role = "user"
	RoleAccountant Role = "accountant"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAccountant, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role may review and move money.
func (r Role) IsStaff() bool {
	return r == RoleAccountant || r == RoleAdmin
}

// Actor identifies who performs an operation.
type Actor struct {
	ID   int64
	Role Role
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != 0
}

// PasswordVerifier re-authenticates an actor before destructive operations.
// Implementations return an error wrapping ErrAuthorization on mismatch.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, userID int64, password string) error
}
