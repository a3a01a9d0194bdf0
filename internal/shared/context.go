package shared

import "context"

// Actor identifies the tenant and user behind a request. Authentication happens
// upstream; the gateway forwards these values as headers.
type Actor struct {
	CompanyID int64
	UserID    int64
	Role      string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// RequireCompany rejects calls that carry no tenant.
func RequireCompany(op string, companyID int64) error {
	if companyID <= 0 {
		return E(KindAuthorization, op, "company id required")
	}
	return nil
}

// CheckTenant rejects access to an entity owned by another company.
func CheckTenant(op string, companyID, ownerID int64) error {
	if err := RequireCompany(op, companyID); err != nil {
		return err
	}
	if companyID != ownerID {
		return E(KindAuthorization, op, "entity belongs to another company")
	}
	return nil
}
