package auth

import (
	"context"
	"slices"
	"strings"
)

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Identity is the signed-in customer or staff member taken from a verified Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Name  string
	Phone string
	Roles []string
}

// HasRole reports whether the identity holds any of roles. Comparison ignores case.
func (i *Identity) HasRole(roles ...string) bool {
	if i == nil {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(held string) bool {
		return slices.ContainsFunc(roles, func(want string) bool {
			return strings.EqualFold(held, strings.TrimSpace(want))
		})
	})
}

// Owner is whose cart and checkout a request acts on. UserID wins over GuestToken.
type Owner struct {
	UserID     string
	GuestToken string
}

// Key is the cart storage key: "user:<uid>", "guest:<token>" or "" when unresolved.
func (o Owner) Key() string {
	switch {
	case o.UserID != "":
		return "user:" + o.UserID
	case o.GuestToken != "":
		return "guest:" + o.GuestToken
	}
	return ""
}

func (o Owner) IsGuest() bool { return o.UserID == "" }

// principal is everything the auth middleware resolved for a request.
type principal struct {
	identity *Identity
	owner    Owner
}

type principalKey struct{}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

// WithIdentity attaches the signed-in identity, keeping any owner already attached.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	p := principalFrom(ctx)
	p.identity = identity
	return context.WithValue(ctx, principalKey{}, p)
}

// WithOwner attaches the resolved cart owner, keeping any identity already attached.
func WithOwner(ctx context.Context, owner Owner) context.Context {
	p := principalFrom(ctx)
	p.owner = owner
	return context.WithValue(ctx, principalKey{}, p)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id := principalFrom(ctx).identity
	return id, id != nil
}

// OwnerFromContext returns the owner resolved by the middleware, if it has a usable key.
func OwnerFromContext(ctx context.Context) (Owner, bool) {
	owner := principalFrom(ctx).owner
	if owner.Key() == "" {
		return Owner{}, false
	}
	return owner, true
}
