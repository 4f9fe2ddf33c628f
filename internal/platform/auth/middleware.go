package auth

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/cimonstech/ventechfront-sub000/internal/platform/httpx"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/requestctx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
	// GuestTokenHeader carries the browser generated token that keys a guest cart.
	GuestTokenHeader = "X-Guest-Token"
)

var (
	guestTokenPattern      = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)
	errVerifierUnavailable = errors.New("auth: verifier not configured")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator wires Firebase token verification into HTTP middleware.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim}
}

// RequireFirebaseAuth verifies the bearer token and, when roles are given, requires one of them.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			identity, err := a.verify(r.Context(), token)
			if err != nil {
				writeVerificationError(r.Context(), w, err)
				return
			}
			if len(allowedRoles) > 0 && !identity.HasRole(allowedRoles...) {
				writeAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(a.bind(r.Context(), identity, Owner{UserID: identity.UID})))
		})
	}
}

// OptionalFirebaseAuth resolves the request owner. A bearer token, when present, must be valid and
// identifies a signed-in user; otherwise the X-Guest-Token header identifies a guest. Requests with
// neither continue without an owner.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
				token, ok := extractBearerToken(header)
				if !ok {
					writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header invalid")
					return
				}
				identity, err := a.verify(ctx, token)
				if err != nil {
					writeVerificationError(ctx, w, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(a.bind(ctx, identity, Owner{UserID: identity.UID})))
				return
			}
			if guest := strings.TrimSpace(r.Header.Get(GuestTokenHeader)); guest != "" {
				if !guestTokenPattern.MatchString(guest) {
					writeAuthError(ctx, w, http.StatusBadRequest, "invalid_guest_token", "guest token is malformed")
					return
				}
				next.ServeHTTP(w, r.WithContext(a.bind(ctx, nil, Owner{GuestToken: guest})))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwner rejects requests for which no owner could be resolved.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := OwnerFromContext(r.Context()); !ok {
			writeAuthError(r.Context(), w, http.StatusUnauthorized, "owner_required", "sign in or provide "+GuestTokenHeader)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) verify(ctx context.Context, raw string) (*Identity, error) {
	if a == nil || a.verifier == nil {
		return nil, errVerifierUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, defaultVerifyTimeout)
	defer cancel()

	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	identity := &Identity{
		UID:   token.UID,
		Email: claimString(token.Claims, "email"),
		Name:  claimString(token.Claims, "name"),
		Phone: claimString(token.Claims, "phone_number"),
		Roles: rolesFromClaims(token.Claims, a.roleClaim),
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleCustomer}
	}
	return identity, nil
}

func (a *Authenticator) bind(ctx context.Context, identity *Identity, owner Owner) context.Context {
	if identity != nil {
		ctx = WithIdentity(ctx, identity)
	}
	ctx = WithOwner(ctx, owner)
	return requestctx.WithActor(ctx, owner.Key())
}

func rolesFromClaims(claims map[string]any, key string) []string {
	var out []string
	add := func(role string) {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			return
		}
		for _, existing := range out {
			if existing == role {
				return
			}
		}
		out = append(out, role)
	}
	switch v := claims[key].(type) {
	case string:
		add(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case map[string]any:
		for role, enabled := range v {
			if b, ok := enabled.(bool); ok && b {
				add(role)
			}
		}
	}
	return out
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func writeVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errVerifierUnavailable):
		writeAuthError(ctx, w, http.StatusServiceUnavailable, "auth_unavailable", "authorization service unavailable")
	case firebaseauth.IsIDTokenExpired(err):
		writeAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	default:
		writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	}
}
