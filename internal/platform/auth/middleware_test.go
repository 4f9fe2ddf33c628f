package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/require"

	"github.com/cimonstech/ventechfront-sub000/internal/platform/requestctx"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func staffToken() *firebaseauth.Token {
	return &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"role":         []any{"Staff", "admin", "staff"},
			"email":        "ama@example.com",
			"name":         "Ama Mensah",
			"phone_number": "+233200000000",
		},
	}
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{token: staffToken()}
	authn := NewAuthenticator(verifier)

	var identity *Identity
	var owner Owner
	handler := authn.RequireFirebaseAuth(RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		owner, _ = OwnerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/settlements/VT-1:retry", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "token-abc", verifier.received)
	require.NotNil(t, identity)
	require.Equal(t, []string{"staff", "admin"}, identity.Roles)
	require.Equal(t, "Ama Mensah", identity.Name)
	require.Equal(t, "+233200000000", identity.Phone)
	require.Equal(t, "user:uid-123", owner.Key())
}

func TestRequireFirebaseAuth_RejectsMissingRole(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]any{}}})
	handler := authn.RequireFirebaseAuth(RoleStaff)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), "insufficient_role")
}

func TestRequireFirebaseAuth_RejectsMissingHeader(t *testing.T) {
	handler := NewAuthenticator(&stubTokenVerifier{}).RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireFirebaseAuth_InvalidToken(t *testing.T) {
	handler := NewAuthenticator(&stubTokenVerifier{err: errors.New("bad signature")}).RequireFirebaseAuth()(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { t.Fatal("handler should not run") }))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid_token")
}

func TestOptionalFirebaseAuth_GuestToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})

	var owner Owner
	var resolved bool
	var actor string
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, resolved = OwnerFromContext(r.Context())
		actor = requestctx.Actor(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(GuestTokenHeader, "guest_token_0123456789")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, resolved)
	require.True(t, owner.IsGuest())
	require.Equal(t, "guest:guest_token_0123456789", owner.Key())
	require.Equal(t, owner.Key(), actor)
}

func TestOptionalFirebaseAuth_PrefersBearer(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{token: staffToken()})

	var owner Owner
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, _ = OwnerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set(GuestTokenHeader, "guest_token_0123456789")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.False(t, owner.IsGuest())
	require.Equal(t, "uid-123", owner.UserID)
}

func TestOptionalFirebaseAuth_RejectsMalformedGuestToken(t *testing.T) {
	handler := NewAuthenticator(nil).OptionalFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(GuestTokenHeader, "short")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequireOwner(t *testing.T) {
	called := false
	handler := RequireOwner(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.False(t, called)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(WithOwner(req.Context(), Owner{GuestToken: "guest_token_0123456789"}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, called)
}

func TestPrivilegedClaimDetection(t *testing.T) {
	require.True(t, privileged(map[string]any{"role": "Staff"}, "role"))
	require.True(t, privileged(map[string]any{"role": []any{"customer", "admin"}}, "role"))
	require.True(t, privileged(map[string]any{"role": map[string]any{"staff": true}}, "role"))
	require.False(t, privileged(map[string]any{"role": "customer"}, "role"))
	require.False(t, privileged(map[string]any{}, "role"))
}
