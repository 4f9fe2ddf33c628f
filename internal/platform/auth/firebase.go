package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/cimonstech/ventechfront-sub000/internal/platform/config"
)

// FirebaseVerifier checks storefront ID tokens with the Admin SDK. Tokens carrying a privileged
// role claim are also checked for revocation, so a removed staff member loses access to
// settlement retries without waiting for the token to expire.
type FirebaseVerifier struct {
	client    *firebaseauth.Client
	roleClaim string
}

// NewFirebaseVerifier initialises the Admin SDK for the configured project.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	if project == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: project}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app for %s: %w", project, err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client, roleClaim: defaultRoleClaim}, nil
}

// VerifyIDToken validates the signature and claims, then checks revocation for staff and admins.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errVerifierUnavailable
	}
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil || !privileged(token.Claims, v.roleClaim) {
		return token, err
	}
	return v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
}

func privileged(claims map[string]any, key string) bool {
	for _, role := range rolesFromClaims(claims, key) {
		if role == RoleStaff || role == RoleAdmin {
			return true
		}
	}
	return false
}
