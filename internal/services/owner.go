package services

import (
	"fmt"
	"strings"
)

const (
	ownerUserPrefix  = "user:"
	ownerGuestPrefix = "guest:"

	minGuestTokenLength = 16
	maxGuestTokenLength = 128
)

// Owner identifies whose cart and staged checkout an operation touches. A signed-in user wins over
// a guest token.
type Owner struct {
	UserID     string
	GuestToken string
}

// Key returns the storage key for the owner.
func (o Owner) Key() (string, error) {
	if uid := strings.TrimSpace(o.UserID); uid != "" {
		return ownerUserPrefix + uid, nil
	}
	token := strings.TrimSpace(o.GuestToken)
	if token == "" {
		return "", fmt.Errorf("%w: user or guest token is required", ErrCheckoutValidation)
	}
	if len(token) < minGuestTokenLength || len(token) > maxGuestTokenLength {
		return "", fmt.Errorf("%w: guest token must be %d-%d characters", ErrCheckoutValidation, minGuestTokenLength, maxGuestTokenLength)
	}
	for _, r := range token {
		if !isTokenRune(r) {
			return "", fmt.Errorf("%w: guest token contains invalid characters", ErrCheckoutValidation)
		}
	}
	return ownerGuestPrefix + token, nil
}

// ownerFromKey reverses Key for records recovered from storage or gateway metadata.
func ownerFromKey(key string) Owner {
	switch {
	case strings.HasPrefix(key, ownerUserPrefix):
		return Owner{UserID: strings.TrimPrefix(key, ownerUserPrefix)}
	case strings.HasPrefix(key, ownerGuestPrefix):
		return Owner{GuestToken: strings.TrimPrefix(key, ownerGuestPrefix)}
	default:
		return Owner{}
	}
}

func isTokenRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}
