package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendrickPhan/go-verify-apple-id-token/validator"
	"google.golang.org/api/idtoken"
)

const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

var ErrProviderDisabled = errors.New("identity provider not configured")

type ExternalTokenClaims struct {
	Provider      string
	Issuer        string
	Subject       string
	Email         string
	EmailVerified bool
}

// IDTokenVerifier checks third-party sign-in tokens against the configured
// audiences. An empty audience disables that provider.
type IDTokenVerifier struct {
	GoogleClientID string
	AppleServiceID string
}

func (v IDTokenVerifier) Verify(ctx context.Context, provider, token string) (*ExternalTokenClaims, error) {
	switch provider {
	case ProviderGoogle:
		if v.GoogleClientID == "" {
			return nil, ErrProviderDisabled
		}
		return VerifyGoogleIDToken(ctx, token, v.GoogleClientID)
	case ProviderApple:
		if v.AppleServiceID == "" {
			return nil, ErrProviderDisabled
		}
		return VerifyAppleIDToken(ctx, token, v.AppleServiceID)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func VerifyGoogleIDToken(ctx context.Context, tokenString, expectedAud string) (*ExternalTokenClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, errors.New("missing id token")
	}
	if strings.TrimSpace(expectedAud) == "" {
		return nil, errors.New("missing google client id")
	}

	payload, err := idtoken.Validate(ctx, tokenString, expectedAud)
	if err != nil {
		return nil, err
	}
	if payload.Issuer != "accounts.google.com" && payload.Issuer != "https://accounts.google.com" {
		return nil, fmt.Errorf("unexpected issuer: %s", payload.Issuer)
	}

	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)

	return &ExternalTokenClaims{
		Provider:      ProviderGoogle,
		Issuer:        payload.Issuer,
		Subject:       payload.Subject,
		Email:         normalizeEmail(email),
		EmailVerified: verified,
	}, nil
}

func VerifyAppleIDToken(ctx context.Context, tokenString, expectedAud string) (*ExternalTokenClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, errors.New("missing id token")
	}
	if strings.TrimSpace(expectedAud) == "" {
		return nil, errors.New("missing apple service id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := validator.NewClient()
	idToken, err := client.VerifyIdToken(expectedAud, tokenString)
	if err != nil {
		return nil, err
	}
	if idToken.Iss != "https://appleid.apple.com" {
		return nil, fmt.Errorf("unexpected issuer: %s", idToken.Iss)
	}

	// Apple only issues tokens for addresses it has verified.
	return &ExternalTokenClaims{
		Provider:      ProviderApple,
		Issuer:        idToken.Iss,
		Subject:       idToken.Sub,
		Email:         normalizeEmail(idToken.Email),
		EmailVerified: idToken.Email != "",
	}, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
