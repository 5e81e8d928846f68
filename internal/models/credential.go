package models

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

const AccessTokenKey string = "accessToken"
const RefreshTokenKey string = "refreshToken"

const bearerTokenType string = "Bearer"

// Credential is the pair of tokens held by the client. Either value can be empty which means absent.
type Credential struct {
	AccessToken  string
	RefreshToken string
	// Expiry is read from the exp claim of the access token when it is a JWT, zero otherwise
	Expiry time.Time
}

// NewCredential builds a credential and derives the expiry from the access token if possible.
func NewCredential(accessToken, refreshToken string) Credential {
	return Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Expiry:       accessTokenExpiry(accessToken),
	}
}

// WithAccessToken replaces the access token and keeps the refresh token.
func (c Credential) WithAccessToken(accessToken string) Credential {
	return NewCredential(accessToken, c.RefreshToken)
}

func (c Credential) HasAccessToken() bool {
	return c.AccessToken != ""
}

func (c Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// ExpiresWithin is true when the access token has a known expiry that falls before now + margin.
func (c Credential) ExpiresWithin(margin time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(c.Expiry)
}

// Token converts the credential into an oauth2 token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    bearerTokenType,
		Expiry:       c.Expiry,
	}
}

// String implements the Stringer interface so that tokens never end up in the logs
func (c Credential) String() string {
	return fmt.Sprintf(
		"Credential<AccessToken: %s, RefreshToken: %s, Expiry: %s>",
		redacted(c.AccessToken),
		redacted(c.RefreshToken),
		c.Expiry,
	)
}

// LogValue keeps slog handlers from serializing the raw tokens
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

func redacted(value string) string {
	if value == "" {
		return "absent"
	}
	return "redacted"
}

func accessTokenExpiry(accessToken string) time.Time {
	if accessToken == "" {
		return time.Time{}
	}
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
