package liquidvex

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthType represents the authentication method
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeJWT    AuthType = "jwt"
)

// Authenticator adds credentials to an outgoing backend request.
type Authenticator interface {
	AddAuthHeaders(req *http.Request) error
}

// APIKeyAuthenticator sends a static key header.
type APIKeyAuthenticator struct {
	apiKey string
}

func NewAPIKeyAuthenticator(apiKey string) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{apiKey: apiKey}
}

func (a *APIKeyAuthenticator) AddAuthHeaders(req *http.Request) error {
	req.Header.Set("X-API-Key", a.apiKey)
	return nil
}

// JWTAuthenticator mints a short-lived HS256 bearer token per request.
type JWTAuthenticator struct {
	subject string
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

func NewJWTAuthenticator(subject, secret string, ttl time.Duration) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &JWTAuthenticator{
		subject: subject,
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (j *JWTAuthenticator) AddAuthHeaders(req *http.Request) error {
	token, err := j.generateJWT(req.Method, req.URL.Path)
	if err != nil {
		return fmt.Errorf("failed to generate JWT: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (j *JWTAuthenticator) generateJWT(method, path string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	now := j.now()
	claims := jwt.MapClaims{
		"sub":   j.subject,
		"iss":   "liquidvex",
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(j.ttl).Unix(),
		"uri":   method + " " + path,
		"nonce": nonce,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewAuthenticator picks the authenticator for the configured auth type.
// It returns nil for AuthTypeNone.
func NewAuthenticator(authType AuthType, apiKey, jwtSecret, subject string) (Authenticator, error) {
	switch authType {
	case "", AuthTypeNone:
		return nil, nil
	case AuthTypeAPIKey:
		if apiKey == "" {
			return nil, fmt.Errorf("auth type %s needs an api key", authType)
		}
		return NewAPIKeyAuthenticator(apiKey), nil
	case AuthTypeJWT:
		a, err := NewJWTAuthenticator(subject, jwtSecret, 0)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", authType)
	}
}

// Signer is the wallet collaborator that signs trade payloads. Signing
// itself lives outside this module.
type Signer interface {
	Sign(payload []byte) (signature string, err error)
}
