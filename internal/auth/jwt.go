// Package auth issues the admin session cookies and the short-lived tokens that
// authenticate the realtime transport
package auth

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// PurposeWS marks a token that may only open the realtime transport
const PurposeWS = "ws"

// DefaultTokenTTL is the lifetime of a websocket token
const DefaultTokenTTL = 60 * time.Second

// Claims represents the JWT claims of a websocket token
type Claims struct {
	SessionID string `json:"sid"`
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenConfig holds JWT configuration
type TokenConfig struct {
	Issuer       string
	TTL          time.Duration
	SigningKey   ed25519.PrivateKey
	VerifyingKey ed25519.PublicKey
}

// GenerateWSToken creates a single-purpose token for the session's admin
func GenerateWSToken(session *Session, config *TokenConfig) (string, error) {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := Claims{
		SessionID: session.ID,
		Email:     session.Email,
		Purpose:   PurposeWS,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    config.Issuer,
			Subject:   session.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(config.SigningKey)
}

// ValidateToken verifies a JWT and returns the claims if it is valid for purpose
func ValidateToken(tokenString, purpose string, config *TokenConfig) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, ErrInvalidToken
		}
		return config.VerifyingKey, nil
	}, jwt.WithIssuer(config.Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Purpose != purpose {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
