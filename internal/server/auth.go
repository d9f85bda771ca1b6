// Package server authenticates connection handshakes. Tokens are verified
// once, at upgrade time, never per message.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for any token the relay will not accept. The
// detail stays server-side; clients only ever see "Unauthorized".
var ErrUnauthorized = errors.New("unauthorized")

// TokenVerifier validates a bearer credential and resolves it to a user
// identity. Implemented here by JWTVerifier; tests substitute their own.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// relayClaims is the token payload issued by the account service. The
// userId claim is the only one the relay consumes; jti feeds the optional
// revocation check.
type relayClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed tokens against the shared signing secret
// and, when a Redis client is configured, against the revocation list kept
// by the account service.
type JWTVerifier struct {
	secret              []byte
	redisClient         *redis.Client
	revocationKeyPrefix string
}

// NewJWTVerifier creates a verifier. redisClient may be nil, which disables
// revocation checking.
func NewJWTVerifier(secret string, redisClient *redis.Client) *JWTVerifier {
	return &JWTVerifier{
		secret:              []byte(secret),
		redisClient:         redisClient,
		revocationKeyPrefix: "revoked_token",
	}
}

// Verify parses and validates a token string. It checks the signature,
// standard claims such as expiration, the presence of a userId, and the
// revocation list when available.
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(tokenString, &relayClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*relayClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}

	if claims.UserID == "" {
		return "", fmt.Errorf("%w: token carries no userId", ErrUnauthorized)
	}

	revoked, err := v.isTokenRevoked(ctx, claims.ID)
	if err != nil {
		// Fail open: a Redis outage must not lock every user out.
		log.Printf("Failed to check token revocation status: %v", err)
	}
	if revoked {
		return "", fmt.Errorf("%w: token has been revoked", ErrUnauthorized)
	}

	return claims.UserID, nil
}

// isTokenRevoked checks whether a token ID (jti) is on the Redis revocation
// list. Without a Redis client or a jti there is nothing to check.
func (v *JWTVerifier) isTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if v.redisClient == nil || jti == "" {
		return false, nil
	}

	key := fmt.Sprintf("%s:%s", v.revocationKeyPrefix, jti)
	exists, err := v.redisClient.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis command failed: %w", err)
	}
	return exists == 1, nil
}

var (
	verifierMu     sync.RWMutex
	activeVerifier TokenVerifier
)

// SetTokenVerifier installs the verifier used by the WebSocket handler.
// Passing nil removes it, which rejects every handshake.
func SetTokenVerifier(v TokenVerifier) {
	verifierMu.Lock()
	defer verifierMu.Unlock()
	activeVerifier = v
}

func currentVerifier() TokenVerifier {
	verifierMu.RLock()
	defer verifierMu.RUnlock()
	return activeVerifier
}
