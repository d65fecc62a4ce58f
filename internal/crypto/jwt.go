package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// ServiceClaims are the claims carried by internal service-to-service JWTs
// (distinct from the HTTP-layer session JWTs in internal/auth, which carry
// an authenticated member's identity).
type ServiceClaims struct {
	Subject string         `json:"sub"`
	Purpose string         `json:"purpose"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// IssueJWT signs claims with JWT_SECRET and the given time-to-live. In
// development mode, a missing JWT_SECRET falls back to an ephemeral
// process-local key so the service can still start without one configured;
// outside development mode a missing secret is an error.
func (s *Service) IssueJWT(claims ServiceClaims, ttl time.Duration) (string, error) {
	secret, err := s.resolveJWTSecret()
	if err != nil {
		return "", err
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		Subject:  claims.Subject,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		Issuer:   "orchestra-key-service",
	}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return token, nil
}

// VerifyJWT validates signature and expiry and returns the claims.
func (s *Service) VerifyJWT(raw string) (*ServiceClaims, error) {
	secret, err := s.resolveJWTSecret()
	if err != nil {
		return nil, err
	}

	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing JWT: %w", err)
	}

	var registered jwt.Claims
	var custom ServiceClaims
	if err := tok.Claims([]byte(secret), &registered, &custom); err != nil {
		return nil, fmt.Errorf("verifying JWT: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: "orchestra-key-service",
		Time:   time.Now(),
	}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("validating JWT claims: %w", err)
	}

	return &custom, nil
}

// SignWithProcessSecret computes HMAC_SHA256(JWT_SECRET, data), used by
// resume tokens (spec §4.7) to bind a signature to the process's JWT secret
// without minting a full JWT for what is otherwise an opaque bearer value.
func (s *Service) SignWithProcessSecret(data []byte) ([]byte, error) {
	secret, err := s.resolveJWTSecret()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (s *Service) resolveJWTSecret() (string, error) {
	if s.jwtSecret != "" {
		return s.jwtSecret, nil
	}
	if !s.devMode {
		return "", fmt.Errorf("JWT_SECRET is required outside development mode")
	}
	s.logger.Warn("JWT_SECRET not set — using ephemeral development secret")
	return devFallbackSecret(), nil
}

var devSecret string

func devFallbackSecret() string {
	if devSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			panic(fmt.Sprintf("reading random bytes: %v", err))
		}
		devSecret = hex.EncodeToString(b)
	}
	return devSecret
}
