/**
 * @description
 * This file implements webhook verification. The aggregator signs every
 * webhook with an ES256 JWT carried in the `plaid-verification` header; the
 * JWT's claims embed a SHA-256 digest of the exact request body. Verification
 * checks the signature against the aggregator's published JWKS and then
 * recomputes the body digest, rejecting on mismatch so a valid signature
 * cannot be replayed over a swapped body.
 *
 * Verification fails closed: any error (key fetch failure, malformed token,
 * unknown kid) rejects the request. In production a missing JWKS URL is
 * itself a rejection; in other environments it bypasses verification so
 * sandbox webhooks can be exercised without key material.
 *
 * @dependencies
 * - crypto/ecdsa, crypto/elliptic, crypto/sha256, crypto/subtle: signature key
 *   material and constant-time digest comparison.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and ES256 verification.
 */

package api

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxWebhookTokenAge bounds replay of captured webhook tokens.
const maxWebhookTokenAge = 5 * time.Minute

// EventVerifier authenticates an inbound webhook body against its signature
// header. Implementations must fail closed.
type EventVerifier interface {
	Verify(body []byte, signatureHeader string) bool
}

// JWKSVerifier verifies webhook JWTs against a cached key set fetched from
// the aggregator's JWKS endpoint.
type JWKSVerifier struct {
	jwksURL    string
	production bool
	httpClient *http.Client

	mu   sync.RWMutex
	keys map[string]*ecdsa.PublicKey
}

// NewJWKSVerifier creates a verifier for the given JWKS endpoint. An empty
// URL enables bypass outside production and hard rejection in production.
func NewJWKSVerifier(jwksURL string, production bool) *JWKSVerifier {
	return &JWKSVerifier{
		jwksURL:    jwksURL,
		production: production,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keys:       make(map[string]*ecdsa.PublicKey),
	}
}

// Verify checks the webhook signature and body digest. It never panics or
// propagates errors; every failure path returns false.
func (v *JWKSVerifier) Verify(body []byte, signatureHeader string) bool {
	if v.jwksURL == "" {
		if v.production {
			log.Printf("level=error component=webhook_verifier msg=\"no verification key configured in production; rejecting\"")
			return false
		}
		log.Printf("level=warn component=webhook_verifier msg=\"no verification key configured; bypassing verification\"")
		return true
	}
	if signatureHeader == "" {
		log.Printf("level=warn component=webhook_verifier msg=\"missing signature header\"")
		return false
	}

	token, err := jwt.Parse(signatureHeader, v.keyForToken,
		jwt.WithValidMethods([]string{"ES256"}),
		jwt.WithIssuedAt(),
	)
	if err != nil || !token.Valid {
		log.Printf("level=warn component=webhook_verifier msg=\"signature verification failed\" err=%v", err)
		return false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		log.Printf("level=warn component=webhook_verifier msg=\"unexpected claims shape\"")
		return false
	}

	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil || time.Since(issuedAt.Time) > maxWebhookTokenAge {
		log.Printf("level=warn component=webhook_verifier msg=\"token issued-at missing or too old\"")
		return false
	}

	claimedDigest, ok := claims["request_body_sha256"].(string)
	if !ok || claimedDigest == "" {
		log.Printf("level=warn component=webhook_verifier msg=\"token missing body digest claim\"")
		return false
	}

	bodyDigest := sha256.Sum256(body)
	computed := hex.EncodeToString(bodyDigest[:])
	if subtle.ConstantTimeCompare([]byte(computed), []byte(claimedDigest)) != 1 {
		log.Printf("level=warn component=webhook_verifier msg=\"body digest mismatch; possible body tampering\"")
		return false
	}

	return true
}

// keyForToken is the jwt keyfunc: it resolves the token's kid against the
// cached JWKS, refetching the key set once on a cache miss to pick up
// rotations.
func (v *JWKSVerifier) keyForToken(token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("kid not found in token header")
	}

	v.mu.RLock()
	key, found := v.keys[kid]
	v.mu.RUnlock()
	if found {
		return key, nil
	}

	if err := v.refreshKeys(); err != nil {
		return nil, fmt.Errorf("failed to refresh verification keys: %w", err)
	}

	v.mu.RLock()
	key, found = v.keys[kid]
	v.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

// refreshKeys fetches the JWKS and replaces the cached key set.
func (v *JWKSVerifier) refreshKeys() error {
	resp, err := v.httpClient.Get(v.jwksURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Crv string `json:"crv"`
			X   string `json:"x"`
			Y   string `json:"y"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	fresh := make(map[string]*ecdsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "EC" || key.Crv != "P-256" {
			continue
		}
		parsed, err := parseECPublicKey(key.X, key.Y)
		if err != nil {
			log.Printf("level=warn component=webhook_verifier msg=\"skipping unparsable jwks key\" kid=%s err=%v", key.Kid, err)
			continue
		}
		fresh[key.Kid] = parsed
	}

	v.mu.Lock()
	v.keys = fresh
	v.mu.Unlock()
	return nil
}

// parseECPublicKey builds a P-256 public key from base64url coordinates.
func parseECPublicKey(x, y string) (*ecdsa.PublicKey, error) {
	xb, err := base64.RawURLEncoding.DecodeString(x)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}
	yb, err := base64.RawURLEncoding.DecodeString(y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xb),
		Y:     new(big.Int).SetBytes(yb),
	}, nil
}
