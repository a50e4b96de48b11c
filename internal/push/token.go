package push

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Gateway provider tokens live an hour; regenerate a little before that so
// an in-flight request never carries an expired bearer.
const tokenLifetime = 50 * time.Minute

// TokenSource mints and caches the ES256 provider token. jwt/v5 emits the
// raw r||s 64-byte signature the gateway requires, not DER.
type TokenSource struct {
	key    *ecdsa.PrivateKey
	keyID  string
	issuer string

	mu       sync.Mutex
	bearer   string
	issuedAt time.Time

	now func() time.Time
}

func NewTokenSource(keyPEM []byte, keyID, issuer string) (*TokenSource, error) {
	if keyID == "" || issuer == "" {
		return nil, fmt.Errorf("push credentials: key id and issuer are required")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return &TokenSource{key: key, keyID: keyID, issuer: issuer, now: time.Now}, nil
}

// Bearer returns the cached token, re-signing when it is older than the
// lifetime. Safe for concurrent senders.
func (t *TokenSource) Bearer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.bearer != "" && now.Sub(t.issuedAt) < tokenLifetime {
		return t.bearer, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": t.issuer,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = t.keyID

	signed, err := tok.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign provider token: %w", err)
	}
	t.bearer = signed
	t.issuedAt = now
	return signed, nil
}
