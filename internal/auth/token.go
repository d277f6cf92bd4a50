package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const signedTokenPrefix = "v1."

// NewToken returns 32 random bytes, URL-safe encoded.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsSignedToken reports whether token has the self-contained fallback format.
func IsSignedToken(token string) bool {
	return strings.HasPrefix(token, signedTokenPrefix)
}

// Signer mints and verifies self-contained tokens "v1.<payload>.<mac>" where mac is
// HMAC-SHA256 over the encoded payload.
type Signer struct {
	secret []byte
}

// NewSigner constructs a Signer. An empty secret yields nil.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

type signedClaims struct {
	UserID    int64 `json:"uid"`
	IssuedAt  int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`
}

// Sign encodes the session into a token.
func (s *Signer) Sign(sess Session) (string, error) {
	payload, err := json.Marshal(signedClaims{
		UserID:    sess.UserID,
		IssuedAt:  sess.CreatedAt.Unix(),
		ExpiresAt: sess.ExpiresAt.Unix(),
	})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return signedTokenPrefix + encoded + "." + s.mac(encoded), nil
}

// Verify checks the signature and decodes the session. Expiry is left to the caller.
func (s *Signer) Verify(token string) (Session, error) {
	if !IsSignedToken(token) {
		return Session{}, ErrNoSession
	}
	encoded, mac, ok := strings.Cut(strings.TrimPrefix(token, signedTokenPrefix), ".")
	if !ok || encoded == "" || mac == "" {
		return Session{}, ErrBadSignature
	}
	if !hmac.Equal([]byte(s.mac(encoded)), []byte(mac)) {
		return Session{}, ErrBadSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Session{}, ErrBadSignature
	}
	var claims signedClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.UserID <= 0 {
		return Session{}, ErrBadSignature
	}
	return Session{
		Token:     token,
		UserID:    claims.UserID,
		CreatedAt: time.Unix(claims.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(claims.ExpiresAt, 0).UTC(),
		Signed:    true,
	}, nil
}

func (s *Signer) mac(encoded string) string {
	h := hmac.New(sha256.New, s.secret)
	_, _ = h.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
