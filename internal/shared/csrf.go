package shared

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

const (
	// CSRFHeader carries the CSRF token on unsafe requests.
	CSRFHeader = "X-CSRF-Token"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
)

// CSRFManager issues and verifies CSRF tokens bound to a session token. Tokens are
// "<nonce>.<mac>" where mac = HMAC(secret, sessionToken|nonce), so no server state is kept.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// IssueToken generates a CSRF token for the session token.
func (m *CSRFManager) IssueToken(sessionToken string) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	return nonce + "." + m.sign(sessionToken, nonce)
}

// VerifyToken checks that token was issued for sessionToken.
func (m *CSRFManager) VerifyToken(sessionToken, token string) error {
	if sessionToken == "" || token == "" {
		return ErrCSRFTokenMissing
	}
	nonce, mac, ok := strings.Cut(token, ".")
	if !ok || nonce == "" || mac == "" {
		return ErrCSRFTokenMismatch
	}
	expected := m.sign(sessionToken, nonce)
	if !hmac.Equal([]byte(expected), []byte(mac)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

func (m *CSRFManager) sign(sessionToken, nonce string) string {
	h := hmac.New(sha256.New, m.secret)
	_, _ = h.Write([]byte(sessionToken))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
