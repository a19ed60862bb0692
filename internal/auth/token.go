package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"surveygraph/api/internal/rbac"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Credentials checks operator bearer tokens against bcrypt hashes. A role
// with an empty hash is not granted to anyone.
type Credentials struct {
	adminHash  []byte
	viewerHash []byte
}

func NewCredentials(adminHash, viewerHash string) Credentials {
	return Credentials{
		adminHash:  []byte(strings.TrimSpace(adminHash)),
		viewerHash: []byte(strings.TrimSpace(viewerHash)),
	}
}

// Enabled reports whether any operator token is configured.
func (c Credentials) Enabled() bool {
	return len(c.adminHash) > 0 || len(c.viewerHash) > 0
}

// Authenticate resolves a bearer token to a role. Admin is tried first so a
// token matching both hashes gets the wider role.
func (c Credentials) Authenticate(token string) (rbac.Role, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	if len(c.adminHash) > 0 && bcrypt.CompareHashAndPassword(c.adminHash, []byte(token)) == nil {
		return rbac.RoleAdmin, nil
	}
	if len(c.viewerHash) > 0 && bcrypt.CompareHashAndPassword(c.viewerHash, []byte(token)) == nil {
		return rbac.RoleViewer, nil
	}
	return "", ErrInvalidToken
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// HashSecret returns the bcrypt hash to configure for a plain token.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// HashToken is a stable, non-reversible key for a token.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
