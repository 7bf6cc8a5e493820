// Package auth implements the authorization boundary from the component
// design: a principal extracted from a bearer token, with two privileged
// roles that bypass owner checks. The core operations (balance engine,
// orchestrator) take a Principal as an explicit parameter — never ambient
// request-scoped state — per the Design Notes.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role is one of the roles a principal may carry.
type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RoleInternalService Role = "INTERNAL_SERVICE"
)

// Principal is the authenticated caller. Name is the token's subject and
// uniquely identifies an account owner.
type Principal struct {
	Name  string
	Roles []string
}

// IsPrivileged reports whether the principal bears ADMIN or INTERNAL_SERVICE
// and therefore bypasses owner checks everywhere in the component design.
func (p Principal) IsPrivileged() bool {
	for _, r := range p.Roles {
		if r == string(RoleAdmin) || r == string(RoleInternalService) {
			return true
		}
	}
	return false
}

// Owns reports whether the principal is the named owner.
func (p Principal) Owns(ownerID string) bool {
	return p.Name == ownerID
}

// CanAccess reports whether the principal may read/write a resource owned
// by ownerID: either the principal is privileged, or is the owner.
func (p Principal) CanAccess(ownerID string) bool {
	return p.IsPrivileged() || p.Owns(ownerID)
}

// EffectiveOwnerFilter rewrites a list-query ownerId filter per §4.4: a
// non-privileged principal's filter is silently forced to their own name.
func (p Principal) EffectiveOwnerFilter(requested string) string {
	if p.IsPrivileged() {
		return requested
	}
	return p.Name
}

var ErrMissingToken = errors.New("auth: missing bearer token")
var ErrInvalidToken = errors.New("auth: invalid bearer token")

type claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Verifier parses and validates bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier bound to the given HMAC secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// ParseRequest extracts the Principal from an HTTP request's Authorization
// header. Roles come from the token's "roles" claim; the principal's name
// is the token's subject.
func (v *Verifier) ParseRequest(r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return Principal{}, ErrMissingToken
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	return v.Parse(raw)
}

// Parse validates a raw JWT and extracts the Principal.
func (v *Verifier) Parse(raw string) (Principal, error) {
	parsed := &claims{}
	token, err := jwt.ParseWithClaims(raw, parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	subject, err := parsed.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Name: subject, Roles: parsed.Roles}, nil
}
