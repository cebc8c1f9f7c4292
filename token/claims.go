package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashport-labs/apikey-gateway/interfaces"
)

// Type discriminates the two token shapes.
type Type string

const (
	TypeSession Type = "session"
	TypeSecure  Type = "secure"
)

// SubjectType distinguishes partner members from gateway admins.
type SubjectType string

const (
	SubjectPartner SubjectType = "partner"
	SubjectAdmin   SubjectType = "admin"
)

// SecureScope names the single sensitive operation a secure token authorizes.
type SecureScope string

const (
	ScopeReveal     SecureScope = "reveal"
	ScopeRegenerate SecureScope = "regenerate"
)

// ParseSecureScope validates a client-supplied action string.
func ParseSecureScope(s string) (SecureScope, error) {
	switch SecureScope(s) {
	case ScopeReveal, ScopeRegenerate:
		return SecureScope(s), nil
	default:
		return "", fmt.Errorf("invalid action %q", s)
	}
}

// Identity is the principal shared by both claim shapes.
type Identity struct {
	SubType   SubjectType     `json:"subType"`
	PartnerID string          `json:"partnerId,omitempty"`
	MemberID  string          `json:"memberId,omitempty"`
	AdminID   string          `json:"adminId,omitempty"`
	IsAdmin   bool            `json:"isAdmin"`
	Role      interfaces.Role `json:"role,omitempty"`
}

// SessionClaims is the long-lived portal token payload. It carries no
// operation binding.
type SessionClaims struct {
	jwt.RegisteredClaims
	Identity
	TokenType Type `json:"tokenType"`
}

// SecureClaims is the short-lived step-up token payload. Every binding field
// is required for the secure gate's checks; the jti lives in RegisteredClaims.ID.
type SecureClaims struct {
	jwt.RegisteredClaims
	Identity
	TokenType Type `json:"tokenType"`

	StepUpAt   int64       `json:"stepUpAt"`
	Scope      SecureScope `json:"scope"`
	ResourceID string      `json:"resourceId"`
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	IPHash     string      `json:"ipHash,omitempty"`
	UAHash     string      `json:"uaHash,omitempty"`
}
