package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/imrishuroy/orderflow/internal/domain"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the verified caller of an operation.
type Identity struct {
	UserID string
	Role   Role
}

func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// Owns reports whether the caller owns a resource belonging to userID.
func (id Identity) Owns(userID string) bool { return id.UserID != "" && id.UserID == userID }

// RequireRole fails with domain.ErrForbidden unless id carries one of roles.
func RequireRole(id Identity, roles ...Role) error {
	for _, r := range roles {
		if id.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q may not perform this operation", domain.ErrForbidden, id.Role)
}

// RequireOwnerOrAdmin fails with domain.ErrForbidden unless id owns the
// resource or is an administrator.
func RequireOwnerOrAdmin(id Identity, ownerID string) error {
	if id.IsAdmin() || id.Owns(ownerID) {
		return nil
	}
	return fmt.Errorf("%w: resource belongs to another user", domain.ErrForbidden)
}

// Provider verifies request credentials.
type Provider interface {
	Identify(r *http.Request) (Identity, error)
}

// Headers set by the upstream gateway after it verified the caller's token.
const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"
)

// HeaderProvider trusts identity headers injected by a gateway that has
// already verified the caller. It verifies nothing itself, so it is only
// selected with AUTH_MODE=gateway.
type HeaderProvider struct{}

func (HeaderProvider) Identify(r *http.Request) (Identity, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: missing %s", domain.ErrUnauthenticated, HeaderUserID)
	}
	role, err := ParseRole(r.Header.Get(HeaderRole))
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Role: role}, nil
}

// ParseRole defaults an empty role to RoleUser.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case "":
		return RoleUser, nil
	case RoleUser, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", domain.ErrUnauthenticated, raw)
}
