package httpkit

import (
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the caller resolved by AuthRequired.
type Identity struct {
	userID uuid.UUID
	roles  []string
}

// UserID returns the caller's user id (the token subject).
func (i *Identity) UserID() uuid.UUID {
	return i.userID
}

// HasRole reports whether the token granted role.
func (i *Identity) HasRole(role string) bool {
	return slices.Contains(i.roles, role)
}

// IdentityFrom reads the identity stored by AuthRequired.
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return nil, false
	}
	userID, ok := raw.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return nil, false
	}

	var roles []string
	if v, ok := c.Get(ContextRolesKey); ok {
		roles, _ = v.([]string)
	}
	return &Identity{userID: userID, roles: roles}, true
}

// MustGetIdentity returns the caller or aborts with 401 and returns nil.
func MustGetIdentity(c *gin.Context) *Identity {
	id, ok := IdentityFrom(c)
	if !ok {
		abortUnauthorized(c, "unauthorized")
		return nil
	}
	return id
}
