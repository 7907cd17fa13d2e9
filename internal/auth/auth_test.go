package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/orderflow/internal/domain"
)

func TestHeaderProvider(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders/my", nil)
	_, err := HeaderProvider{}.Identify(req)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	req.Header.Set(HeaderUserID, "u1")
	id, err := HeaderProvider{}.Identify(req)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Role: RoleUser}, id)

	req.Header.Set(HeaderRole, "ADMIN")
	id, err = HeaderProvider{}.Identify(req)
	require.NoError(t, err)
	assert.True(t, id.IsAdmin())

	req.Header.Set(HeaderRole, "root")
	_, err = HeaderProvider{}.Identify(req)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestRequireRole(t *testing.T) {
	assert.NoError(t, RequireRole(Identity{UserID: "a", Role: RoleAdmin}, RoleAdmin))
	assert.ErrorIs(t, RequireRole(Identity{UserID: "u", Role: RoleUser}, RoleAdmin), domain.ErrForbidden)
}

func TestRequireOwnerOrAdmin(t *testing.T) {
	assert.NoError(t, RequireOwnerOrAdmin(Identity{UserID: "u1", Role: RoleUser}, "u1"))
	assert.NoError(t, RequireOwnerOrAdmin(Identity{UserID: "a", Role: RoleAdmin}, "u1"))
	assert.ErrorIs(t, RequireOwnerOrAdmin(Identity{UserID: "u2", Role: RoleUser}, "u1"), domain.ErrForbidden)
	assert.ErrorIs(t, RequireOwnerOrAdmin(Identity{}, ""), domain.ErrForbidden)
}
