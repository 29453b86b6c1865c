package permission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	set, err := NewSet(grants(CapEditUsers))
	require.NoError(t, err)

	assert.True(t, Authorize(set, CapEditUsers))
	assert.False(t, Authorize(set, CapDeleteUsers))
	assert.False(t, Authorize(set, Capability("canDoAnything")), "unrecognized capability is denied")
}

func TestRequireOrDeny(t *testing.T) {
	set, err := NewSet(grants(CapSeeGroups))
	require.NoError(t, err)

	require.NoError(t, RequireOrDeny(set, CapSeeGroups))

	err = RequireOrDeny(set, CapDeleteUsers)
	require.Error(t, err)

	var aerr *AuthorizationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, CapDeleteUsers, aerr.Capability)
	assert.Contains(t, aerr.Error(), "canDeleteUsers")
}

func TestAuthorizeZeroSetDeniesEverything(t *testing.T) {
	var zero Set
	for _, c := range Capabilities() {
		assert.False(t, Authorize(zero, c))
	}
}
