package permission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grants builds a total map with every capability false except the listed ones.
func grants(allowed ...Capability) map[Capability]bool {
	values := make(map[Capability]bool, len(capabilities))
	for _, c := range Capabilities() {
		values[c] = false
	}
	for _, c := range allowed {
		values[c] = true
	}
	return values
}

func TestNewSetRequiresTotality(t *testing.T) {
	values := grants()
	delete(values, CapEditUsers)
	delete(values, CapDeleteUsers)

	_, err := NewSet(values)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []Capability{CapEditUsers, CapDeleteUsers}, verr.Missing)
	assert.Empty(t, verr.Unknown)
}

func TestNewSetRejectsUnknownKeys(t *testing.T) {
	values := grants()
	values["canFly"] = true

	_, err := NewSet(values)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []Capability{"canFly"}, verr.Unknown)
	assert.Empty(t, verr.Missing)
}

func TestNewSetReportsBothDefects(t *testing.T) {
	values := grants()
	delete(values, CapSeeGroups)
	values["bogus"] = false

	_, err := NewSet(values)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []Capability{CapSeeGroups}, verr.Missing)
	assert.Equal(t, []Capability{"bogus"}, verr.Unknown)
	assert.Contains(t, verr.Error(), "missing capabilities")
	assert.Contains(t, verr.Error(), "unknown capabilities")
}

func TestSetEqualIsStructural(t *testing.T) {
	a, err := NewSet(grants(CapEditUsers, CapSeeGroups))
	require.NoError(t, err)
	b, err := NewSet(grants(CapSeeGroups, CapEditUsers))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	c, err := NewSet(grants(CapEditUsers))
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
}

func TestSetZeroValueIsNotTotal(t *testing.T) {
	var zero Set
	assert.False(t, zero.Total())

	built, err := NewSet(grants())
	require.NoError(t, err)
	assert.True(t, built.Total())
}

func TestWithOverrideDoesNotMutateReceiver(t *testing.T) {
	base, err := NewSet(grants(CapEditUsers))
	require.NoError(t, err)
	ov, err := NewOverride(map[Capability]bool{CapEditUsers: false, CapSeeReports: true})
	require.NoError(t, err)

	patched := base.WithOverride(ov)

	assert.False(t, patched.Get(CapEditUsers))
	assert.True(t, patched.Get(CapSeeReports))
	assert.True(t, base.Get(CapEditUsers), "receiver must be unchanged")
	assert.False(t, base.Get(CapSeeReports))
	assert.True(t, patched.Total())
}

func TestNewOverrideRejectsUnknownKeys(t *testing.T) {
	_, err := NewOverride(map[Capability]bool{"canTeleport": true})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []Capability{"canTeleport"}, verr.Unknown)
}

func TestOverrideMayBePartial(t *testing.T) {
	ov, err := NewOverride(map[Capability]bool{CapDeleteUsers: false})
	require.NoError(t, err)
	assert.Equal(t, 1, ov.Len())

	v, ok := ov.Defines(CapDeleteUsers)
	assert.True(t, ok)
	assert.False(t, v)

	_, ok = ov.Defines(CapEditUsers)
	assert.False(t, ok)
}

func TestDenyAllAndAllowAll(t *testing.T) {
	deny := DenyAll()
	allow := AllowAll()
	require.True(t, deny.Total())
	require.True(t, allow.Total())
	for _, c := range Capabilities() {
		assert.False(t, deny.Get(c))
		assert.True(t, allow.Get(c))
	}
}

func TestMapReturnsDefensiveCopy(t *testing.T) {
	set, err := NewSet(grants(CapSeeUsers))
	require.NoError(t, err)

	m := set.Map()
	m[CapSeeUsers] = false
	assert.True(t, set.Get(CapSeeUsers))
}
