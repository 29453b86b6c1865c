// Package permission implements the capability vocabulary, the total
// permission set type, and the resolver that combines role, group, and
// individual override grants into one effective set with provenance.
package permission

// Capability names a single boolean permission.
type Capability string

// The closed capability vocabulary. It is shared verbatim with the role,
// group, and override stores and with UI gating; adding a name requires
// updating all producers in the same change so every stored set stays total.
const (
	CapSeeUsers    Capability = "canSeeUsers"
	CapCreateUsers Capability = "canCreateUsers"
	CapEditUsers   Capability = "canEditUsers"
	CapModifyUsers Capability = "canModifyUsers"
	CapDeleteUsers Capability = "canDeleteUsers"

	CapSeeGroups    Capability = "canSeeGroups"
	CapCreateGroups Capability = "canCreateGroups"
	CapEditGroups   Capability = "canEditGroups"
	CapDeleteGroups Capability = "canDeleteGroups"

	CapSeeRoles  Capability = "canSeeRoles"
	CapEditRoles Capability = "canEditRoles"

	CapSeeSecuritySettings  Capability = "canSeeSecuritySettings"
	CapEditSecuritySettings Capability = "canEditSecuritySettings"

	CapSeeInitiatives  Capability = "canSeeInitiatives"
	CapEditInitiatives Capability = "canEditInitiatives"

	CapSeeReports    Capability = "canSeeReports"
	CapExportReports Capability = "canExportReports"
)

var capabilities = []Capability{
	CapSeeUsers,
	CapCreateUsers,
	CapEditUsers,
	CapModifyUsers,
	CapDeleteUsers,
	CapSeeGroups,
	CapCreateGroups,
	CapEditGroups,
	CapDeleteGroups,
	CapSeeRoles,
	CapEditRoles,
	CapSeeSecuritySettings,
	CapEditSecuritySettings,
	CapSeeInitiatives,
	CapEditInitiatives,
	CapSeeReports,
	CapExportReports,
}

var capabilityIndex = func() map[Capability]struct{} {
	idx := make(map[Capability]struct{}, len(capabilities))
	for _, c := range capabilities {
		idx[c] = struct{}{}
	}
	return idx
}()

// Capabilities returns the full vocabulary in declaration order.
func Capabilities() []Capability {
	out := make([]Capability, len(capabilities))
	copy(out, capabilities)
	return out
}

// Recognized reports whether c belongs to the vocabulary.
func Recognized(c Capability) bool {
	_, ok := capabilityIndex[c]
	return ok
}
