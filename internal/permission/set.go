package permission

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports a grant map that is not a valid permission set:
// recognized capabilities that are missing, or keys outside the vocabulary.
type ValidationError struct {
	Missing []Capability
	Unknown []Capability
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing capabilities: %s", joinCapabilities(e.Missing)))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("unknown capabilities: %s", joinCapabilities(e.Unknown)))
	}
	if len(parts) == 0 {
		return "permission: invalid set"
	}
	return "permission: " + strings.Join(parts, "; ")
}

func joinCapabilities(caps []Capability) string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// Set is an immutable, total mapping of every recognized capability to a
// boolean. Absence is never representable: a Set either carries an explicit
// value for each capability or it cannot be constructed.
type Set struct {
	grants map[Capability]bool
}

// NewSet validates values against the vocabulary and returns a Set. Every
// recognized capability must be present and no unrecognized key may appear;
// otherwise a *ValidationError describing both defect classes is returned.
func NewSet(values map[Capability]bool) (Set, error) {
	if err := validateTotal(values); err != nil {
		return Set{}, err
	}
	grants := make(map[Capability]bool, len(capabilities))
	for _, c := range capabilities {
		grants[c] = values[c]
	}
	return Set{grants: grants}, nil
}

// DenyAll returns the set that denies every capability. Used for fail-closed
// degradation of malformed sources.
func DenyAll() Set {
	grants := make(map[Capability]bool, len(capabilities))
	for _, c := range capabilities {
		grants[c] = false
	}
	return Set{grants: grants}
}

// AllowAll returns the set that grants every capability.
func AllowAll() Set {
	grants := make(map[Capability]bool, len(capabilities))
	for _, c := range capabilities {
		grants[c] = true
	}
	return Set{grants: grants}
}

// Get returns the value for c. Unrecognized capabilities are false.
func (s Set) Get(c Capability) bool {
	return s.grants[c]
}

// Total reports whether the set carries a value for every capability. The
// zero Set is not total.
func (s Set) Total() bool {
	if len(s.grants) != len(capabilities) {
		return false
	}
	for _, c := range capabilities {
		if _, ok := s.grants[c]; !ok {
			return false
		}
	}
	return true
}

// Equal reports structural equality, independent of construction order.
func (s Set) Equal(o Set) bool {
	if len(s.grants) != len(o.grants) {
		return false
	}
	for c, v := range s.grants {
		if o.grants[c] != v {
			return false
		}
	}
	return true
}

// WithOverride returns a copy of s with every capability the override
// defines replaced by the override's value. The receiver is unchanged.
func (s Set) WithOverride(o Override) Set {
	grants := make(map[Capability]bool, len(capabilities))
	for _, c := range capabilities {
		if v, ok := o.Defines(c); ok {
			grants[c] = v
			continue
		}
		grants[c] = s.grants[c]
	}
	return Set{grants: grants}
}

// Map returns a defensive copy of the grants, for serialization.
func (s Set) Map() map[Capability]bool {
	out := make(map[Capability]bool, len(s.grants))
	for c, v := range s.grants {
		out[c] = v
	}
	return out
}

// Override is an immutable partial grant map: only the capabilities it
// defines are replaced during resolution, everything else passes through.
type Override struct {
	values map[Capability]bool
}

// NewOverride validates values and returns an Override. Keys outside the
// vocabulary are rejected with a *ValidationError; the map may define any
// subset of the vocabulary, including all of it.
func NewOverride(values map[Capability]bool) (Override, error) {
	var unknown []Capability
	for c := range values {
		if !Recognized(c) {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		sortCapabilities(unknown)
		return Override{}, &ValidationError{Unknown: unknown}
	}
	copied := make(map[Capability]bool, len(values))
	for c, v := range values {
		copied[c] = v
	}
	return Override{values: copied}, nil
}

// DenyAllOverride returns the override that pins every capability to false.
// It is the fail-closed replacement for an override that cannot be parsed.
func DenyAllOverride() Override {
	values := make(map[Capability]bool, len(capabilities))
	for _, c := range capabilities {
		values[c] = false
	}
	return Override{values: values}
}

// Defines reports whether the override controls c and, if so, its value.
func (o Override) Defines(c Capability) (bool, bool) {
	v, ok := o.values[c]
	return v, ok
}

// Len returns the number of capabilities the override controls.
func (o Override) Len() int {
	return len(o.values)
}

// Map returns a defensive copy of the overridden grants.
func (o Override) Map() map[Capability]bool {
	out := make(map[Capability]bool, len(o.values))
	for c, v := range o.values {
		out[c] = v
	}
	return out
}

func validateTotal(values map[Capability]bool) error {
	var missing, unknown []Capability
	for _, c := range capabilities {
		if _, ok := values[c]; !ok {
			missing = append(missing, c)
		}
	}
	for c := range values {
		if !Recognized(c) {
			unknown = append(unknown, c)
		}
	}
	if len(missing) > 0 || len(unknown) > 0 {
		sortCapabilities(missing)
		sortCapabilities(unknown)
		return &ValidationError{Missing: missing, Unknown: unknown}
	}
	return nil
}

func sortCapabilities(caps []Capability) {
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
}
