package permission

import (
	"fmt"
	"sort"
)

// Source identifies which input determined a capability's final value.
type Source string

const (
	// SourceRole marks a value taken from the role set.
	SourceRole Source = "role"
	// SourceIndividual marks a value replaced by the per-user override.
	SourceIndividual Source = "individual"
)

// GroupSource returns the provenance label for a group, "group:<id>".
func GroupSource(groupID string) Source {
	return Source("group:" + groupID)
}

// Fault classifies resolution failures.
type Fault string

const (
	// FaultMissingRole means no role set was supplied. Every user must have
	// exactly one role, so this is a data-integrity violation, not a
	// recoverable runtime condition.
	FaultMissingRole Fault = "missing_role"
	// FaultInvalidSet means the mandatory role set failed the totality
	// invariant.
	FaultInvalidSet Fault = "invalid_permission_set"
)

// ResolutionError is returned when resolution cannot proceed at all.
type ResolutionError struct {
	Fault Fault
	Err   error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permission: resolution failed (%s): %v", e.Fault, e.Err)
	}
	return fmt.Sprintf("permission: resolution failed (%s)", e.Fault)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// GroupGrant carries one group's raw grant map into the resolver.
type GroupGrant struct {
	GroupID string
	Grants  map[Capability]bool
}

// DegradedSource records an input that failed validation and was replaced by
// a deny-all contribution during resolution.
type DegradedSource struct {
	Source Source
	Err    error
}

// Resolution is the resolver output: the effective total set, the source
// that determined each capability, and any inputs degraded fail-closed.
// It is derived state, never ground truth; it is safe to cache under a
// short TTL keyed by (roleID, sorted groupIDs, overrideVersion).
type Resolution struct {
	Resolved   Set
	Provenance map[Capability]Source
	Degraded   []DegradedSource
}

// Resolve combines a role grant map, zero or more group grant maps, and an
// optional override map (nil means no override) into one Resolution.
//
// Per capability: the role value seeds the aggregate; any group granting the
// capability flips it to true (most permissive wins, commutative, so group
// order never matters); an override that defines the capability replaces the
// aggregate unconditionally. The replace semantics for overrides versus the
// OR semantics for groups is deployed behavior and must not be unified.
//
// A nil role map fails with FaultMissingRole and a non-total one with
// FaultInvalidSet; both are fatal. A malformed group or override map is
// degraded to a deny-all contribution and reported in Degraded so the caller
// can log it, never silently widening access.
func Resolve(role map[Capability]bool, groups []GroupGrant, override map[Capability]bool) (*Resolution, error) {
	if role == nil {
		return nil, &ResolutionError{Fault: FaultMissingRole}
	}
	roleSet, err := NewSet(role)
	if err != nil {
		return nil, &ResolutionError{Fault: FaultInvalidSet, Err: err}
	}

	var degraded []DegradedSource

	// Sorting by group ID makes provenance independent of membership
	// iteration order: when several groups grant a capability the role
	// denies, the smallest group ID owns the provenance slot.
	ordered := make([]GroupGrant, len(groups))
	copy(ordered, groups)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].GroupID < ordered[j].GroupID })

	type validGroup struct {
		id  string
		set Set
	}
	valid := make([]validGroup, 0, len(ordered))
	for _, g := range ordered {
		set, err := NewSet(g.Grants)
		if err != nil {
			degraded = append(degraded, DegradedSource{Source: GroupSource(g.GroupID), Err: err})
			continue
		}
		valid = append(valid, validGroup{id: g.GroupID, set: set})
	}

	var ov Override
	hasOverride := override != nil
	if hasOverride {
		ov, err = NewOverride(override)
		if err != nil {
			degraded = append(degraded, DegradedSource{Source: SourceIndividual, Err: err})
			ov = DenyAllOverride()
		}
	}

	resolved := make(map[Capability]bool, len(capabilities))
	provenance := make(map[Capability]Source, len(capabilities))
	for _, c := range capabilities {
		value := roleSet.Get(c)
		source := SourceRole
		if !value {
			for _, g := range valid {
				if g.set.Get(c) {
					value = true
					source = GroupSource(g.id)
					break
				}
			}
		}
		if hasOverride {
			if v, ok := ov.Defines(c); ok {
				value = v
				source = SourceIndividual
			}
		}
		resolved[c] = value
		provenance[c] = source
	}

	set, err := NewSet(resolved)
	if err != nil {
		// Unreachable: resolved covers exactly the vocabulary.
		return nil, &ResolutionError{Fault: FaultInvalidSet, Err: err}
	}
	return &Resolution{Resolved: set, Provenance: provenance, Degraded: degraded}, nil
}
