package constitution

import (
	"fmt"
	"slices"
	"strings"
)

// Enforce decides whether role may perform action. It reads only the loaded table
// and the compiled separations, so identical inputs always yield identical output.
//
// Rule priority (fail-fast):
//  1. Unknown action - denied
//  2. Immutable action - denied for every role, defined or not
//  3. Deny-list or separation rule - denied, naming the separation when one matches
//  4. Allow-list present without role - denied
//  5. Requirement present - allowed, conditional on the requirement
//  6. Otherwise allowed
func (c *Constitution) Enforce(role Role, action string) Decision {
	d := Decision{Action: action, Role: role}

	power, ok := c.powers[action]
	if !ok {
		d.Code = CodeUnknownAction
		d.Reason = fmt.Sprintf("Unknown constitutional action: %s", action)
		return d
	}

	if power.Immutable {
		d.Code = CodeImmutableAction
		d.Immutable = true
		d.Reason = fmt.Sprintf("IMMUTABLE: %s is prohibited for ALL roles", action)
		return d
	}

	sep := separationFor(role, action)
	if sep != nil || power.denies(role) {
		d.Code = CodeConstitutionalBlock
		d.Separation = sep
		if sep != nil {
			d.Reason = fmt.Sprintf("CONSTITUTIONAL BLOCK [%s]: %s. %s", sep.ID, sep.Rule, sep.Rationale)
		} else {
			d.Reason = fmt.Sprintf("Role %q is constitutionally denied action %q", role, action)
		}
		return d
	}

	if len(power.Allowed) > 0 && !power.allows(role) {
		d.Code = CodeConstitutionalBlock
		d.Reason = fmt.Sprintf("Role %q not in allowed list for %q. Allowed: %s", role, action, joinRoles(power.Allowed))
		return d
	}

	d.Allowed = true
	if !power.Requirement.IsNone() {
		req := *power.Requirement
		req.Roles = slices.Clone(req.Roles)
		d.Conditional = true
		d.Requirement = &req
		d.Reason = fmt.Sprintf("Action %q requires %s", action, req.Type)
		return d
	}
	d.Reason = "Constitutionally permitted"
	return d
}

// RolePowers partitions every action into what role can do outright, can do with
// extra approval, and cannot do.
func (c *Constitution) RolePowers(role Role) RolePowers {
	rp := RolePowers{
		Role:        role,
		Can:         []ActionPower{},
		Conditional: []ActionPower{},
		Cannot:      []ActionPower{},
		Separations: separationsFor(role),
	}
	for _, action := range c.order {
		power := c.powers[action]
		d := c.Enforce(role, action)
		entry := ActionPower{Action: action, Charter: power.Charter}
		switch {
		case !d.Allowed:
			entry.Reason = cannotReason(d, power)
			rp.Cannot = append(rp.Cannot, entry)
		case d.Conditional:
			entry.Requirement = d.Requirement
			rp.Conditional = append(rp.Conditional, entry)
		default:
			rp.Can = append(rp.Can, entry)
		}
	}
	return rp
}

func cannotReason(d Decision, power Power) string {
	switch {
	case d.Immutable:
		return "IMMUTABLE"
	case d.Separation != nil:
		return d.Separation.ID + ": " + d.Separation.Rule
	case power.denies(d.Role):
		return "Denied"
	default:
		return "Not in allowed list"
	}
}

func joinRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
