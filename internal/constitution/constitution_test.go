package constitution

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allRoles() []Role {
	roles := make([]Role, 0, len(knownRoles)+2)
	for r := range knownRoles {
		roles = append(roles, r)
	}
	return append(roles, "", "role_nobody_defined")
}

func TestEmbeddedTableLoads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, c.Version())
	assert.Len(t, c.Actions(), 32)
	assert.Len(t, c.Separations(), 6)
}

func TestEnforce(t *testing.T) {
	c := MustDefault()

	tests := []struct {
		name        string
		role        Role
		action      string
		allowed     bool
		conditional bool
		code        string
		separation  string
		requirement RequirementType
	}{
		{"unknown action", RoleGGCMember, "network.validator.teleport", false, false, CodeUnknownAction, "", ""},
		{"admit needs multi-party", RoleGGCMember, "network.validator.admit", true, true, "", "", RequireMultiParty},
		{"suspend needs dual key", RoleRiskCommittee, "network.validator.suspend", true, true, "", "", RequireDualKey},
		{"view is unconditional", RoleSuperAdmin, "network.validator.view", true, false, "", "", ""},
		{"consensus view is unconditional", RoleIVUValidator, "network.consensus.view", true, false, "", "", ""},
		{"not in allow list", RoleExecutive, "network.validator.view", false, false, CodeConstitutionalBlock, "", ""},
		{"deny list without separation", RoleAdmin, "network.validator.admit", false, false, CodeConstitutionalBlock, "", ""},
		{"blockchain operator cannot admit", RoleBlockchainOperator, "network.validator.admit", false, false, CodeConstitutionalBlock, "SEP-2", ""},
		{"ivu cannot suspend", RoleIVUValidator, "network.validator.suspend", false, false, CodeConstitutionalBlock, "SEP-3", ""},
		{"risk cannot anchor", RoleRiskCommittee, "network.chain.anchor", false, false, CodeConstitutionalBlock, "SEP-4", ""},
		{"super admin cannot withdraw reserve", RoleSuperAdmin, "monetization.reserve.withdraw", false, false, CodeConstitutionalBlock, "SEP-1", ""},
		{"treasury blocked by separation alone", RoleTreasury, "network.validator.admit", false, false, CodeConstitutionalBlock, "SEP-6", ""},
		{"risk cannot withdraw reserve", RoleRiskCommittee, "monetization.reserve.withdraw", false, false, CodeConstitutionalBlock, "SEP-4", ""},
		{"open action with dual key", RoleComplianceOfficer, "monetization.reserve.withdraw", true, true, "", "", RequireDualKey},
		{"protocol upgrade super majority", RoleGGCMember, "network.protocol.upgrade", true, true, "", "", RequireSuperMajority},
		{"peer connect", RoleAdmin, "network.peer.connect", true, false, "", "", ""},
		{"immutable for ggc", RoleGGCMember, "network.consensus.override", false, false, CodeImmutableAction, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := c.Enforce(tc.role, tc.action)
			assert.Equal(t, tc.allowed, d.Allowed)
			assert.Equal(t, tc.conditional, d.Conditional)
			assert.Equal(t, tc.code, d.Code)
			assert.NotEmpty(t, d.Reason)
			if tc.separation != "" {
				require.NotNil(t, d.Separation)
				assert.Equal(t, tc.separation, d.Separation.ID)
				assert.Contains(t, d.Reason, tc.separation)
				assert.Contains(t, d.Reason, d.Separation.Rationale)
			} else {
				assert.Nil(t, d.Separation)
			}
			if tc.requirement != "" {
				require.NotNil(t, d.Requirement)
				assert.Equal(t, tc.requirement, d.Requirement.Type)
			} else {
				assert.Nil(t, d.Requirement)
			}
		})
	}
}

func TestEnforceIsPureForEveryRoleAndAction(t *testing.T) {
	c := MustDefault()
	for _, p := range c.Actions() {
		for _, role := range allRoles() {
			first := c.Enforce(role, p.Action)
			second := c.Enforce(role, p.Action)
			assert.Equal(t, first, second, "%s/%s", role, p.Action)

			if p.Immutable {
				assert.False(t, first.Allowed, "%s/%s", role, p.Action)
				assert.Equal(t, CodeImmutableAction, first.Code)
				assert.Equal(t, "IMMUTABLE: "+p.Action+" is prohibited for ALL roles", first.Reason)
			}
			if first.Conditional {
				assert.True(t, first.Allowed)
				assert.NotNil(t, first.Requirement)
			}
		}
	}
}

func TestEnforceDoesNotShareTableState(t *testing.T) {
	c := MustDefault()
	d := c.Enforce(RoleRiskCommittee, "network.validator.suspend")
	d.Requirement.Roles[0] = RoleAdmin

	again := c.Enforce(RoleRiskCommittee, "network.validator.suspend")
	assert.Equal(t, RoleRiskCommittee, again.Requirement.Roles[0])
}

func TestSeparationsAlwaysDeny(t *testing.T) {
	c := MustDefault()
	for _, sep := range Separations() {
		for _, action := range sep.Cannot {
			d := c.Enforce(sep.Role, action)
			assert.False(t, d.Allowed, "%s %s", sep.ID, action)
		}
	}
}

func TestRolePowersPartitionActions(t *testing.T) {
	c := MustDefault()
	total := len(c.Actions())
	for _, role := range allRoles() {
		rp := c.RolePowers(role)
		seen := map[string]int{}
		for _, group := range [][]ActionPower{rp.Can, rp.Conditional, rp.Cannot} {
			for _, ap := range group {
				seen[ap.Action]++
			}
		}
		assert.Len(t, seen, total, "role %q", role)
		for action, n := range seen {
			assert.Equal(t, 1, n, "role %q action %s", role, action)
		}
	}

	ggc := c.RolePowers(RoleGGCMember)
	assert.Contains(t, actionNames(ggc.Conditional), "network.validator.admit")
	assert.Contains(t, actionNames(ggc.Cannot), "network.chain.rewrite")

	op := c.RolePowers(RoleBlockchainOperator)
	require.Len(t, op.Separations, 1)
	assert.Equal(t, "SEP-2", op.Separations[0].ID)
}

func actionNames(aps []ActionPower) []string {
	out := make([]string, len(aps))
	for i, ap := range aps {
		out[i] = ap.Action
	}
	return out
}

func TestParseRejectsMalformedTables(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing version", `powers: [{action: a.b, allowed: [admin], denied: []}]`, "version is required"},
		{"empty table", `version: "1"`, "at least one power"},
		{"empty action name", `{version: "1", powers: [{action: "", allowed: [admin]}]}`, "action name is required"},
		{"duplicate action", `{version: "1", powers: [{action: a.b}, {action: a.b}]}`, "duplicate action"},
		{"allowed and denied", `{version: "1", powers: [{action: a.b, allowed: [admin], denied: [admin]}]}`, "both allowed and denied"},
		{"unknown role", `{version: "1", powers: [{action: a.b, allowed: [wizard]}]}`, `unknown role "wizard"`},
		{"unknown requirement", `{version: "1", powers: [{action: a.b, requires: {type: quorum}}]}`, "unknown requirement type"},
		{"dual key without roles", `{version: "1", powers: [{action: a.b, requires: {type: dual_key}}]}`, "needs at least one role"},
		{"multi party unknown role", `{version: "1", powers: [{action: a.b, requires: {type: multi_party, roles: [wizard]}}]}`, "unknown role"},
		{"threshold too low", `{version: "1", powers: [{action: a.b, requires: {type: super_majority, threshold: 50}}]}`, "must be in (50,100]"},
		{"threshold too high", `{version: "1", powers: [{action: a.b, requires: {type: super_majority, threshold: 101}}]}`, "must be in (50,100]"},
		{"immutable with allowed roles", `{version: "1", powers: [{action: a.b, immutable: true, allowed: [admin]}]}`, "immutable actions"},
		{"immutable with requirement", `{version: "1", powers: [{action: a.b, immutable: true, requires: {type: constitutional_amendment}}]}`, "immutable actions"},
		{"not yaml", "powers: [unclosed", "decode power table"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadFileOverridesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "powers.yaml")
	doc := `
version: "test-1"
powers:
  - action: network.validator.admit
    allowed: [admin]
    denied: []
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test-1", c.Version())
	assert.True(t, c.Enforce(RoleAdmin, "network.validator.admit").Allowed)

	// Separations still apply to a replaced table.
	assert.False(t, c.Enforce(RoleTreasury, "network.validator.admit").Allowed)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
