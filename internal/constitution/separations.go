package constitution

import "slices"

// separations are compiled in so the power table file cannot weaken them.
var separations = []Separation{
	{
		ID:        "SEP-1",
		Rule:      "Super Admin != Financial Controller",
		Role:      RoleSuperAdmin,
		Cannot:    []string{"monetization.revenue_allocation.change", "monetization.reserve.withdraw", "monetization.treasury.payout", "monetization.pricing.change"},
		Rationale: "Super Admin has system visibility, not financial control",
	},
	{
		ID:        "SEP-2",
		Rule:      "Blockchain Operator != Governance Authority",
		Role:      RoleBlockchainOperator,
		Cannot:    []string{"network.validator.admit", "network.validator.suspend", "network.validator.slash", "network.scoring_weights.change", "network.protocol.upgrade"},
		Rationale: "Blockchain Operator maintains chain integrity, does not govern network",
	},
	{
		ID:        "SEP-3",
		Rule:      "IVU != Weight Setter",
		Role:      RoleIVUValidator,
		Cannot:    []string{"network.scoring_weights.change", "network.validator.suspend", "network.validator.slash", "network.consensus.override"},
		Rationale: "IVU provides scientific oversight, does not set governance parameters",
	},
	{
		ID:        "SEP-4",
		Rule:      "Risk != Execution",
		Role:      RoleRiskCommittee,
		Cannot:    []string{"monetization.reserve.withdraw", "monetization.treasury.payout", "network.chain.anchor"},
		Rationale: "Risk proposes and oversees, does not execute",
	},
	{
		ID:        "SEP-5",
		Rule:      "Compliance != Economic Allocator",
		Role:      RoleComplianceOfficer,
		Cannot:    []string{"monetization.revenue_allocation.change", "monetization.pricing.change", "monetization.validator_incentive.change"},
		Rationale: "Compliance enforces rules, does not allocate economics",
	},
	{
		ID:        "SEP-6",
		Rule:      "Treasury != Policy Maker",
		Role:      RoleTreasury,
		Cannot:    []string{"monetization.revenue_allocation.change", "monetization.pricing.change", "network.validator.admit", "network.protocol.upgrade"},
		Rationale: "Treasury executes approved payouts, does not set policy",
	},
}

// Separations returns a copy of the hardcoded separation rules.
func Separations() []Separation {
	out := make([]Separation, len(separations))
	for i, s := range separations {
		s.Cannot = slices.Clone(s.Cannot)
		out[i] = s
	}
	return out
}

func separationFor(role Role, action string) *Separation {
	for i := range separations {
		if separations[i].forbids(role, action) {
			s := separations[i]
			s.Cannot = slices.Clone(s.Cannot)
			return &s
		}
	}
	return nil
}

func separationsFor(role Role) []Separation {
	out := []Separation{}
	for _, s := range Separations() {
		if s.Role == role {
			out = append(out, s)
		}
	}
	return out
}
