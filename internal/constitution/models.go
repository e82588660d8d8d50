package constitution

// Role is a governance role carried by callers and approvers.
type Role string

const (
	RoleSuperAdmin         Role = "super_admin"
	RoleAdmin              Role = "admin"
	RoleGGCMember          Role = "ggc_member"
	RoleRiskCommittee      Role = "risk_committee"
	RoleComplianceOfficer  Role = "compliance_officer"
	RoleBlockchainOperator Role = "blockchain_operator"
	RoleIVUValidator       Role = "ivu_validator"
	RoleExecutive          Role = "executive"
	RoleOpsManager         Role = "ops_manager"
	RoleRiskOfficer        Role = "risk_officer"
	RoleTreasury           Role = "treasury_role"
)

var knownRoles = map[Role]bool{
	RoleSuperAdmin:         true,
	RoleAdmin:              true,
	RoleGGCMember:          true,
	RoleRiskCommittee:      true,
	RoleComplianceOfficer:  true,
	RoleBlockchainOperator: true,
	RoleIVUValidator:       true,
	RoleExecutive:          true,
	RoleOpsManager:         true,
	RoleRiskOfficer:        true,
	RoleTreasury:           true,
}

// IsKnownRole reports whether r belongs to the governance role set.
func IsKnownRole(r Role) bool {
	return knownRoles[r]
}

// RequirementType names the extra approval an allowed action needs.
type RequirementType string

const (
	RequireNone                    RequirementType = "none"
	RequireDualKey                 RequirementType = "dual_key"
	RequireMultiParty              RequirementType = "multi_party"
	RequireSuperMajority           RequirementType = "super_majority"
	RequireConstitutionalAmendment RequirementType = "constitutional_amendment"
)

// Requirement is attached to conditional actions.
type Requirement struct {
	Type      RequirementType `yaml:"type" json:"type"`
	Roles     []Role          `yaml:"roles,omitempty" json:"roles,omitempty"`
	Threshold float64         `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// IsNone reports whether the requirement demands nothing beyond the gate.
func (r *Requirement) IsNone() bool {
	return r == nil || r.Type == "" || r.Type == RequireNone
}

// SatisfiableBySecondApprover reports whether one additional approver can meet
// the requirement within a single request.
func (r *Requirement) SatisfiableBySecondApprover() bool {
	return r != nil && (r.Type == RequireDualKey || r.Type == RequireMultiParty)
}

// AcceptsRole reports whether an approver holding role counts toward the requirement.
func (r *Requirement) AcceptsRole(role Role) bool {
	if r == nil {
		return false
	}
	for _, accepted := range r.Roles {
		if accepted == role {
			return true
		}
	}
	return false
}

// Power is one row of the power table.
type Power struct {
	Action      string       `yaml:"action" json:"action"`
	Domain      string       `yaml:"domain" json:"domain"`
	Charter     string       `yaml:"charter,omitempty" json:"charter,omitempty"`
	Article     int          `yaml:"article,omitempty" json:"article,omitempty"`
	Allowed     []Role       `yaml:"allowed" json:"allowed"`
	Denied      []Role       `yaml:"denied" json:"denied"`
	Requirement *Requirement `yaml:"requires,omitempty" json:"requires,omitempty"`
	Immutable   bool         `yaml:"immutable,omitempty" json:"immutable,omitempty"`
}

func (p *Power) allows(role Role) bool {
	for _, r := range p.Allowed {
		if r == role {
			return true
		}
	}
	return false
}

func (p *Power) denies(role Role) bool {
	for _, r := range p.Denied {
		if r == role {
			return true
		}
	}
	return false
}

// Table is the versioned power table file.
type Table struct {
	Version string  `yaml:"version" json:"version"`
	Powers  []Power `yaml:"powers" json:"powers"`
}

// Separation is a hardcoded role/action prohibition that no table edit can lift.
type Separation struct {
	ID        string   `json:"id"`
	Rule      string   `json:"rule"`
	Role      Role     `json:"role"`
	Cannot    []string `json:"cannot"`
	Rationale string   `json:"rationale"`
}

func (s Separation) forbids(role Role, action string) bool {
	if s.Role != role {
		return false
	}
	for _, a := range s.Cannot {
		if a == action {
			return true
		}
	}
	return false
}

// Decision codes.
const (
	CodeUnknownAction       = "UNKNOWN_ACTION"
	CodeImmutableAction     = "IMMUTABLE_ACTION"
	CodeConstitutionalBlock = "CONSTITUTIONAL_BLOCK"
)

// Decision is the outcome of Enforce.
type Decision struct {
	Action      string       `json:"action"`
	Role        Role         `json:"role"`
	Allowed     bool         `json:"allowed"`
	Conditional bool         `json:"conditional"`
	Code        string       `json:"code,omitempty"`
	Reason      string       `json:"reason"`
	Requirement *Requirement `json:"requirement,omitempty"`
	Separation  *Separation  `json:"separation,omitempty"`
	Immutable   bool         `json:"immutable,omitempty"`
}

// ActionPower is an entry in a role powers listing.
type ActionPower struct {
	Action      string       `json:"action"`
	Charter     string       `json:"charter,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Requirement *Requirement `json:"requires,omitempty"`
}

// RolePowers partitions every action by what role may do with it.
type RolePowers struct {
	Role        Role          `json:"role"`
	Can         []ActionPower `json:"can"`
	Conditional []ActionPower `json:"conditional"`
	Cannot      []ActionPower `json:"cannot"`
	Separations []Separation  `json:"separations"`
}
