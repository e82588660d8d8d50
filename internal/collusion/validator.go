// Package collusion checks that the two approvers of a dual-key or multi-party
// action are independent of each other.
package collusion

import (
	"fmt"
	"slices"
)

// Severity ranks an independence issue.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// IssueType names the independence rule an approver pair violated.
type IssueType string

const (
	IssueSelfApproval      IssueType = "self_approval"
	IssueSameEntity        IssueType = "same_entity"
	IssueSameReportingLine IssueType = "same_reporting_line"
	IssueSameRole          IssueType = "same_role"
)

// Issue is one independence finding.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Detail   string    `json:"detail"`
}

// Approver is one party to an approval.
type Approver struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	EntityID  string `json:"entity_id,omitempty"`
	ReportsTo string `json:"reports_to,omitempty"`
}

// Result is the independence verdict. Score starts at 100 and drops 25 per issue.
type Result struct {
	Blocked bool    `json:"blocked"`
	Score   int     `json:"independence_score"`
	Issues  []Issue `json:"issues"`
}

// Has reports whether the result contains an issue of type t.
func (r Result) Has(t IssueType) bool {
	return slices.ContainsFunc(r.Issues, func(i Issue) bool { return i.Type == t })
}

const penaltyPerIssue = 25

// Validator evaluates approver pairs.
type Validator struct {
	blockOnHigh bool
}

type Option func(*Validator)

// WithBlockOnHigh makes HIGH issues block in addition to CRITICAL ones.
func WithBlockOnHigh() Option {
	return func(v *Validator) {
		v.blockOnHigh = true
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks a and b against the independence rules. It is symmetric in
// its arguments.
func (v *Validator) Validate(a, b Approver) Result {
	issues := []Issue{}

	if a.ID == b.ID {
		issues = append(issues, Issue{
			Type:     IssueSelfApproval,
			Severity: SeverityCritical,
			Detail:   "Same person cannot be both approvers",
		})
	}
	if a.EntityID != "" && a.EntityID == b.EntityID {
		issues = append(issues, Issue{
			Type:     IssueSameEntity,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("Both approvers belong to entity %q", a.EntityID),
		})
	}
	if line, ok := sharedReportingLine(a, b); ok {
		issues = append(issues, Issue{
			Type:     IssueSameReportingLine,
			Severity: SeverityHigh,
			Detail:   line,
		})
	}
	if a.Role == b.Role {
		issues = append(issues, Issue{
			Type:     IssueSameRole,
			Severity: SeverityMedium,
			Detail:   fmt.Sprintf("Both approvers hold role %q", a.Role),
		})
	}

	r := Result{
		Score:  max(0, 100-penaltyPerIssue*len(issues)),
		Issues: issues,
	}
	for _, i := range issues {
		if i.Severity == SeverityCritical || (v.blockOnHigh && i.Severity == SeverityHigh) {
			r.Blocked = true
			break
		}
	}
	return r
}

func sharedReportingLine(a, b Approver) (string, bool) {
	switch {
	case a.ReportsTo != "" && a.ReportsTo == b.ReportsTo:
		return fmt.Sprintf("Both approvers report to %q", a.ReportsTo), true
	case a.ReportsTo != "" && a.ReportsTo == b.ID:
		return fmt.Sprintf("%s reports to %s", a.ID, b.ID), true
	case b.ReportsTo != "" && b.ReportsTo == a.ID:
		return fmt.Sprintf("%s reports to %s", b.ID, a.ID), true
	}
	return "", false
}
