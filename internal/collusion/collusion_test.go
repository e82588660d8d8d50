package collusion

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Approver
		blocked bool
		score   int
		issues  []IssueType
	}{
		{
			name:  "independent approvers",
			a:     Approver{ID: "u-1", Role: "risk_committee", EntityID: "ent-a", ReportsTo: "cro"},
			b:     Approver{ID: "u-2", Role: "ggc_member", EntityID: "ent-b", ReportsTo: "board"},
			score: 100,
		},
		{
			name:    "self approval",
			a:       Approver{ID: "u-1", Role: "risk_committee"},
			b:       Approver{ID: "u-1", Role: "ggc_member"},
			blocked: true,
			score:   75,
			issues:  []IssueType{IssueSelfApproval},
		},
		{
			name:    "same entity",
			a:       Approver{ID: "u-1", Role: "risk_committee", EntityID: "ent-a"},
			b:       Approver{ID: "u-2", Role: "ggc_member", EntityID: "ent-a"},
			blocked: true,
			score:   75,
			issues:  []IssueType{IssueSameEntity},
		},
		{
			name:  "empty entity ids are not shared",
			a:     Approver{ID: "u-1", Role: "risk_committee"},
			b:     Approver{ID: "u-2", Role: "ggc_member"},
			score: 100,
		},
		{
			name:   "shared manager is advisory",
			a:      Approver{ID: "u-1", Role: "risk_committee", ReportsTo: "cro"},
			b:      Approver{ID: "u-2", Role: "ggc_member", ReportsTo: "cro"},
			score:  75,
			issues: []IssueType{IssueSameReportingLine},
		},
		{
			name:   "direct report",
			a:      Approver{ID: "u-1", Role: "risk_committee", ReportsTo: "u-2"},
			b:      Approver{ID: "u-2", Role: "ggc_member"},
			score:  75,
			issues: []IssueType{IssueSameReportingLine},
		},
		{
			name:   "differing only in role is never blocked",
			a:      Approver{ID: "u-1", Role: "ggc_member"},
			b:      Approver{ID: "u-2", Role: "ggc_member"},
			score:  75,
			issues: []IssueType{IssueSameRole},
		},
		{
			name:    "everything wrong",
			a:       Approver{ID: "u-1", Role: "ggc_member", EntityID: "e", ReportsTo: "m"},
			b:       Approver{ID: "u-1", Role: "ggc_member", EntityID: "e", ReportsTo: "m"},
			blocked: true,
			score:   0,
			issues:  []IssueType{IssueSelfApproval, IssueSameEntity, IssueSameReportingLine, IssueSameRole},
		},
	}

	v := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, got := range []Result{v.Validate(tc.a, tc.b), v.Validate(tc.b, tc.a)} {
				assert.Equal(t, tc.blocked, got.Blocked)
				assert.Equal(t, tc.score, got.Score)
				types := make([]IssueType, len(got.Issues))
				for i, issue := range got.Issues {
					types[i] = issue.Type
				}
				assert.ElementsMatch(t, tc.issues, types)
			}
		})
	}
}

func TestSameEntityAlwaysBlocksCritical(t *testing.T) {
	v := New()
	for _, role := range []string{"ggc_member", "risk_committee", "admin"} {
		r := v.Validate(
			Approver{ID: "a", Role: role, EntityID: "acme"},
			Approver{ID: "b", Role: "compliance_officer", EntityID: "acme"},
		)
		require.True(t, r.Blocked)
		require.True(t, r.Has(IssueSameEntity))
		assert.Equal(t, SeverityCritical, r.Issues[0].Severity)
	}
}

func TestBlockOnHigh(t *testing.T) {
	a := Approver{ID: "u-1", Role: "risk_committee", ReportsTo: "cro"}
	b := Approver{ID: "u-2", Role: "ggc_member", ReportsTo: "cro"}

	assert.False(t, New().Validate(a, b).Blocked)
	assert.True(t, New(WithBlockOnHigh()).Validate(a, b).Blocked)

	sameRole := Approver{ID: "u-3", Role: "risk_committee"}
	assert.False(t, New(WithBlockOnHigh()).Validate(a, sameRole).Blocked, "MEDIUM stays advisory")
}

func TestVelocityLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewVelocityLimiter(DefaultVelocityLimit, DefaultVelocityWindow)

	for i := range 3 {
		r := l.Allow("u-1", "u-2", now.Add(time.Duration(i)*time.Hour))
		require.True(t, r.Allowed, "approval %d", i+1)
		assert.Equal(t, i+1, r.Count)
	}

	denied := l.Allow("u-2", "u-1", now.Add(5*time.Hour))
	assert.False(t, denied.Allowed, "pair order does not matter")
	assert.Equal(t, now.Add(24*time.Hour), denied.RetryAt)

	assert.True(t, l.Allow("u-1", "u-3", now.Add(5*time.Hour)).Allowed, "other pairs are independent")

	later := now.Add(24*time.Hour + time.Minute)
	assert.Equal(t, 2, l.Count("u-1", "u-2", later))
	assert.True(t, l.Allow("u-1", "u-2", later).Allowed)
}

func TestVelocityLimiterConcurrent(t *testing.T) {
	l := NewVelocityLimiter(3, time.Hour)
	now := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("a", "b", now).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, allowed)
}
