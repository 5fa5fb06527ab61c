package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "poster writes jobs", role: RolePoster, action: ActionJobsWrite, allow: true},
		{name: "poster reviews referrals", role: RolePoster, action: ActionReferralsReview, allow: true},
		{name: "poster cannot refer", role: RolePoster, action: ActionReferralsCreate, allow: false},
		{name: "referrer refers", role: RoleReferrer, action: ActionReferralsCreate, allow: true},
		{name: "referrer reads payouts", role: RoleReferrer, action: ActionPayoutsRead, allow: true},
		{name: "referrer cannot manage payouts", role: RoleReferrer, action: ActionPayoutsManage, allow: false},
		{name: "candidate applies", role: RoleCandidate, action: ActionApplicationsCreate, allow: true},
		{name: "candidate cannot see payouts", role: RoleCandidate, action: ActionPayoutsRead, allow: false},
		{name: "candidate cannot write jobs", role: RoleCandidate, action: ActionJobsWrite, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionJobsRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("poster"); got != RolePoster {
		t.Fatalf("Normalize(poster) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleCandidate {
		t.Fatalf("Normalize(superuser) = %q, want candidate", got)
	}
}

func TestSelfAssignable(t *testing.T) {
	for _, role := range []Role{RolePoster, RoleReferrer, RoleCandidate} {
		if !SelfAssignable(role) {
			t.Fatalf("expected %q to be self-assignable", role)
		}
	}
	if SelfAssignable(RoleAdmin) {
		t.Fatal("admin must not be self-assignable")
	}
}
