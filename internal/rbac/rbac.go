package rbac

type Role string
type Action string

const (
	RolePoster    Role = "poster"
	RoleReferrer  Role = "referrer"
	RoleCandidate Role = "candidate"
	RoleAdmin     Role = "admin"
)

const (
	ActionJobsRead           Action = "jobs.read"
	ActionJobsWrite          Action = "jobs.write"
	ActionReferralsCreate    Action = "referrals.create"
	ActionReferralsReview    Action = "referrals.review"
	ActionApplicationsCreate Action = "applications.create"
	ActionPayoutsRead        Action = "payouts.read"
	ActionPayoutsManage      Action = "payouts.manage"
	ActionAdmin              Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePoster:
		return action == ActionJobsRead || action == ActionJobsWrite || action == ActionReferralsReview ||
			action == ActionPayoutsRead || action == ActionPayoutsManage
	case RoleReferrer:
		return action == ActionJobsRead || action == ActionReferralsCreate || action == ActionPayoutsRead
	case RoleCandidate:
		return action == ActionJobsRead || action == ActionApplicationsCreate
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RolePoster, RoleReferrer, RoleCandidate, RoleAdmin:
		return Role(role)
	default:
		return RoleCandidate
	}
}

// SelfAssignable reports whether a user may pick the role at signup.
func SelfAssignable(role Role) bool {
	return role == RolePoster || role == RoleReferrer || role == RoleCandidate
}
