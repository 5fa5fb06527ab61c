package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ErrNotFound is returned when a row does not exist. It wraps sql.ErrNoRows.
var ErrNotFound = fmt.Errorf("not found: %w", sql.ErrNoRows)

type User struct {
	ID                    string
	Email                 string
	DisplayName           string
	PasswordHash          string
	Role                  string
	Company               string
	Headline              string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

const (
	JobStatusDraft  = "draft"
	JobStatusOpen   = "open"
	JobStatusPaused = "paused"
	JobStatusClosed = "closed"
)

type Job struct {
	ID             string
	PosterID       string
	Title          string
	Company        string
	Location       string
	EmploymentType string
	Remote         bool
	SalaryMin      *int64
	SalaryMax      *int64
	RewardCents    int64
	Currency       string
	Description    string
	Skills         []string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ReferralLink struct {
	Code       string
	JobID      string
	ReferrerID string
	Clicks     int
	CreatedAt  time.Time
}

const (
	SourceReferral = "referral"
	SourceLink     = "link"
	SourceDirect   = "direct"
)

const (
	ReferralSubmitted    = "submitted"
	ReferralReviewing    = "reviewing"
	ReferralInterviewing = "interviewing"
	ReferralOffered      = "offered"
	ReferralHired        = "hired"
	ReferralRejected     = "rejected"
	ReferralWithdrawn    = "withdrawn"
)

type Referral struct {
	ID             string
	JobID          string
	ReferrerID     string
	CandidateID    string
	CandidateName  string
	CandidateEmail string
	Note           string
	ResumeKey      string
	Source         string
	Status         string
	StatusNote     string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Joined for list views.
	JobTitle   string
	JobCompany string
	PosterID   string
}

type ReferralEvent struct {
	ID         int64
	ReferralID string
	FromStatus string
	ToStatus   string
	ActorID    string
	Note       string
	CreatedAt  time.Time
}

type Payout struct {
	ID            string
	ReferralID    string
	ReferrerID    string
	JobID         string
	AmountCents   int64
	Currency      string
	Status        string
	ScheduledFor  time.Time
	PaidAt        *time.Time
	FailureReason string
	Reference     string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Joined for statements and list views.
	JobTitle      string
	CandidateName string
	PosterID      string
}

// JobQuery is a rendered, parameterized filter for ListJobs.
type JobQuery struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
	Offset  int
}

type StatusCount struct {
	Status string
	Count  int
	Cents  int64
}
