package app

import (
	"reflect"
	"strings"
	"time"

	"refery/api/internal/store"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type SignUpInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Company     string `json:"company"`
}

type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProfileInput struct {
	DisplayName string `json:"displayName" validate:"required,max=100"`
	Company     string `json:"company" validate:"max=200"`
	Headline    string `json:"headline" validate:"max=200"`
}

type JobInput struct {
	Title          string   `json:"title" validate:"required,max=200"`
	Company        string   `json:"company" validate:"max=200"`
	Location       string   `json:"location" validate:"max=200"`
	EmploymentType string   `json:"employmentType" validate:"omitempty,oneof=full_time part_time contract internship"`
	Remote         bool     `json:"remote"`
	SalaryMin      *int64   `json:"salaryMin" validate:"omitempty,gte=0"`
	SalaryMax      *int64   `json:"salaryMax" validate:"omitempty,gte=0"`
	RewardCents    int64    `json:"rewardCents" validate:"gte=0"`
	Currency       string   `json:"currency" validate:"omitempty,len=3,alpha"`
	Description    string   `json:"description" validate:"max=20000"`
	Skills         []string `json:"skills" validate:"max=30,dive,max=50"`
	Status         string   `json:"status" validate:"omitempty,oneof=draft open"`
}

type JobStatusInput struct {
	Status string `json:"status" validate:"required,oneof=draft open paused closed"`
}

type ReferralInput struct {
	CandidateName  string `json:"candidateName" validate:"required,max=200"`
	CandidateEmail string `json:"candidateEmail" validate:"required,email,max=320"`
	Note           string `json:"note" validate:"max=2000"`
}

type ApplyInput struct {
	Code string `json:"code" validate:"max=32"`
	Note string `json:"note" validate:"max=2000"`
}

type StatusInput struct {
	Status string `json:"status" validate:"required,oneof=submitted reviewing interviewing offered hired rejected withdrawn"`
	Note   string `json:"note" validate:"max=1000"`
}

type PayoutStatusInput struct {
	Status string `json:"status" validate:"required,oneof=scheduled cancelled"`
	Note   string `json:"note" validate:"max=500"`
}

type ChatInput struct {
	Message string `json:"message" validate:"required,max=1000"`
}

// Views

type UserView struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	Role          string    `json:"role"`
	Company       string    `json:"company"`
	Headline      string    `json:"headline"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

func userView(u store.User) UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          u.Role,
		Company:       u.Company,
		Headline:      u.Headline,
		EmailVerified: u.IsEmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

type JobView struct {
	ID             string    `json:"id"`
	PosterID       string    `json:"posterId"`
	Title          string    `json:"title"`
	Company        string    `json:"company"`
	Location       string    `json:"location"`
	EmploymentType string    `json:"employmentType"`
	Remote         bool      `json:"remote"`
	SalaryMin      *int64    `json:"salaryMin"`
	SalaryMax      *int64    `json:"salaryMax"`
	RewardCents    int64     `json:"rewardCents"`
	Currency       string    `json:"currency"`
	Description    string    `json:"description"`
	Skills         []string  `json:"skills"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func jobView(j store.Job) JobView {
	skills := j.Skills
	if skills == nil {
		skills = []string{}
	}
	return JobView{
		ID:             j.ID,
		PosterID:       j.PosterID,
		Title:          j.Title,
		Company:        j.Company,
		Location:       j.Location,
		EmploymentType: j.EmploymentType,
		Remote:         j.Remote,
		SalaryMin:      j.SalaryMin,
		SalaryMax:      j.SalaryMax,
		RewardCents:    j.RewardCents,
		Currency:       j.Currency,
		Description:    j.Description,
		Skills:         skills,
		Status:         j.Status,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func jobViews(jobs []store.Job) []JobView {
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobView(j))
	}
	return out
}

type ReferralView struct {
	ID             string    `json:"id"`
	JobID          string    `json:"jobId"`
	JobTitle       string    `json:"jobTitle"`
	JobCompany     string    `json:"jobCompany"`
	ReferrerID     string    `json:"referrerId,omitempty"`
	CandidateID    string    `json:"candidateId,omitempty"`
	CandidateName  string    `json:"candidateName"`
	CandidateEmail string    `json:"candidateEmail"`
	Note           string    `json:"note"`
	HasResume      bool      `json:"hasResume"`
	Source         string    `json:"source"`
	Status         string    `json:"status"`
	StatusNote     string    `json:"statusNote"`
	NextStatuses   []string  `json:"nextStatuses"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type ReferralEventView struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	ActorID   string    `json:"actorId"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

type LinkView struct {
	Code      string    `json:"code"`
	JobID     string    `json:"jobId"`
	URL       string    `json:"url"`
	Clicks    int       `json:"clicks"`
	CreatedAt time.Time `json:"createdAt"`
}

type PayoutView struct {
	ID            string     `json:"id"`
	ReferralID    string     `json:"referralId"`
	ReferrerID    string     `json:"referrerId"`
	JobID         string     `json:"jobId"`
	JobTitle      string     `json:"jobTitle"`
	CandidateName string     `json:"candidateName"`
	AmountCents   int64      `json:"amountCents"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	ScheduledFor  time.Time  `json:"scheduledFor"`
	PaidAt        *time.Time `json:"paidAt"`
	FailureReason string     `json:"failureReason,omitempty"`
	Reference     string     `json:"reference,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func payoutView(p store.Payout) PayoutView {
	return PayoutView{
		ID:            p.ID,
		ReferralID:    p.ReferralID,
		ReferrerID:    p.ReferrerID,
		JobID:         p.JobID,
		JobTitle:      p.JobTitle,
		CandidateName: p.CandidateName,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		Status:        p.Status,
		ScheduledFor:  p.ScheduledFor,
		PaidAt:        p.PaidAt,
		FailureReason: p.FailureReason,
		Reference:     p.Reference,
		CreatedAt:     p.CreatedAt,
	}
}
