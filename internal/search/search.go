// Package search finds job postings through Meilisearch, falling back to
// PostgreSQL full-text search when Meilisearch is unavailable.
package search

import (
	"context"
	"strings"

	"refery/api/internal/store"
)

// JobRecord is the document stored in the jobs index.
type JobRecord struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Company        string   `json:"company"`
	Location       string   `json:"location"`
	Description    string   `json:"description"`
	Skills         []string `json:"skills"`
	Status         string   `json:"status"`
	EmploymentType string   `json:"employmentType"`
	Remote         bool     `json:"remote"`
	RewardCents    int64    `json:"rewardCents"`
	CreatedAt      int64    `json:"createdAt"`
}

func RecordFromJob(job store.Job) JobRecord {
	skills := make([]string, 0, len(job.Skills))
	for _, skill := range job.Skills {
		skills = append(skills, strings.ToLower(strings.TrimSpace(skill)))
	}
	return JobRecord{
		ID:             job.ID,
		Title:          job.Title,
		Company:        job.Company,
		Location:       job.Location,
		Description:    job.Description,
		Skills:         skills,
		Status:         job.Status,
		EmploymentType: job.EmploymentType,
		Remote:         job.Remote,
		RewardCents:    job.RewardCents,
		CreatedAt:      job.CreatedAt.Unix(),
	}
}

// Result is a page of jobs plus which backend answered.
type Result struct {
	Jobs    []store.Job
	Total   int
	Backend string
}

const (
	BackendMeili    = "meilisearch"
	BackendPostgres = "postgres"
)

// JobStore is the slice of the store used by search.
type JobStore interface {
	ListJobs(ctx context.Context, q store.JobQuery) ([]store.Job, int, error)
	ListJobsByIDs(ctx context.Context, ids []string) ([]store.Job, error)
}

type jobIndex interface {
	Healthy() bool
	SearchIDs(text, status string, limit int) ([]string, error)
	IndexJobs(records []JobRecord) error
	DeleteJob(id string) error
}
