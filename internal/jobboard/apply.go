package jobboard

import (
	"cmp"
	"slices"
	"strings"

	"refery/api/internal/store"
)

// Matches reports whether job passes every criterion in f except Query,
// which is left to the search backend.
func Matches(job store.Job, f Filter) bool {
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.PosterID != "" && job.PosterID != f.PosterID {
		return false
	}
	if f.Location != "" && !strings.Contains(strings.ToLower(job.Location), strings.ToLower(f.Location)) {
		return false
	}
	if f.EmploymentType != "" && job.EmploymentType != f.EmploymentType {
		return false
	}
	if f.Remote != nil && job.Remote != *f.Remote {
		return false
	}
	if f.MinReward > 0 && job.RewardCents < f.MinReward {
		return false
	}
	for _, want := range f.Skills {
		if !slices.ContainsFunc(job.Skills, func(have string) bool { return strings.EqualFold(have, want) }) {
			return false
		}
	}
	return true
}

// Apply filters and sorts jobs in memory with the same semantics as
// BuildQuery, then pages the result. Relevance keeps the input order. It returns the page and the total
// number of matches. The input slice is not modified.
func Apply(jobs []store.Job, f Filter) ([]store.Job, int) {
	matched := make([]store.Job, 0, len(jobs))
	for _, job := range jobs {
		if Matches(job, f) {
			matched = append(matched, job)
		}
	}
	if f.Sort != "" && f.Sort != SortRelevance {
		Sort(matched, f.Sort)
	}

	total := len(matched)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return matched[start:end], total
}

func salaryKey(job store.Job) int64 {
	switch {
	case job.SalaryMax != nil:
		return *job.SalaryMax
	case job.SalaryMin != nil:
		return *job.SalaryMin
	default:
		return 0
	}
}

// Sort orders jobs in place. Ties are broken by id.
func Sort(jobs []store.Job, sort string) {
	slices.SortStableFunc(jobs, func(a, b store.Job) int {
		var c int
		switch sort {
		case SortOldest:
			c = a.CreatedAt.Compare(b.CreatedAt)
		case SortRewardDesc:
			c = cmp.Compare(b.RewardCents, a.RewardCents)
			if c == 0 {
				c = b.CreatedAt.Compare(a.CreatedAt)
			}
		case SortSalaryDesc:
			c = cmp.Compare(salaryKey(b), salaryKey(a))
			if c == 0 {
				c = b.CreatedAt.Compare(a.CreatedAt)
			}
		case SortTitle:
			c = cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		default:
			c = b.CreatedAt.Compare(a.CreatedAt)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
