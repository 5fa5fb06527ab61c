// Package jobboard filters and sorts job postings, either as SQL for the
// store or in memory for search hits.
package jobboard

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"refery/api/internal/store"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

const (
	SortNewest     = "newest"
	SortOldest     = "oldest"
	SortRewardDesc = "reward_desc"
	SortSalaryDesc = "salary_desc"
	SortTitle      = "title"
	SortRelevance  = "relevance"
)

var ErrInvalidFilter = errors.New("invalid job filter")

var employmentTypes = []string{"full_time", "part_time", "contract", "internship"}

var jobStatuses = []string{store.JobStatusDraft, store.JobStatusOpen, store.JobStatusPaused, store.JobStatusClosed}

// ValidEmploymentType reports whether t is one of the known employment types.
func ValidEmploymentType(t string) bool {
	return slices.Contains(employmentTypes, t)
}

func ValidStatus(s string) bool {
	return slices.Contains(jobStatuses, s)
}

type Filter struct {
	Query          string
	Location       string
	EmploymentType string
	Remote         *bool
	MinReward      int64
	Skills         []string
	Status         string
	PosterID       string
	Sort           string
	Limit          int
	Offset         int
}

// Normalize returns a cleaned copy of f. Unknown sorts fall back to
// relevance when there is a text query and newest otherwise. Unknown
// employment types or statuses are rejected.
func (f Filter) Normalize() (Filter, error) {
	out := f
	out.Query = strings.TrimSpace(f.Query)
	out.Location = strings.TrimSpace(f.Location)
	out.EmploymentType = strings.ToLower(strings.TrimSpace(f.EmploymentType))
	out.Status = strings.ToLower(strings.TrimSpace(f.Status))
	out.PosterID = strings.TrimSpace(f.PosterID)
	out.Sort = strings.ToLower(strings.TrimSpace(f.Sort))

	if out.EmploymentType != "" && !ValidEmploymentType(out.EmploymentType) {
		return Filter{}, fmt.Errorf("%w: unknown employment type %q", ErrInvalidFilter, f.EmploymentType)
	}
	if out.Status != "" && !ValidStatus(out.Status) {
		return Filter{}, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	if out.MinReward < 0 {
		out.MinReward = 0
	}

	out.Skills = nil
	for _, skill := range f.Skills {
		for _, part := range strings.Split(skill, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" && !slices.Contains(out.Skills, part) {
				out.Skills = append(out.Skills, part)
			}
		}
	}

	switch out.Sort {
	case SortNewest, SortOldest, SortRewardDesc, SortSalaryDesc, SortTitle:
	case SortRelevance:
		if out.Query == "" {
			out.Sort = SortNewest
		}
	default:
		if out.Query != "" {
			out.Sort = SortRelevance
		} else {
			out.Sort = SortNewest
		}
	}

	if out.Limit <= 0 {
		out.Limit = DefaultLimit
	}
	if out.Limit > MaxLimit {
		out.Limit = MaxLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out, nil
}

// BuildQuery renders f into a store.JobQuery. f should be normalized.
func BuildQuery(f Filter) store.JobQuery {
	clauses := []string{}
	args := []any{}
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		clauses = append(clauses, "j.status = "+arg(f.Status))
	}
	if f.PosterID != "" {
		clauses = append(clauses, "j.poster_id = "+arg(f.PosterID))
	}
	tsquery := ""
	if f.Query != "" {
		tsquery = "plainto_tsquery('english', " + arg(f.Query) + ")"
		clauses = append(clauses, "j.fts @@ "+tsquery)
	}
	if f.Location != "" {
		clauses = append(clauses, "j.location ILIKE "+arg("%"+escapeLike(f.Location)+"%"))
	}
	if f.EmploymentType != "" {
		clauses = append(clauses, "j.employment_type = "+arg(f.EmploymentType))
	}
	if f.Remote != nil {
		clauses = append(clauses, "j.remote = "+arg(*f.Remote))
	}
	if f.MinReward > 0 {
		clauses = append(clauses, "j.reward_cents >= "+arg(f.MinReward))
	}
	if len(f.Skills) > 0 {
		clauses = append(clauses, "ARRAY(SELECT lower(s) FROM unnest(j.skills) s) @> "+arg(f.Skills)+"::text[]")
	}

	return store.JobQuery{
		Where:   strings.Join(clauses, " AND "),
		Args:    args,
		OrderBy: orderBy(f.Sort, tsquery),
		Limit:   f.Limit,
		Offset:  f.Offset,
	}
}

func orderBy(sort, tsquery string) string {
	switch sort {
	case SortRelevance:
		if tsquery == "" {
			return "j.created_at DESC"
		}
		return "ts_rank(j.fts, " + tsquery + ") DESC, j.created_at DESC"
	case SortOldest:
		return "j.created_at ASC"
	case SortRewardDesc:
		return "j.reward_cents DESC, j.created_at DESC"
	case SortSalaryDesc:
		return "COALESCE(j.salary_max, j.salary_min, 0) DESC, j.created_at DESC"
	case SortTitle:
		return "lower(j.title) ASC"
	default:
		return "j.created_at DESC"
	}
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
