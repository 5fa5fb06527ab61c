package search

import (
	"context"
	"fmt"

	"refery/api/internal/jobboard"
	"refery/api/internal/store"
)

// PgFTS answers searches with the generated jobs.fts column.
type PgFTS struct {
	jobs JobStore
}

func NewPgFTS(jobs JobStore) *PgFTS {
	return &PgFTS{jobs: jobs}
}

// Search expects a normalized filter.
func (p *PgFTS) Search(ctx context.Context, f jobboard.Filter) ([]store.Job, int, error) {
	jobs, total, err := p.jobs.ListJobs(ctx, jobboard.BuildQuery(f))
	if err != nil {
		return nil, 0, fmt.Errorf("pg search: %w", err)
	}
	return jobs, total, nil
}

// LoadAllRecords reads every job for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]JobRecord, error) {
	jobs, _, err := p.jobs.ListJobs(ctx, store.JobQuery{})
	if err != nil {
		return nil, fmt.Errorf("load jobs for reindex: %w", err)
	}
	records := make([]JobRecord, 0, len(jobs))
	for _, job := range jobs {
		records = append(records, RecordFromJob(job))
	}
	return records, nil
}
