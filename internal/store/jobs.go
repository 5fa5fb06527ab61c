package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const jobColumns = `j.id, j.poster_id, j.title, j.company, j.location, j.employment_type, j.remote,
	j.salary_min, j.salary_max, j.reward_cents, j.currency, j.description,
	array_to_json(j.skills)::text, j.status, j.created_at, j.updated_at`

func scanJob(row rowScanner) (Job, error) {
	var (
		job       Job
		salaryMin sql.NullInt64
		salaryMax sql.NullInt64
		skills    string
	)
	err := row.Scan(
		&job.ID, &job.PosterID, &job.Title, &job.Company, &job.Location, &job.EmploymentType, &job.Remote,
		&salaryMin, &salaryMax, &job.RewardCents, &job.Currency, &job.Description,
		&skills, &job.Status, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if salaryMin.Valid {
		job.SalaryMin = &salaryMin.Int64
	}
	if salaryMax.Valid {
		job.SalaryMax = &salaryMax.Int64
	}
	job.Skills = []string{}
	if skills != "" {
		if err := json.Unmarshal([]byte(skills), &job.Skills); err != nil {
			return Job{}, fmt.Errorf("decode skills: %w", err)
		}
	}
	return job, nil
}

func nullInt64(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func skillsArg(skills []string) []string {
	if skills == nil {
		return []string{}
	}
	return skills
}

func (s *PostgresStore) InsertJob(ctx context.Context, job Job) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs AS j (id, poster_id, title, company, location, employment_type, remote,
			salary_min, salary_max, reward_cents, currency, description, skills, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+jobColumns,
		job.ID, job.PosterID, job.Title, job.Company, job.Location, job.EmploymentType, job.Remote,
		nullInt64(job.SalaryMin), nullInt64(job.SalaryMax), job.RewardCents, job.Currency, job.Description,
		skillsArg(job.Skills), job.Status,
	)
	created, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id=$1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return Job{}, notFound(err)
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job Job) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs AS j SET title=$2, company=$3, location=$4, employment_type=$5, remote=$6,
			salary_min=$7, salary_max=$8, reward_cents=$9, currency=$10, description=$11, skills=$12,
			updated_at=NOW()
		WHERE j.id=$1
		RETURNING `+jobColumns,
		job.ID, job.Title, job.Company, job.Location, job.EmploymentType, job.Remote,
		nullInt64(job.SalaryMin), nullInt64(job.SalaryMax), job.RewardCents, job.Currency, job.Description,
		skillsArg(job.Skills),
	)
	updated, err := scanJob(row)
	if err != nil {
		return Job{}, notFound(err)
	}
	return updated, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID, status string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs AS j SET status=$2, updated_at=NOW()
		WHERE j.id=$1
		RETURNING `+jobColumns, jobID, status)
	updated, err := scanJob(row)
	if err != nil {
		return Job{}, notFound(err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=$1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return requireAffected(res)
}

// ListJobs runs a rendered JobQuery and returns the page plus the unpaged total.
func (s *PostgresStore) ListJobs(ctx context.Context, q JobQuery) ([]Job, int, error) {
	where := strings.TrimSpace(q.Where)
	if where == "" {
		where = "TRUE"
	}
	orderBy := strings.TrimSpace(q.OrderBy)
	if orderBy == "" {
		orderBy = "j.created_at DESC"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs j WHERE `+where, q.Args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	args := append([]any{}, q.Args...)
	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE ` + where + ` ORDER BY ` + orderBy + `, j.id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, total, nil
}

// ListJobsByIDs preserves the order of ids; missing ids are skipped.
func (s *PostgresStore) ListJobsByIDs(ctx context.Context, ids []string) ([]Job, error) {
	if len(ids) == 0 {
		return []Job{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list jobs by id: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Job, len(ids))
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		byID[job.ID] = job
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	jobs := make([]Job, 0, len(byID))
	for _, id := range ids {
		if job, ok := byID[id]; ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *PostgresStore) UpsertReferralLink(ctx context.Context, link ReferralLink) (ReferralLink, error) {
	var out ReferralLink
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO referral_links (code, job_id, referrer_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id, referrer_id) DO UPDATE SET job_id=EXCLUDED.job_id
		RETURNING code, job_id, referrer_id, clicks, created_at
	`, link.Code, link.JobID, link.ReferrerID).Scan(&out.Code, &out.JobID, &out.ReferrerID, &out.Clicks, &out.CreatedAt)
	if err != nil {
		return ReferralLink{}, fmt.Errorf("upsert referral link: %w", err)
	}
	return out, nil
}

// ResolveReferralLink increments the click counter and returns the link.
func (s *PostgresStore) ResolveReferralLink(ctx context.Context, code string) (ReferralLink, error) {
	var out ReferralLink
	err := s.db.QueryRowContext(ctx, `
		UPDATE referral_links SET clicks = clicks + 1
		WHERE code=$1
		RETURNING code, job_id, referrer_id, clicks, created_at
	`, code).Scan(&out.Code, &out.JobID, &out.ReferrerID, &out.Clicks, &out.CreatedAt)
	if err != nil {
		return ReferralLink{}, notFound(err)
	}
	return out, nil
}

func (s *PostgresStore) GetReferralLink(ctx context.Context, code string) (ReferralLink, error) {
	var out ReferralLink
	err := s.db.QueryRowContext(ctx, `
		SELECT code, job_id, referrer_id, clicks, created_at FROM referral_links WHERE code=$1
	`, code).Scan(&out.Code, &out.JobID, &out.ReferrerID, &out.Clicks, &out.CreatedAt)
	if err != nil {
		return ReferralLink{}, notFound(err)
	}
	return out, nil
}
