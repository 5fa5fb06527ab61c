package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"refery/api/internal/jobboard"
	"refery/api/internal/jobhistory"
	"refery/api/internal/jobimport"
	"refery/api/internal/rbac"
	"refery/api/internal/store"
	"refery/api/internal/util"

	"go.uber.org/zap"
)

type JobPage struct {
	Jobs    []JobView `json:"jobs"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
	Backend string    `json:"backend"`
}

func invalidFilter(err error) error {
	if errors.Is(err, jobboard.ErrInvalidFilter) {
		return domainError(http.StatusUnprocessableEntity, "INVALID_FILTER", err.Error(), nil)
	}
	return err
}

// Board lists open jobs for everyone.
func (s *Service) Board(ctx context.Context, session Session, f jobboard.Filter) (JobPage, error) {
	if err := s.require(session, rbac.ActionJobsRead); err != nil {
		return JobPage{}, err
	}
	f.Status = store.JobStatusOpen
	f.PosterID = ""
	return s.searchJobs(ctx, f)
}

// ManagedJobs lists the caller's own postings in any status. Admins see
// every poster's jobs unless they filter by PosterID.
func (s *Service) ManagedJobs(ctx context.Context, session Session, f jobboard.Filter) (JobPage, error) {
	if err := s.require(session, rbac.ActionJobsWrite); err != nil {
		return JobPage{}, err
	}
	if !session.isAdmin() {
		f.PosterID = session.UserID
	}
	return s.searchJobs(ctx, f)
}

func (s *Service) searchJobs(ctx context.Context, f jobboard.Filter) (JobPage, error) {
	normalized, err := f.Normalize()
	if err != nil {
		return JobPage{}, invalidFilter(err)
	}
	result, err := s.search.Search(ctx, normalized)
	if err != nil {
		return JobPage{}, fmt.Errorf("search jobs: %w", err)
	}
	return JobPage{
		Jobs:    jobViews(result.Jobs),
		Total:   result.Total,
		Limit:   normalized.Limit,
		Offset:  normalized.Offset,
		Backend: result.Backend,
	}, nil
}

func canManageJob(session Session, job store.Job) bool {
	return session.isAdmin() || (job.PosterID == session.UserID && rbac.Can(session.role(), rbac.ActionJobsWrite))
}

func (s *Service) loadJob(ctx context.Context, jobID string) (store.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Job{}, notFound("Job")
	}
	return job, err
}

// loadManagedJob hides jobs the caller cannot manage behind a 404 when they
// are not public, and a 403 when they are.
func (s *Service) loadManagedJob(ctx context.Context, session Session, jobID string) (store.Job, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return store.Job{}, err
	}
	if !canManageJob(session, job) {
		if job.Status != store.JobStatusOpen {
			return store.Job{}, notFound("Job")
		}
		return store.Job{}, forbidden()
	}
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, session Session, jobID string) (JobView, error) {
	if err := s.require(session, rbac.ActionJobsRead); err != nil {
		return JobView{}, err
	}
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return JobView{}, err
	}
	if job.Status != store.JobStatusOpen && !canManageJob(session, job) {
		return JobView{}, notFound("Job")
	}
	return jobView(job), nil
}

func jobFromInput(input JobInput) (store.Job, error) {
	if input.SalaryMin != nil && input.SalaryMax != nil && *input.SalaryMin > *input.SalaryMax {
		return store.Job{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "salaryMin must not exceed salaryMax", nil)
	}
	employmentType := input.EmploymentType
	if employmentType == "" {
		employmentType = "full_time"
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "USD"
	}
	skills := make([]string, 0, len(input.Skills))
	seen := map[string]bool{}
	for _, skill := range input.Skills {
		skill = strings.TrimSpace(skill)
		key := strings.ToLower(skill)
		if skill == "" || seen[key] {
			continue
		}
		seen[key] = true
		skills = append(skills, skill)
	}
	return store.Job{
		Title:          strings.TrimSpace(input.Title),
		Company:        strings.TrimSpace(input.Company),
		Location:       strings.TrimSpace(input.Location),
		EmploymentType: employmentType,
		Remote:         input.Remote,
		SalaryMin:      input.SalaryMin,
		SalaryMax:      input.SalaryMax,
		RewardCents:    input.RewardCents,
		Currency:       currency,
		Description:    strings.TrimSpace(input.Description),
		Skills:         skills,
		Status:         input.Status,
	}, nil
}

func (s *Service) CreateJob(ctx context.Context, session Session, input JobInput) (JobView, error) {
	if err := s.require(session, rbac.ActionJobsWrite); err != nil {
		return JobView{}, err
	}
	if err := validate.Struct(input); err != nil {
		return JobView{}, err
	}
	job, err := jobFromInput(input)
	if err != nil {
		return JobView{}, err
	}
	if job.Status == "" {
		job.Status = store.JobStatusOpen
	}
	return s.insertJob(ctx, session, job)
}

func (s *Service) insertJob(ctx context.Context, session Session, job store.Job) (JobView, error) {
	job.ID = util.NewID("job")
	job.PosterID = session.UserID
	if job.Company == "" {
		if poster, err := s.store.GetUserByID(ctx, session.UserID); err == nil {
			job.Company = poster.Company
		}
	}
	created, err := s.store.InsertJob(ctx, job)
	if err != nil {
		return JobView{}, err
	}
	s.recordHistory(created, session, "Create posting")
	s.search.IndexJob(created)
	s.invalidateDashboards(ctx)
	return jobView(created), nil
}

func (s *Service) UpdateJob(ctx context.Context, session Session, jobID string, input JobInput) (JobView, error) {
	if err := validate.Struct(input); err != nil {
		return JobView{}, err
	}
	current, err := s.loadManagedJob(ctx, session, jobID)
	if err != nil {
		return JobView{}, err
	}
	next, err := jobFromInput(input)
	if err != nil {
		return JobView{}, err
	}
	next.ID = current.ID
	next.PosterID = current.PosterID
	next.Status = current.Status

	s.ensureHistoryBaseline(current, session)
	updated, err := s.store.UpdateJob(ctx, next)
	if err != nil {
		return JobView{}, err
	}
	s.recordHistory(updated, session, "Update posting")
	s.search.IndexJob(updated)
	return jobView(updated), nil
}

func (s *Service) SetJobStatus(ctx context.Context, session Session, jobID string, input JobStatusInput) (JobView, error) {
	if err := validate.Struct(input); err != nil {
		return JobView{}, err
	}
	current, err := s.loadManagedJob(ctx, session, jobID)
	if err != nil {
		return JobView{}, err
	}
	if current.Status == input.Status {
		return jobView(current), nil
	}
	s.ensureHistoryBaseline(current, session)
	updated, err := s.store.UpdateJobStatus(ctx, jobID, input.Status)
	if err != nil {
		return JobView{}, err
	}
	s.recordHistory(updated, session, "Status: "+input.Status)
	s.search.IndexJob(updated)
	s.invalidateDashboards(ctx)
	return jobView(updated), nil
}

// DeleteJob only removes postings nobody has been referred to. Others
// must be closed so referral and payout history stays intact.
func (s *Service) DeleteJob(ctx context.Context, session Session, jobID string) error {
	job, err := s.loadManagedJob(ctx, session, jobID)
	if err != nil {
		return err
	}
	existing, err := s.store.ListReferrals(ctx, store.ReferralFilter{JobID: job.ID, Limit: 1})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return domainError(http.StatusConflict, "JOB_HAS_REFERRALS", "Job has referrals; close it instead", nil)
	}
	if err := s.store.DeleteJob(ctx, job.ID); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.Remove(job.ID); err != nil {
			s.logger.Warn("remove posting history", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	s.search.DeleteJob(job.ID)
	s.invalidateDashboards(ctx)
	return nil
}

// Posting history

func historyAuthor(session Session) string {
	if session.UserName != "" {
		return session.UserName
	}
	return session.UserID
}

func (s *Service) recordHistory(job store.Job, session Session, message string) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Record(job.ID, jobhistory.SnapshotFromJob(job), historyAuthor(session), message); err != nil {
		s.logger.Warn("record posting history", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// ensureHistoryBaseline commits the current state of postings created
// before history was enabled, so the first diff has something to compare to.
func (s *Service) ensureHistoryBaseline(job store.Job, session Session) {
	if s.history == nil {
		return
	}
	revisions, err := s.history.History(job.ID, 1)
	if err != nil || len(revisions) > 0 {
		return
	}
	s.recordHistory(job, session, "Baseline")
}

func (s *Service) requireHistory() error {
	if s.history == nil {
		return domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Posting history is not enabled", nil)
	}
	return nil
}

func (s *Service) JobHistory(ctx context.Context, session Session, jobID string, limit int) ([]jobhistory.Revision, error) {
	if err := s.requireHistory(); err != nil {
		return nil, err
	}
	if _, err := s.loadManagedJob(ctx, session, jobID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.history.History(jobID, limit)
}

type RevisionView struct {
	Revision jobhistory.Revision      `json:"revision"`
	Snapshot jobhistory.Snapshot      `json:"snapshot"`
	Changes  []jobhistory.FieldChange `json:"changes"`
}

// JobRevision returns a past snapshot and what differs from the live posting.
func (s *Service) JobRevision(ctx context.Context, session Session, jobID, hash string) (RevisionView, error) {
	if err := s.requireHistory(); err != nil {
		return RevisionView{}, err
	}
	job, err := s.loadManagedJob(ctx, session, jobID)
	if err != nil {
		return RevisionView{}, err
	}
	snap, rev, err := s.history.Snapshot(jobID, hash)
	if errors.Is(err, jobhistory.ErrRevisionNotFound) {
		return RevisionView{}, notFound("Revision")
	}
	if err != nil {
		return RevisionView{}, err
	}
	return RevisionView{
		Revision: rev,
		Snapshot: snap,
		Changes:  jobhistory.DiffFields(snap, jobhistory.SnapshotFromJob(job)),
	}, nil
}

// Bulk import

type ImportResult struct {
	Created []JobView            `json:"created"`
	Errors  []jobimport.RowError `json:"errors"`
}

func (s *Service) ImportJobs(ctx context.Context, session Session, filename string, body io.Reader, publish bool) (ImportResult, error) {
	if err := s.require(session, rbac.ActionJobsWrite); err != nil {
		return ImportResult{}, err
	}
	parsed, err := jobimport.Parse(body, filename)
	if err != nil {
		switch {
		case errors.Is(err, jobimport.ErrEmptySheet), errors.Is(err, jobimport.ErrMissingTitle),
			errors.Is(err, jobimport.ErrTooManyRows), errors.Is(err, jobimport.ErrUnreadableFile):
			return ImportResult{}, domainError(http.StatusUnprocessableEntity, "IMPORT_INVALID", err.Error(), nil)
		}
		return ImportResult{}, err
	}

	status := store.JobStatusDraft
	if publish {
		status = store.JobStatusOpen
	}
	result := ImportResult{Created: []JobView{}, Errors: parsed.Errors}
	for _, row := range parsed.Rows {
		created, err := s.insertJob(ctx, session, store.Job{
			Title:          row.Title,
			Company:        row.Company,
			Location:       row.Location,
			EmploymentType: row.EmploymentType,
			Remote:         row.Remote,
			SalaryMin:      row.SalaryMin,
			SalaryMax:      row.SalaryMax,
			RewardCents:    row.RewardCents,
			Currency:       row.Currency,
			Description:    row.Description,
			Skills:         row.Skills,
			Status:         status,
		})
		if err != nil {
			s.logger.Warn("import job row", zap.Int("row", row.Line), zap.Error(err))
			result.Errors = append(result.Errors, jobimport.RowError{Line: row.Line, Message: "could not save row"})
			continue
		}
		result.Created = append(result.Created, created)
	}
	return result, nil
}
