package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"refery/api/internal/email"
	"refery/api/internal/metrics"
	"refery/api/internal/rbac"
	"refery/api/internal/storage"
	"refery/api/internal/store"
	"refery/api/internal/util"

	"go.uber.org/zap"
)

const resumeLinkTTL = 15 * time.Minute

var referralTransitions = map[string][]string{
	store.ReferralSubmitted:    {store.ReferralReviewing, store.ReferralRejected, store.ReferralWithdrawn},
	store.ReferralReviewing:    {store.ReferralInterviewing, store.ReferralRejected, store.ReferralWithdrawn},
	store.ReferralInterviewing: {store.ReferralOffered, store.ReferralRejected, store.ReferralWithdrawn},
	store.ReferralOffered:      {store.ReferralHired, store.ReferralRejected},
}

// CanTransition reports whether a referral may move between two statuses.
// Hired, rejected and withdrawn are terminal.
func CanTransition(from, to string) bool {
	for _, next := range referralTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// nextStatuses lists the moves the session may make on the referral.
func nextStatuses(ref store.Referral, session Session) []string {
	out := []string{}
	for _, next := range referralTransitions[ref.Status] {
		if canMoveReferral(ref, session, next) {
			out = append(out, next)
		}
	}
	return out
}

func canMoveReferral(ref store.Referral, session Session, to string) bool {
	if session.isAdmin() {
		return true
	}
	if to == store.ReferralWithdrawn {
		return session.UserID != "" && (session.UserID == ref.ReferrerID || session.UserID == ref.CandidateID)
	}
	return session.UserID == ref.PosterID && rbac.Can(session.role(), rbac.ActionReferralsReview)
}

func isParticipant(ref store.Referral, session Session) bool {
	if session.isAdmin() {
		return true
	}
	switch session.UserID {
	case "":
		return false
	case ref.ReferrerID, ref.CandidateID, ref.PosterID:
		return true
	}
	return false
}

func referralView(ref store.Referral, session Session) ReferralView {
	return ReferralView{
		ID:             ref.ID,
		JobID:          ref.JobID,
		JobTitle:       ref.JobTitle,
		JobCompany:     ref.JobCompany,
		ReferrerID:     ref.ReferrerID,
		CandidateID:    ref.CandidateID,
		CandidateName:  ref.CandidateName,
		CandidateEmail: ref.CandidateEmail,
		Note:           ref.Note,
		HasResume:      ref.ResumeKey != "",
		Source:         ref.Source,
		Status:         ref.Status,
		StatusNote:     ref.StatusNote,
		NextStatuses:   nextStatuses(ref, session),
		CreatedAt:      ref.CreatedAt,
		UpdatedAt:      ref.UpdatedAt,
	}
}

func referralViews(refs []store.Referral, session Session) []ReferralView {
	out := make([]ReferralView, 0, len(refs))
	for _, ref := range refs {
		out = append(out, referralView(ref, session))
	}
	return out
}

func (s *Service) loadOpenJob(ctx context.Context, jobID string) (store.Job, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return store.Job{}, err
	}
	if job.Status != store.JobStatusOpen {
		return store.Job{}, domainError(http.StatusConflict, "JOB_NOT_OPEN", "Job is not accepting referrals", nil)
	}
	return job, nil
}

func (s *Service) ensureNotDuplicate(ctx context.Context, jobID, candidateEmail string) error {
	exists, err := s.store.HasActiveReferral(ctx, jobID, candidateEmail)
	if err != nil {
		return err
	}
	if exists {
		return domainError(http.StatusConflict, "DUPLICATE_REFERRAL", "Candidate already has an active referral for this job", nil)
	}
	return nil
}

func (s *Service) CreateReferral(ctx context.Context, session Session, jobID string, input ReferralInput) (ReferralView, error) {
	if err := s.require(session, rbac.ActionReferralsCreate); err != nil {
		return ReferralView{}, err
	}
	if err := validate.Struct(input); err != nil {
		return ReferralView{}, err
	}
	job, err := s.loadOpenJob(ctx, jobID)
	if err != nil {
		return ReferralView{}, err
	}
	if job.PosterID == session.UserID {
		return ReferralView{}, domainError(http.StatusUnprocessableEntity, "SELF_REFERRAL", "You cannot refer candidates to your own job", nil)
	}
	candidateEmail := strings.ToLower(strings.TrimSpace(input.CandidateEmail))
	if err := s.ensureNotDuplicate(ctx, job.ID, candidateEmail); err != nil {
		return ReferralView{}, err
	}

	candidateID := ""
	if candidate, err := s.store.GetUserByEmail(ctx, candidateEmail); err == nil {
		if candidate.ID == session.UserID {
			return ReferralView{}, domainError(http.StatusUnprocessableEntity, "SELF_REFERRAL", "You cannot refer yourself", nil)
		}
		candidateID = candidate.ID
	}

	return s.insertReferral(ctx, job, store.Referral{
		JobID:          job.ID,
		ReferrerID:     session.UserID,
		CandidateID:    candidateID,
		CandidateName:  strings.TrimSpace(input.CandidateName),
		CandidateEmail: candidateEmail,
		Note:           strings.TrimSpace(input.Note),
		Source:         store.SourceReferral,
	}, session)
}

func (s *Service) insertReferral(ctx context.Context, job store.Job, ref store.Referral, session Session) (ReferralView, error) {
	ref.ID = util.NewID("ref")
	ref.Status = store.ReferralSubmitted
	created, err := s.store.InsertReferral(ctx, ref)
	if err != nil {
		return ReferralView{}, err
	}
	metrics.ReferralsTotal.WithLabelValues(store.ReferralSubmitted).Inc()
	s.invalidateDashboards(ctx)

	if poster, err := s.store.GetUserByID(ctx, job.PosterID); err == nil {
		data := email.ReferralReceivedData{
			PosterName:    poster.DisplayName,
			ReferrerName:  s.referrerName(ctx, created, session),
			CandidateName: created.CandidateName,
			JobTitle:      job.Title,
			ReferralURL:   s.publicURL("/referrals/" + created.ID),
		}
		s.notify("referral_received", func() error {
			return s.mailer.SendReferralReceived(poster.Email, data)
		})
	}
	return referralView(created, session), nil
}

func (s *Service) referrerName(ctx context.Context, ref store.Referral, session Session) string {
	switch ref.ReferrerID {
	case "":
		return ""
	case session.UserID:
		return session.UserName
	}
	if user, err := s.store.GetUserByID(ctx, ref.ReferrerID); err == nil {
		return user.DisplayName
	}
	return ""
}

// CreateLink returns the caller's shareable link for a job, creating it on
// first use.
func (s *Service) CreateLink(ctx context.Context, session Session, jobID string) (LinkView, error) {
	if err := s.require(session, rbac.ActionReferralsCreate); err != nil {
		return LinkView{}, err
	}
	job, err := s.loadOpenJob(ctx, jobID)
	if err != nil {
		return LinkView{}, err
	}
	if job.PosterID == session.UserID {
		return LinkView{}, domainError(http.StatusUnprocessableEntity, "SELF_REFERRAL", "You cannot refer candidates to your own job", nil)
	}
	link, err := s.store.UpsertReferralLink(ctx, store.ReferralLink{
		Code:       util.NewCode(8),
		JobID:      job.ID,
		ReferrerID: session.UserID,
	})
	if err != nil {
		return LinkView{}, err
	}
	return s.linkView(link), nil
}

func (s *Service) linkView(link store.ReferralLink) LinkView {
	return LinkView{
		Code:      link.Code,
		JobID:     link.JobID,
		URL:       s.publicURL("/r/" + link.Code),
		Clicks:    link.Clicks,
		CreatedAt: link.CreatedAt,
	}
}

type ResolvedLink struct {
	Link LinkView `json:"link"`
	Job  JobView  `json:"job"`
}

// ResolveLink counts a click and returns the job behind a referral code.
func (s *Service) ResolveLink(ctx context.Context, code string) (ResolvedLink, error) {
	link, err := s.store.ResolveReferralLink(ctx, strings.TrimSpace(code))
	if errors.Is(err, store.ErrNotFound) {
		return ResolvedLink{}, notFound("Referral link")
	}
	if err != nil {
		return ResolvedLink{}, err
	}
	job, err := s.loadJob(ctx, link.JobID)
	if err != nil {
		return ResolvedLink{}, err
	}
	if job.Status != store.JobStatusOpen {
		return ResolvedLink{}, notFound("Job")
	}
	return ResolvedLink{Link: s.linkView(link), Job: jobView(job)}, nil
}

// Apply creates a referral for the signed-in candidate. With a code the
// referral is credited to the link's referrer.
func (s *Service) Apply(ctx context.Context, session Session, jobID string, input ApplyInput) (ReferralView, error) {
	if err := s.require(session, rbac.ActionApplicationsCreate); err != nil {
		return ReferralView{}, err
	}
	if err := validate.Struct(input); err != nil {
		return ReferralView{}, err
	}
	job, err := s.loadOpenJob(ctx, jobID)
	if err != nil {
		return ReferralView{}, err
	}
	candidate, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return ReferralView{}, err
	}
	if job.PosterID == candidate.ID {
		return ReferralView{}, domainError(http.StatusUnprocessableEntity, "SELF_REFERRAL", "You cannot apply to your own job", nil)
	}

	ref := store.Referral{
		JobID:          job.ID,
		CandidateID:    candidate.ID,
		CandidateName:  candidate.DisplayName,
		CandidateEmail: candidate.Email,
		Note:           strings.TrimSpace(input.Note),
		Source:         store.SourceDirect,
	}
	if code := strings.TrimSpace(input.Code); code != "" {
		link, err := s.store.GetReferralLink(ctx, code)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return ReferralView{}, err
		}
		if err != nil || link.JobID != job.ID {
			return ReferralView{}, domainError(http.StatusUnprocessableEntity, "INVALID_LINK", "Referral link does not match this job", nil)
		}
		if link.ReferrerID != candidate.ID {
			ref.ReferrerID = link.ReferrerID
			ref.Source = store.SourceLink
		}
	}
	if err := s.ensureNotDuplicate(ctx, job.ID, candidate.Email); err != nil {
		return ReferralView{}, err
	}
	return s.insertReferral(ctx, job, ref, session)
}

func (s *Service) loadReferral(ctx context.Context, session Session, referralID string) (store.Referral, error) {
	ref, err := s.store.GetReferral(ctx, referralID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Referral{}, notFound("Referral")
	}
	if err != nil {
		return store.Referral{}, err
	}
	if !isParticipant(ref, session) {
		return store.Referral{}, notFound("Referral")
	}
	return ref, nil
}

func (s *Service) GetReferral(ctx context.Context, session Session, referralID string) (ReferralView, error) {
	ref, err := s.loadReferral(ctx, session, referralID)
	if err != nil {
		return ReferralView{}, err
	}
	return referralView(ref, session), nil
}

// ListReferrals scopes the list by role: posters see referrals to their
// jobs, referrers the ones they made, candidates their applications.
func (s *Service) ListReferrals(ctx context.Context, session Session, status string) ([]ReferralView, error) {
	filter := store.ReferralFilter{Status: strings.TrimSpace(status)}
	switch session.role() {
	case rbac.RoleAdmin:
	case rbac.RolePoster:
		filter.PosterID = session.UserID
	case rbac.RoleReferrer:
		filter.ReferrerID = session.UserID
	default:
		filter.CandidateID = session.UserID
	}
	refs, err := s.store.ListReferrals(ctx, filter)
	if err != nil {
		return nil, err
	}
	return referralViews(refs, session), nil
}

func (s *Service) JobReferrals(ctx context.Context, session Session, jobID, status string) ([]ReferralView, error) {
	job, err := s.loadManagedJob(ctx, session, jobID)
	if err != nil {
		return nil, err
	}
	refs, err := s.store.ListReferrals(ctx, store.ReferralFilter{JobID: job.ID, Status: strings.TrimSpace(status)})
	if err != nil {
		return nil, err
	}
	return referralViews(refs, session), nil
}

func (s *Service) ReferralEvents(ctx context.Context, session Session, referralID string) ([]ReferralEventView, error) {
	ref, err := s.loadReferral(ctx, session, referralID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListReferralEvents(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ReferralEventView, 0, len(events))
	for _, ev := range events {
		out = append(out, ReferralEventView{
			From:      ev.FromStatus,
			To:        ev.ToStatus,
			ActorID:   ev.ActorID,
			Note:      ev.Note,
			CreatedAt: ev.CreatedAt,
		})
	}
	return out, nil
}

// TransitionReferral moves a referral to a new status. Hiring a referred
// candidate schedules the referrer's payout in the same transaction.
func (s *Service) TransitionReferral(ctx context.Context, session Session, referralID string, input StatusInput) (ReferralView, error) {
	if err := validate.Struct(input); err != nil {
		return ReferralView{}, err
	}
	ref, err := s.loadReferral(ctx, session, referralID)
	if err != nil {
		return ReferralView{}, err
	}
	if !CanTransition(ref.Status, input.Status) {
		return ReferralView{}, domainError(http.StatusConflict, "INVALID_TRANSITION",
			"Cannot move referral from "+ref.Status+" to "+input.Status, nil)
	}
	if !canMoveReferral(ref, session, input.Status) {
		return ReferralView{}, forbidden()
	}

	var payout *store.Payout
	if input.Status == store.ReferralHired && ref.ReferrerID != "" {
		job, err := s.loadJob(ctx, ref.JobID)
		if err != nil {
			return ReferralView{}, err
		}
		if job.RewardCents > 0 {
			payout = &store.Payout{
				ID:           util.NewID("po"),
				ReferralID:   ref.ID,
				ReferrerID:   ref.ReferrerID,
				JobID:        job.ID,
				AmountCents:  job.RewardCents,
				Currency:     job.Currency,
				Status:       store.PayoutScheduled,
				ScheduledFor: s.now().UTC().Add(s.cfg.PayoutDelay),
			}
		}
	}

	note := strings.TrimSpace(input.Note)
	updated, err := s.store.TransitionReferral(ctx, ref.ID, ref.Status, input.Status, session.UserID, note, payout)
	if errors.Is(err, store.ErrConflict) {
		return ReferralView{}, domainError(http.StatusConflict, "STATUS_CONFLICT", "Referral was updated by someone else; reload and try again", nil)
	}
	if err != nil {
		return ReferralView{}, err
	}
	metrics.ReferralsTotal.WithLabelValues(updated.Status).Inc()
	s.invalidateDashboards(ctx)
	if payout != nil {
		s.logger.Info("payout scheduled",
			zap.String("referral_id", updated.ID),
			zap.String("payout_id", payout.ID),
			zap.Int64("amount_cents", payout.AmountCents),
			zap.Time("scheduled_for", payout.ScheduledFor),
		)
	}
	s.notifyStatusChange(ctx, updated, session)
	return referralView(updated, session), nil
}

// notifyStatusChange emails the referrer and the candidate, skipping
// whoever made the change.
func (s *Service) notifyStatusChange(ctx context.Context, ref store.Referral, actor Session) {
	for _, userID := range []string{ref.ReferrerID, ref.CandidateID} {
		if userID == "" || userID == actor.UserID {
			continue
		}
		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			continue
		}
		data := email.StatusChangedData{
			UserName:      user.DisplayName,
			CandidateName: ref.CandidateName,
			JobTitle:      ref.JobTitle,
			Status:        ref.Status,
			Note:          ref.StatusNote,
			ReferralURL:   s.publicURL("/referrals/" + ref.ID),
		}
		to := user.Email
		s.notify("status_changed", func() error {
			return s.mailer.SendStatusChanged(to, data)
		})
	}
}

// Resumes

func (s *Service) requireResumes() error {
	if s.resumes == nil {
		return domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Resume storage is not configured", nil)
	}
	return nil
}

// UploadResume stores a resume for the referral, replacing any earlier one.
// Only the referrer and the candidate may upload.
func (s *Service) UploadResume(ctx context.Context, session Session, referralID, filename string, body io.Reader, size int64) (ReferralView, error) {
	if err := s.requireResumes(); err != nil {
		return ReferralView{}, err
	}
	ref, err := s.loadReferral(ctx, session, referralID)
	if err != nil {
		return ReferralView{}, err
	}
	if !session.isAdmin() && session.UserID != ref.ReferrerID && session.UserID != ref.CandidateID {
		return ReferralView{}, forbidden()
	}
	if _, err := storage.ValidateResume(filename, size); err != nil {
		return ReferralView{}, domainError(http.StatusUnprocessableEntity, "INVALID_RESUME", err.Error(), nil)
	}

	key, err := s.resumes.PutResume(ctx, ref.ID, filename, body, size)
	if err != nil {
		return ReferralView{}, err
	}
	if ref.ResumeKey != "" && ref.ResumeKey != key {
		if err := s.resumes.DeleteResume(ctx, ref.ResumeKey); err != nil {
			s.logger.Warn("delete replaced resume", zap.String("referral_id", ref.ID), zap.Error(err))
		}
	}
	if err := s.store.SetReferralResume(ctx, ref.ID, key); err != nil {
		return ReferralView{}, err
	}
	ref.ResumeKey = key
	return referralView(ref, session), nil
}

// ResumeURL returns a short-lived download link.
func (s *Service) ResumeURL(ctx context.Context, session Session, referralID string) (string, error) {
	if err := s.requireResumes(); err != nil {
		return "", err
	}
	ref, err := s.loadReferral(ctx, session, referralID)
	if err != nil {
		return "", err
	}
	if ref.ResumeKey == "" {
		return "", notFound("Resume")
	}
	return s.resumes.PresignResume(ctx, ref.ResumeKey, resumeLinkTTL)
}
