package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"refery/api/internal/email"
	"refery/api/internal/export"
	"refery/api/internal/payout"
	"refery/api/internal/rbac"
	"refery/api/internal/store"

	"go.uber.org/zap"
)

func (s *Service) payoutFilter(session Session) store.PayoutFilter {
	switch session.role() {
	case rbac.RoleAdmin:
		return store.PayoutFilter{}
	case rbac.RolePoster:
		return store.PayoutFilter{PosterID: session.UserID}
	default:
		return store.PayoutFilter{ReferrerID: session.UserID}
	}
}

func canSeePayout(p store.Payout, session Session) bool {
	return session.isAdmin() || p.ReferrerID == session.UserID || p.PosterID == session.UserID
}

// ListPayouts returns what the referrer is owed or what the poster owes.
func (s *Service) ListPayouts(ctx context.Context, session Session, status string) ([]PayoutView, error) {
	if err := s.require(session, rbac.ActionPayoutsRead); err != nil {
		return nil, err
	}
	filter := s.payoutFilter(session)
	filter.Status = strings.TrimSpace(status)
	payouts, err := s.store.ListPayouts(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]PayoutView, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, payoutView(p))
	}
	return out, nil
}

func (s *Service) loadPayout(ctx context.Context, session Session, payoutID string) (store.Payout, error) {
	if err := s.require(session, rbac.ActionPayoutsRead); err != nil {
		return store.Payout{}, err
	}
	p, err := s.store.GetPayout(ctx, payoutID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !canSeePayout(p, session)) {
		return store.Payout{}, notFound("Payout")
	}
	return p, err
}

func (s *Service) GetPayout(ctx context.Context, session Session, payoutID string) (PayoutView, error) {
	p, err := s.loadPayout(ctx, session, payoutID)
	if err != nil {
		return PayoutView{}, err
	}
	return payoutView(p), nil
}

// UpdatePayoutStatus lets the paying poster retry a failed payout or cancel
// a scheduled one. Everything else belongs to the scheduler.
func (s *Service) UpdatePayoutStatus(ctx context.Context, session Session, payoutID string, input PayoutStatusInput) (PayoutView, error) {
	if err := validate.Struct(input); err != nil {
		return PayoutView{}, err
	}
	p, err := s.loadPayout(ctx, session, payoutID)
	if err != nil {
		return PayoutView{}, err
	}
	if !rbac.Can(session.role(), rbac.ActionPayoutsManage) || (!session.isAdmin() && p.PosterID != session.UserID) {
		return PayoutView{}, forbidden()
	}
	if !payout.ManualTransition(p.Status, input.Status) {
		return PayoutView{}, domainError(http.StatusConflict, "INVALID_TRANSITION",
			"Cannot move payout from "+p.Status+" to "+input.Status, nil)
	}

	update := store.PayoutUpdate{FailureReason: strings.TrimSpace(input.Note)}
	if input.Status == store.PayoutScheduled {
		now := s.now().UTC()
		update.ScheduledFor = &now
		update.FailureReason = ""
	}
	updated, err := s.store.TransitionPayout(ctx, p.ID, p.Status, input.Status, update)
	if errors.Is(err, store.ErrConflict) {
		return PayoutView{}, domainError(http.StatusConflict, "STATUS_CONFLICT", "Payout was updated by someone else; reload and try again", nil)
	}
	if err != nil {
		return PayoutView{}, err
	}
	s.logger.Info("payout status changed",
		zap.String("payout_id", updated.ID),
		zap.String("from", p.Status),
		zap.String("to", updated.Status),
		zap.String("actor_id", session.UserID),
	)
	s.invalidateDashboards(ctx)
	return payoutView(updated), nil
}

type StatementRequest struct {
	Format string
	From   time.Time
	To     time.Time
}

func statementPeriod(from, to time.Time) string {
	const layout = "2006-01-02"
	switch {
	case from.IsZero() && to.IsZero():
		return "All time"
	case from.IsZero():
		return "Until " + to.Format(layout)
	case to.IsZero():
		return "Since " + from.Format(layout)
	}
	return from.Format(layout) + " to " + to.Format(layout)
}

// Statement renders the caller's payouts as a spreadsheet or PDF.
func (s *Service) Statement(ctx context.Context, session Session, req StatementRequest) (*export.Result, error) {
	if err := s.require(session, rbac.ActionPayoutsRead); err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(req.Format)))
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", "Format must be xlsx or pdf", nil)
	}

	filter := s.payoutFilter(session)
	filter.From = req.From
	filter.To = req.To
	payouts, err := s.store.ListPayouts(ctx, filter)
	if err != nil {
		return nil, err
	}

	title := "Referral earnings"
	switch session.role() {
	case rbac.RolePoster:
		title = "Referral payables"
	case rbac.RoleAdmin:
		title = "All payouts"
	}
	stmt := export.Statement{
		Title:       title,
		Owner:       session.UserName,
		Period:      statementPeriod(req.From, req.To),
		GeneratedAt: s.now().UTC(),
		Lines:       make([]export.Line, 0, len(payouts)),
	}
	for _, p := range payouts {
		stmt.Lines = append(stmt.Lines, export.Line{
			PayoutID:     p.ID,
			Job:          p.JobTitle,
			Candidate:    p.CandidateName,
			AmountCents:  p.AmountCents,
			Currency:     p.Currency,
			Status:       p.Status,
			ScheduledFor: p.ScheduledFor,
			PaidAt:       p.PaidAt,
		})
	}

	result, err := s.exporter.Export(ctx, stmt, format)
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		return nil, domainError(http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", "Format must be xlsx or pdf", nil)
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil)
	case err != nil:
		return nil, err
	}
	return result, nil
}

// RunPayouts settles due payouts now instead of waiting for the next tick.
func (s *Service) RunPayouts(ctx context.Context, session Session) (payout.Summary, error) {
	if err := s.require(session, rbac.ActionAdmin); err != nil {
		return payout.Summary{}, err
	}
	summary, err := s.payouts.ProcessDue(ctx)
	if errors.Is(err, payout.ErrRunInProgress) {
		return payout.Summary{}, domainError(http.StatusConflict, "RUN_IN_PROGRESS", "A payout run is already in progress", nil)
	}
	return summary, err
}

func (s *Service) onPayoutSettled(ctx context.Context, p store.Payout) {
	s.invalidateDashboards(ctx)
	if p.Status != store.PayoutPaid {
		return
	}
	referrer, err := s.store.GetUserByID(ctx, p.ReferrerID)
	if err != nil {
		s.logger.Warn("load payout referrer", zap.String("payout_id", p.ID), zap.Error(err))
		return
	}
	data := email.PayoutPaidData{
		UserName:      referrer.DisplayName,
		Amount:        export.FormatCents(p.AmountCents) + " " + p.Currency,
		JobTitle:      p.JobTitle,
		CandidateName: p.CandidateName,
		Reference:     p.Reference,
	}
	s.notify("payout_paid", func() error {
		return s.mailer.SendPayoutPaid(referrer.Email, data)
	})
}
