package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	PayoutScheduled  = "scheduled"
	PayoutProcessing = "processing"
	PayoutPaid       = "paid"
	PayoutFailed     = "failed"
	PayoutCancelled  = "cancelled"
)

const payoutColumns = `p.id, p.referral_id, p.referrer_id, p.job_id, p.amount_cents, p.currency, p.status,
	p.scheduled_for, p.paid_at, p.failure_reason, p.reference, p.created_at, p.updated_at,
	j.title, r.candidate_name, j.poster_id`

const payoutFrom = ` FROM payouts p JOIN jobs j ON j.id = p.job_id JOIN referrals r ON r.id = p.referral_id`

func scanPayout(row rowScanner) (Payout, error) {
	var (
		p      Payout
		paidAt sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.ReferralID, &p.ReferrerID, &p.JobID, &p.AmountCents, &p.Currency, &p.Status,
		&p.ScheduledFor, &paidAt, &p.FailureReason, &p.Reference, &p.CreatedAt, &p.UpdatedAt,
		&p.JobTitle, &p.CandidateName, &p.PosterID,
	)
	if err != nil {
		return Payout{}, err
	}
	p.PaidAt = nullTime(paidAt)
	return p, nil
}

// PayoutFilter scopes payout lists. Empty fields are ignored.
type PayoutFilter struct {
	ReferrerID string
	PosterID   string
	Status     string
	From       time.Time
	To         time.Time
}

func (f PayoutFilter) where() (string, []any) {
	clauses := []string{"TRUE"}
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if strings.TrimSpace(f.ReferrerID) != "" {
		add("p.referrer_id = $%d", f.ReferrerID)
	}
	if strings.TrimSpace(f.PosterID) != "" {
		add("j.poster_id = $%d", f.PosterID)
	}
	if strings.TrimSpace(f.Status) != "" {
		add("p.status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("p.created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("p.created_at < $%d", f.To)
	}
	return strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) GetPayout(ctx context.Context, payoutID string) (Payout, error) {
	p, err := scanPayout(s.db.QueryRowContext(ctx, `SELECT `+payoutColumns+payoutFrom+` WHERE p.id=$1`, payoutID))
	if err != nil {
		return Payout{}, notFound(err)
	}
	return p, nil
}

func (s *PostgresStore) GetPayoutByReferral(ctx context.Context, referralID string) (Payout, error) {
	p, err := scanPayout(s.db.QueryRowContext(ctx, `SELECT `+payoutColumns+payoutFrom+` WHERE p.referral_id=$1`, referralID))
	if err != nil {
		return Payout{}, notFound(err)
	}
	return p, nil
}

func (s *PostgresStore) ListPayouts(ctx context.Context, filter PayoutFilter) ([]Payout, error) {
	where, args := filter.where()
	rows, err := s.db.QueryContext(ctx, `SELECT `+payoutColumns+payoutFrom+` WHERE `+where+` ORDER BY p.scheduled_for DESC, p.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return collectPayouts(rows)
}

// ListDuePayouts returns scheduled payouts whose time has come, oldest first.
func (s *PostgresStore) ListDuePayouts(ctx context.Context, now time.Time, limit int) ([]Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+payoutColumns+payoutFrom+`
		WHERE p.status = 'scheduled' AND p.scheduled_for <= $1
		ORDER BY p.scheduled_for ASC, p.id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due payouts: %w", err)
	}
	return collectPayouts(rows)
}

// ListStalledPayouts returns payouts that have sat in processing since
// before the given time, oldest claim first.
func (s *PostgresStore) ListStalledPayouts(ctx context.Context, before time.Time, limit int) ([]Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+payoutColumns+payoutFrom+`
		WHERE p.status = 'processing' AND p.updated_at < $1
		ORDER BY p.updated_at ASC, p.id
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled payouts: %w", err)
	}
	return collectPayouts(rows)
}

func collectPayouts(rows *sql.Rows) ([]Payout, error) {
	defer rows.Close()
	out := []Payout{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}
	return out, nil
}

// PayoutUpdate carries the optional columns written alongside a status change.
type PayoutUpdate struct {
	ScheduledFor  *time.Time
	PaidAt        *time.Time
	FailureReason string
	Reference     string
}

// TransitionPayout is a compare-and-set on status. It returns ErrConflict
// when another worker already moved the payout.
func (s *PostgresStore) TransitionPayout(ctx context.Context, payoutID, from, to string, update PayoutUpdate) (Payout, error) {
	var scheduledFor, paidAt sql.NullTime
	if update.ScheduledFor != nil {
		scheduledFor = sql.NullTime{Time: *update.ScheduledFor, Valid: true}
	}
	if update.PaidAt != nil {
		paidAt = sql.NullTime{Time: *update.PaidAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE payouts SET
			status=$3,
			scheduled_for=COALESCE($4, scheduled_for),
			paid_at=COALESCE($5, paid_at),
			failure_reason=$6,
			reference=CASE WHEN $7 = '' THEN reference ELSE $7 END,
			updated_at=NOW()
		WHERE id=$1 AND status=$2
	`, payoutID, from, to, scheduledFor, paidAt, update.FailureReason, update.Reference)
	if err != nil {
		return Payout{}, fmt.Errorf("update payout status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Payout{}, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		if _, err := s.GetPayout(ctx, payoutID); err != nil {
			return Payout{}, err
		}
		return Payout{}, ErrConflict
	}
	return s.GetPayout(ctx, payoutID)
}

func (s *PostgresStore) PayoutStatusSums(ctx context.Context, filter PayoutFilter) ([]StatusCount, error) {
	where, args := filter.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.status, COUNT(*), COALESCE(SUM(p.amount_cents), 0)`+payoutFrom+` WHERE `+where+`
		GROUP BY p.status ORDER BY p.status
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("sum payouts: %w", err)
	}
	return scanStatusCounts(rows, true)
}

func (s *PostgresStore) JobStatusCounts(ctx context.Context, posterID string) ([]StatusCount, error) {
	query := `SELECT status, COUNT(*) FROM jobs`
	args := []any{}
	if strings.TrimSpace(posterID) != "" {
		query += ` WHERE poster_id=$1`
		args = append(args, posterID)
	}
	query += ` GROUP BY status ORDER BY status`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return scanStatusCounts(rows, false)
}

func (s *PostgresStore) UserRoleCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, COUNT(*) FROM users WHERE deactivated_at IS NULL GROUP BY role ORDER BY role
	`)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	return scanStatusCounts(rows, false)
}

func (s *PostgresStore) LinkClicks(ctx context.Context, referrerID string) (int, error) {
	var clicks int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(clicks), 0) FROM referral_links WHERE referrer_id=$1`, referrerID).Scan(&clicks)
	if err != nil {
		return 0, fmt.Errorf("sum link clicks: %w", err)
	}
	return clicks, nil
}
