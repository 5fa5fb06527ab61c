package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrConflict is returned when a conditional update lost a race.
var ErrConflict = errors.New("conflict")

const referralColumns = `r.id, r.job_id, COALESCE(r.referrer_id, ''), COALESCE(r.candidate_id, ''),
	r.candidate_name, r.candidate_email, r.note, r.resume_key, r.source, r.status, r.status_note,
	r.created_at, r.updated_at, j.title, j.company, j.poster_id`

const referralFrom = ` FROM referrals r JOIN jobs j ON j.id = r.job_id`

func scanReferral(row rowScanner) (Referral, error) {
	var ref Referral
	err := row.Scan(
		&ref.ID, &ref.JobID, &ref.ReferrerID, &ref.CandidateID,
		&ref.CandidateName, &ref.CandidateEmail, &ref.Note, &ref.ResumeKey, &ref.Source, &ref.Status, &ref.StatusNote,
		&ref.CreatedAt, &ref.UpdatedAt, &ref.JobTitle, &ref.JobCompany, &ref.PosterID,
	)
	return ref, err
}

// ReferralFilter scopes list and count queries. Empty fields are ignored.
type ReferralFilter struct {
	JobID       string
	ReferrerID  string
	CandidateID string
	PosterID    string
	Status      string
	Limit       int
}

func (f ReferralFilter) where() (string, []any) {
	clauses := []string{"TRUE"}
	args := []any{}
	add := func(clause, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	add("r.job_id = $%d", f.JobID)
	add("r.referrer_id = $%d", f.ReferrerID)
	add("r.candidate_id = $%d", f.CandidateID)
	add("j.poster_id = $%d", f.PosterID)
	add("r.status = $%d", f.Status)
	return strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) InsertReferral(ctx context.Context, ref Referral) (Referral, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Referral{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO referrals (id, job_id, referrer_id, candidate_id, candidate_name, candidate_email, note, resume_key, source, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ref.ID, ref.JobID, nullString(ref.ReferrerID), nullString(ref.CandidateID), ref.CandidateName,
		strings.ToLower(strings.TrimSpace(ref.CandidateEmail)), ref.Note, ref.ResumeKey, ref.Source, ref.Status)
	if err != nil {
		return Referral{}, fmt.Errorf("insert referral: %w", err)
	}

	actor := ref.ReferrerID
	if actor == "" {
		actor = ref.CandidateID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO referral_events (referral_id, from_status, to_status, actor_id, note)
		VALUES ($1, '', $2, $3, '')
	`, ref.ID, ref.Status, actor); err != nil {
		return Referral{}, fmt.Errorf("insert referral event: %w", err)
	}

	created, err := scanReferral(tx.QueryRowContext(ctx, `SELECT `+referralColumns+referralFrom+` WHERE r.id=$1`, ref.ID))
	if err != nil {
		return Referral{}, fmt.Errorf("reload referral: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Referral{}, fmt.Errorf("commit referral: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetReferral(ctx context.Context, referralID string) (Referral, error) {
	ref, err := scanReferral(s.db.QueryRowContext(ctx, `SELECT `+referralColumns+referralFrom+` WHERE r.id=$1`, referralID))
	if err != nil {
		return Referral{}, notFound(err)
	}
	return ref, nil
}

func (s *PostgresStore) ListReferrals(ctx context.Context, filter ReferralFilter) ([]Referral, error) {
	where, args := filter.where()
	query := `SELECT ` + referralColumns + referralFrom + ` WHERE ` + where + ` ORDER BY r.created_at DESC, r.id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	out := []Referral{}
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referrals: %w", err)
	}
	return out, nil
}

// HasActiveReferral reports whether the candidate email already has a
// non-terminal referral for the job. Rejected and withdrawn ones don't count.
func (s *PostgresStore) HasActiveReferral(ctx context.Context, jobID, candidateEmail string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM referrals
			WHERE job_id=$1 AND lower(candidate_email)=lower($2)
				AND status NOT IN ('rejected', 'withdrawn')
		)
	`, jobID, strings.TrimSpace(candidateEmail)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active referral: %w", err)
	}
	return exists, nil
}

// ClaimReferralsForCandidate attaches referrals made out to an email before
// its owner had an account. Referrals the user made themselves are left alone.
func (s *PostgresStore) ClaimReferralsForCandidate(ctx context.Context, userID, email string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE referrals SET candidate_id=$1, updated_at=NOW()
		WHERE candidate_id IS NULL
			AND lower(candidate_email)=lower($2)
			AND (referrer_id IS NULL OR referrer_id <> $1)
	`, userID, strings.TrimSpace(email))
	if err != nil {
		return 0, fmt.Errorf("claim referrals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// TransitionReferral moves a referral from one status to another, appends
// the event and, when payout is non-nil, inserts it in the same transaction.
// It returns ErrConflict when the referral is no longer in the from status.
func (s *PostgresStore) TransitionReferral(ctx context.Context, referralID, from, to, actorID, note string, payout *Payout) (Referral, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Referral{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE referrals SET status=$3, status_note=$4, updated_at=NOW()
		WHERE id=$1 AND status=$2
	`, referralID, from, to, note)
	if err != nil {
		return Referral{}, fmt.Errorf("update referral status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Referral{}, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return Referral{}, ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO referral_events (referral_id, from_status, to_status, actor_id, note)
		VALUES ($1, $2, $3, $4, $5)
	`, referralID, from, to, actorID, note); err != nil {
		return Referral{}, fmt.Errorf("insert referral event: %w", err)
	}

	if payout != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payouts (id, referral_id, referrer_id, job_id, amount_cents, currency, status, scheduled_for)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (referral_id) DO NOTHING
		`, payout.ID, payout.ReferralID, payout.ReferrerID, payout.JobID, payout.AmountCents, payout.Currency,
			payout.Status, payout.ScheduledFor); err != nil {
			return Referral{}, fmt.Errorf("insert payout: %w", err)
		}
	}

	updated, err := scanReferral(tx.QueryRowContext(ctx, `SELECT `+referralColumns+referralFrom+` WHERE r.id=$1`, referralID))
	if err != nil {
		return Referral{}, fmt.Errorf("reload referral: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Referral{}, fmt.Errorf("commit transition: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) ListReferralEvents(ctx context.Context, referralID string) ([]ReferralEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, referral_id, from_status, to_status, actor_id, note, created_at
		FROM referral_events
		WHERE referral_id=$1
		ORDER BY created_at ASC, id ASC
	`, referralID)
	if err != nil {
		return nil, fmt.Errorf("list referral events: %w", err)
	}
	defer rows.Close()

	events := []ReferralEvent{}
	for rows.Next() {
		var ev ReferralEvent
		if err := rows.Scan(&ev.ID, &ev.ReferralID, &ev.FromStatus, &ev.ToStatus, &ev.ActorID, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan referral event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referral events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) SetReferralResume(ctx context.Context, referralID, resumeKey string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE referrals SET resume_key=$2, updated_at=NOW() WHERE id=$1`, referralID, resumeKey)
	if err != nil {
		return fmt.Errorf("set referral resume: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) ReferralStatusCounts(ctx context.Context, filter ReferralFilter) ([]StatusCount, error) {
	where, args := filter.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.status, COUNT(*)`+referralFrom+` WHERE `+where+`
		GROUP BY r.status ORDER BY r.status
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("count referrals: %w", err)
	}
	return scanStatusCounts(rows, false)
}

func scanStatusCounts(rows *sql.Rows, withCents bool) ([]StatusCount, error) {
	defer rows.Close()
	out := []StatusCount{}
	for rows.Next() {
		var sc StatusCount
		dest := []any{&sc.Status, &sc.Count}
		if withCents {
			dest = append(dest, &sc.Cents)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return out, nil
}
