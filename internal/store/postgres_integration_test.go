package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReferralLifecyclePostgres(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, ApplyMigrations(ctx, db, testMigrationsDir, zap.NewNop()))

	s := NewPostgresStore(db)
	require.NoError(t, s.CreateUser(ctx, User{ID: "usr_poster", Email: "Poster@Example.com", DisplayName: "Pat", Role: "poster"}))
	require.NoError(t, s.CreateUser(ctx, User{ID: "usr_ref", Email: "ref@example.com", DisplayName: "Rae", Role: "referrer"}))

	user, err := s.GetUserByEmail(ctx, "poster@example.com")
	require.NoError(t, err)
	assert.Equal(t, "usr_poster", user.ID)

	job, err := s.InsertJob(ctx, Job{
		ID: "job_1", PosterID: "usr_poster", Title: "Backend Engineer", Company: "Acme",
		EmploymentType: "full_time", RewardCents: 150000, Currency: "USD",
		Skills: []string{"go", "postgres"}, Status: JobStatusOpen,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "postgres"}, job.Skills)
	assert.Nil(t, job.SalaryMin)

	jobs, total, err := s.ListJobs(ctx, JobQuery{Where: "j.status = $1", Args: []any{JobStatusOpen}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)

	ref, err := s.InsertReferral(ctx, Referral{
		ID: "ref_1", JobID: job.ID, ReferrerID: "usr_ref", CandidateName: "Casey",
		CandidateEmail: "Casey@Example.com", Source: SourceReferral, Status: ReferralSubmitted,
	})
	require.NoError(t, err)
	assert.Equal(t, "casey@example.com", ref.CandidateEmail)
	assert.Equal(t, "Backend Engineer", ref.JobTitle)

	require.NoError(t, s.CreateUser(ctx, User{ID: "usr_casey", Email: "casey@example.com", DisplayName: "Casey", Role: "candidate"}))
	require.NoError(t, s.UpdateUserVerificationToken(ctx, "usr_casey", "verify-casey", time.Now().Add(time.Hour)))
	verified, err := s.VerifyUserEmail(ctx, "verify-casey")
	require.NoError(t, err)
	assert.True(t, verified.IsEmailVerified)
	_, err = s.VerifyUserEmail(ctx, "verify-casey")
	assert.True(t, errors.Is(err, ErrNotFound))

	claimed, err := s.ClaimReferralsForCandidate(ctx, verified.ID, verified.Email)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	ref, err = s.GetReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "usr_casey", ref.CandidateID)
	claimed, err = s.ClaimReferralsForCandidate(ctx, verified.ID, verified.Email)
	require.NoError(t, err)
	assert.Zero(t, claimed)

	active, err := s.HasActiveReferral(ctx, job.ID, "CASEY@example.com")
	require.NoError(t, err)
	assert.True(t, active)

	_, err = s.TransitionReferral(ctx, ref.ID, ReferralReviewing, ReferralOffered, "usr_poster", "", nil)
	assert.True(t, errors.Is(err, ErrConflict))

	for _, step := range [][2]string{
		{ReferralSubmitted, ReferralReviewing},
		{ReferralReviewing, ReferralInterviewing},
		{ReferralInterviewing, ReferralOffered},
	} {
		_, err := s.TransitionReferral(ctx, ref.ID, step[0], step[1], "usr_poster", "", nil)
		require.NoError(t, err)
	}
	due := time.Now().Add(-time.Minute)
	_, err = s.TransitionReferral(ctx, ref.ID, ReferralOffered, ReferralHired, "usr_poster", "welcome", &Payout{
		ID: "pay_1", ReferralID: ref.ID, ReferrerID: "usr_ref", JobID: job.ID,
		AmountCents: 150000, Currency: "USD", Status: PayoutScheduled, ScheduledFor: due,
	})
	require.NoError(t, err)

	events, err := s.ListReferralEvents(ctx, ref.ID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, "", events[0].FromStatus)
	assert.Equal(t, ReferralHired, events[4].ToStatus)

	payouts, err := s.ListDuePayouts(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, "Casey", payouts[0].CandidateName)

	paidAt := time.Now()
	_, err = s.TransitionPayout(ctx, "pay_1", PayoutScheduled, PayoutProcessing, PayoutUpdate{})
	require.NoError(t, err)

	stalled, err := s.ListStalledPayouts(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, "pay_1", stalled[0].ID)
	stalled, err = s.ListStalledPayouts(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stalled)
	paid, err := s.TransitionPayout(ctx, "pay_1", PayoutProcessing, PayoutPaid, PayoutUpdate{PaidAt: &paidAt, Reference: "ledger-1"})
	require.NoError(t, err)
	assert.Equal(t, "ledger-1", paid.Reference)
	require.NotNil(t, paid.PaidAt)

	_, err = s.TransitionPayout(ctx, "pay_1", PayoutScheduled, PayoutProcessing, PayoutUpdate{})
	assert.True(t, errors.Is(err, ErrConflict))
	_, err = s.TransitionPayout(ctx, "pay_missing", PayoutScheduled, PayoutProcessing, PayoutUpdate{})
	assert.True(t, errors.Is(err, ErrNotFound))

	sums, err := s.PayoutStatusSums(ctx, PayoutFilter{ReferrerID: "usr_ref"})
	require.NoError(t, err)
	assert.Equal(t, []StatusCount{{Status: PayoutPaid, Count: 1, Cents: 150000}}, sums)
}

func TestRefreshSessionRevokeIsConditionalPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, ApplyMigrations(ctx, db, testMigrationsDir, zap.NewNop()))

	s := NewPostgresStore(db)
	require.NoError(t, s.CreateUser(ctx, User{ID: "usr_ref", Email: "ref@example.com", DisplayName: "Rae", Role: "referrer"}))
	require.NoError(t, s.SaveRefreshSession(ctx, "hash-1", "usr_ref", time.Now().Add(time.Hour)))

	user, err := s.LookupRefreshSession(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "usr_ref", user.ID)

	revoked, err := s.RevokeRefreshSession(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = s.RevokeRefreshSession(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, revoked, "a second revoke must not win the rotation")
	revoked, err = s.RevokeRefreshSession(ctx, "hash-missing")
	require.NoError(t, err)
	assert.False(t, revoked)

	_, err = s.LookupRefreshSession(ctx, "hash-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
