package app

import (
	"context"

	"refery/api/internal/cache"
	"refery/api/internal/rbac"
	"refery/api/internal/store"

	"golang.org/x/sync/errgroup"
)

const (
	dashboardCachePrefix = "dashboard:"
	recentReferrals      = 5
)

type Dashboard struct {
	Role      string          `json:"role"`
	Poster    *PosterStats    `json:"poster,omitempty"`
	Referrer  *ReferrerStats  `json:"referrer,omitempty"`
	Candidate *CandidateStats `json:"candidate,omitempty"`
	Admin     *AdminStats     `json:"admin,omitempty"`
}

type PosterStats struct {
	Jobs             map[string]int `json:"jobs"`
	Referrals        map[string]int `json:"referrals"`
	Hires            int            `json:"hires"`
	PayoutsOwedCents int64          `json:"payoutsOwedCents"`
	PaidCents        int64          `json:"paidCents"`
	Recent           []ReferralView `json:"recent"`
}

type ReferrerStats struct {
	Referrals    map[string]int `json:"referrals"`
	HireRate     float64        `json:"hireRate"`
	PendingCents int64          `json:"pendingCents"`
	PaidCents    int64          `json:"paidCents"`
	LinkClicks   int            `json:"linkClicks"`
	Recent       []ReferralView `json:"recent"`
}

type CandidateStats struct {
	Applications map[string]int `json:"applications"`
	Recent       []ReferralView `json:"recent"`
}

type AdminStats struct {
	Users       map[string]int   `json:"users"`
	Jobs        map[string]int   `json:"jobs"`
	Payouts     map[string]int   `json:"payouts"`
	PayoutCents map[string]int64 `json:"payoutCents"`
}

func countsByStatus(counts []store.StatusCount) map[string]int {
	out := make(map[string]int, len(counts))
	for _, c := range counts {
		out[c.Status] = c.Count
	}
	return out
}

func centsByStatus(counts []store.StatusCount) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.Status] = c.Cents
	}
	return out
}

// hireRate is hired over decided referrals. Open and withdrawn ones are
// not decided yet or never will be.
func hireRate(byStatus map[string]int) float64 {
	hired := byStatus[store.ReferralHired]
	decided := hired + byStatus[store.ReferralRejected]
	if decided == 0 {
		return 0
	}
	return float64(hired) / float64(decided)
}

// Dashboard returns the caller's role-specific stats, cached per user until
// the next referral or payout change.
func (s *Service) Dashboard(ctx context.Context, session Session) (Dashboard, error) {
	return cache.Load(ctx, s.cache, dashboardCachePrefix+session.UserID, func(ctx context.Context) (Dashboard, error) {
		return s.buildDashboard(ctx, session)
	})
}

func (s *Service) buildDashboard(ctx context.Context, session Session) (Dashboard, error) {
	role := session.role()
	out := Dashboard{Role: string(role)}
	var err error
	switch role {
	case rbac.RoleAdmin:
		out.Admin, err = s.adminStats(ctx)
	case rbac.RolePoster:
		out.Poster, err = s.posterStats(ctx, session)
	case rbac.RoleReferrer:
		out.Referrer, err = s.referrerStats(ctx, session)
	default:
		out.Candidate, err = s.candidateStats(ctx, session)
	}
	if err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

func (s *Service) posterStats(ctx context.Context, session Session) (*PosterStats, error) {
	var (
		jobs, referrals, payouts []store.StatusCount
		recent                   []store.Referral
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		jobs, err = s.store.JobStatusCounts(gctx, session.UserID)
		return err
	})
	g.Go(func() (err error) {
		referrals, err = s.store.ReferralStatusCounts(gctx, store.ReferralFilter{PosterID: session.UserID})
		return err
	})
	g.Go(func() (err error) {
		payouts, err = s.store.PayoutStatusSums(gctx, store.PayoutFilter{PosterID: session.UserID})
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.store.ListReferrals(gctx, store.ReferralFilter{PosterID: session.UserID, Limit: recentReferrals})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byStatus := countsByStatus(referrals)
	cents := centsByStatus(payouts)
	return &PosterStats{
		Jobs:             countsByStatus(jobs),
		Referrals:        byStatus,
		Hires:            byStatus[store.ReferralHired],
		PayoutsOwedCents: cents[store.PayoutScheduled] + cents[store.PayoutProcessing],
		PaidCents:        cents[store.PayoutPaid],
		Recent:           referralViews(recent, session),
	}, nil
}

func (s *Service) referrerStats(ctx context.Context, session Session) (*ReferrerStats, error) {
	var (
		referrals, payouts []store.StatusCount
		recent             []store.Referral
		clicks             int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		referrals, err = s.store.ReferralStatusCounts(gctx, store.ReferralFilter{ReferrerID: session.UserID})
		return err
	})
	g.Go(func() (err error) {
		payouts, err = s.store.PayoutStatusSums(gctx, store.PayoutFilter{ReferrerID: session.UserID})
		return err
	})
	g.Go(func() (err error) {
		clicks, err = s.store.LinkClicks(gctx, session.UserID)
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.store.ListReferrals(gctx, store.ReferralFilter{ReferrerID: session.UserID, Limit: recentReferrals})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byStatus := countsByStatus(referrals)
	cents := centsByStatus(payouts)
	return &ReferrerStats{
		Referrals:    byStatus,
		HireRate:     hireRate(byStatus),
		PendingCents: cents[store.PayoutScheduled] + cents[store.PayoutProcessing],
		PaidCents:    cents[store.PayoutPaid],
		LinkClicks:   clicks,
		Recent:       referralViews(recent, session),
	}, nil
}

func (s *Service) candidateStats(ctx context.Context, session Session) (*CandidateStats, error) {
	var (
		applications []store.StatusCount
		recent       []store.Referral
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		applications, err = s.store.ReferralStatusCounts(gctx, store.ReferralFilter{CandidateID: session.UserID})
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.store.ListReferrals(gctx, store.ReferralFilter{CandidateID: session.UserID, Limit: recentReferrals})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &CandidateStats{
		Applications: countsByStatus(applications),
		Recent:       referralViews(recent, session),
	}, nil
}

func (s *Service) adminStats(ctx context.Context) (*AdminStats, error) {
	var users, jobs, payouts []store.StatusCount
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = s.store.UserRoleCounts(gctx)
		return err
	})
	g.Go(func() (err error) {
		jobs, err = s.store.JobStatusCounts(gctx, "")
		return err
	})
	g.Go(func() (err error) {
		payouts, err = s.store.PayoutStatusSums(gctx, store.PayoutFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &AdminStats{
		Users:       countsByStatus(users),
		Jobs:        countsByStatus(jobs),
		Payouts:     countsByStatus(payouts),
		PayoutCents: centsByStatus(payouts),
	}, nil
}
