package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"refery/api/internal/store"
)

// fakeStore is an in-memory dataStore and sessionStore. The fn fields
// override single methods for error paths.
type fakeStore struct {
	mu sync.Mutex

	users     map[string]store.User
	jobs      map[string]store.Job
	links     map[string]store.ReferralLink
	referrals map[string]store.Referral
	events    []store.ReferralEvent
	payouts   map[string]store.Payout
	resets    map[string]string
	refresh   map[string]string
	revoked   map[string]bool
	seq       int64

	listJobsFn           func(context.Context, store.JobQuery) ([]store.Job, int, error)
	transitionReferralFn func(ctx context.Context, referralID, from, to, actorID, note string, payout *store.Payout) (store.Referral, error)
	pingFn               func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]store.User{},
		jobs:      map[string]store.Job{},
		links:     map[string]store.ReferralLink{},
		referrals: map[string]store.Referral{},
		payouts:   map[string]store.Payout{},
		resets:    map[string]string{},
		refresh:   map[string]string{},
		revoked:   map[string]bool{},
	}
}

func (f *fakeStore) tick() time.Time {
	f.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Second)
}

func (f *fakeStore) addUser(user store.User) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = f.tick()
	}
	f.users[user.ID] = user
	return user
}

func (f *fakeStore) addJob(job store.Job) store.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.Currency == "" {
		job.Currency = "USD"
	}
	if job.EmploymentType == "" {
		job.EmploymentType = "full_time"
	}
	job.CreatedAt = f.tick()
	job.UpdatedAt = job.CreatedAt
	f.jobs[job.ID] = job
	return job
}

// Users

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.CreatedAt = f.tick()
	if user.VerificationToken != "" {
		expires := user.CreatedAt.Add(24 * time.Hour)
		user.VerificationExpiresAt = &expires
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if token != "" && u.VerificationToken == token {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", store.ErrNotFound
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, userID, displayName, company, headline string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.DisplayName, u.Company, u.Headline = displayName, company, headline
	f.users[userID] = u
	return nil
}

// Sessions

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.users[userID], nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.refresh[tokenHash]
	delete(f.refresh, tokenHash)
	return ok, nil
}

func (f *fakeStore) RevokeUserSessions(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, owner := range f.refresh {
		if owner == userID {
			delete(f.refresh, hash)
		}
	}
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// Jobs

func (f *fakeStore) InsertJob(_ context.Context, job store.Job) (store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.CreatedAt = f.tick()
	job.UpdatedAt = job.CreatedAt
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeStore) GetJob(_ context.Context, jobID string) (store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return store.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) UpdateJob(_ context.Context, job store.Job) (store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.jobs[job.ID]
	if !ok {
		return store.Job{}, store.ErrNotFound
	}
	job.PosterID = current.PosterID
	job.Status = current.Status
	job.CreatedAt = current.CreatedAt
	job.UpdatedAt = f.tick()
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, jobID, status string) (store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return store.Job{}, store.ErrNotFound
	}
	job.Status = status
	job.UpdatedAt = f.tick()
	f.jobs[jobID] = job
	return job, nil
}

func (f *fakeStore) DeleteJob(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[jobID]; !ok {
		return store.ErrNotFound
	}
	delete(f.jobs, jobID)
	return nil
}

// ListJobs cannot evaluate SQL; by default it returns every job.
func (f *fakeStore) ListJobs(ctx context.Context, q store.JobQuery) ([]store.Job, int, error) {
	if f.listJobsFn != nil {
		return f.listJobsFn(ctx, q)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Job, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (f *fakeStore) ListJobsByIDs(_ context.Context, ids []string) ([]store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Job{}
	for _, id := range ids {
		if job, ok := f.jobs[id]; ok {
			out = append(out, job)
		}
	}
	return out, nil
}

// Links

func (f *fakeStore) UpsertReferralLink(_ context.Context, link store.ReferralLink) (store.ReferralLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.links {
		if existing.JobID == link.JobID && existing.ReferrerID == link.ReferrerID {
			return existing, nil
		}
	}
	link.CreatedAt = f.tick()
	f.links[link.Code] = link
	return link, nil
}

func (f *fakeStore) ResolveReferralLink(_ context.Context, code string) (store.ReferralLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[code]
	if !ok {
		return store.ReferralLink{}, store.ErrNotFound
	}
	link.Clicks++
	f.links[code] = link
	return link, nil
}

func (f *fakeStore) GetReferralLink(_ context.Context, code string) (store.ReferralLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[code]
	if !ok {
		return store.ReferralLink{}, store.ErrNotFound
	}
	return link, nil
}

func (f *fakeStore) LinkClicks(_ context.Context, referrerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, link := range f.links {
		if link.ReferrerID == referrerID {
			total += link.Clicks
		}
	}
	return total, nil
}

// Referrals

func (f *fakeStore) joinReferral(ref store.Referral) store.Referral {
	job := f.jobs[ref.JobID]
	ref.JobTitle, ref.JobCompany, ref.PosterID = job.Title, job.Company, job.PosterID
	return ref
}

func (f *fakeStore) InsertReferral(_ context.Context, ref store.Referral) (store.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref.CandidateEmail = strings.ToLower(strings.TrimSpace(ref.CandidateEmail))
	ref.CreatedAt = f.tick()
	ref.UpdatedAt = ref.CreatedAt
	f.referrals[ref.ID] = ref
	actor := ref.ReferrerID
	if actor == "" {
		actor = ref.CandidateID
	}
	f.events = append(f.events, store.ReferralEvent{
		ID: int64(len(f.events) + 1), ReferralID: ref.ID, ToStatus: ref.Status, ActorID: actor, CreatedAt: ref.CreatedAt,
	})
	return f.joinReferral(ref), nil
}

func (f *fakeStore) GetReferral(_ context.Context, referralID string) (store.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[referralID]
	if !ok {
		return store.Referral{}, store.ErrNotFound
	}
	return f.joinReferral(ref), nil
}

func (f *fakeStore) matchReferral(ref store.Referral, filter store.ReferralFilter) bool {
	ref = f.joinReferral(ref)
	switch {
	case filter.JobID != "" && ref.JobID != filter.JobID,
		filter.ReferrerID != "" && ref.ReferrerID != filter.ReferrerID,
		filter.CandidateID != "" && ref.CandidateID != filter.CandidateID,
		filter.PosterID != "" && ref.PosterID != filter.PosterID,
		filter.Status != "" && ref.Status != filter.Status:
		return false
	}
	return true
}

func (f *fakeStore) ListReferrals(_ context.Context, filter store.ReferralFilter) ([]store.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Referral{}
	for _, ref := range f.referrals {
		if f.matchReferral(ref, filter) {
			out = append(out, f.joinReferral(ref))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) HasActiveReferral(_ context.Context, jobID, candidateEmail string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range f.referrals {
		if ref.JobID == jobID && strings.EqualFold(ref.CandidateEmail, strings.TrimSpace(candidateEmail)) &&
			ref.Status != store.ReferralRejected && ref.Status != store.ReferralWithdrawn {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ClaimReferralsForCandidate(_ context.Context, userID, email string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claimed := 0
	for id, ref := range f.referrals {
		if ref.CandidateID == "" && ref.ReferrerID != userID && strings.EqualFold(ref.CandidateEmail, strings.TrimSpace(email)) {
			ref.CandidateID = userID
			f.referrals[id] = ref
			claimed++
		}
	}
	return claimed, nil
}

func (f *fakeStore) TransitionReferral(ctx context.Context, referralID, from, to, actorID, note string, payout *store.Payout) (store.Referral, error) {
	if f.transitionReferralFn != nil {
		return f.transitionReferralFn(ctx, referralID, from, to, actorID, note, payout)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[referralID]
	if !ok || ref.Status != from {
		return store.Referral{}, store.ErrConflict
	}
	ref.Status, ref.StatusNote, ref.UpdatedAt = to, note, f.tick()
	f.referrals[referralID] = ref
	f.events = append(f.events, store.ReferralEvent{
		ID: int64(len(f.events) + 1), ReferralID: referralID, FromStatus: from, ToStatus: to, ActorID: actorID, Note: note, CreatedAt: ref.UpdatedAt,
	})
	if payout != nil {
		exists := false
		for _, p := range f.payouts {
			exists = exists || p.ReferralID == payout.ReferralID
		}
		if !exists {
			p := *payout
			p.CreatedAt = ref.UpdatedAt
			f.payouts[p.ID] = p
		}
	}
	return f.joinReferral(ref), nil
}

func (f *fakeStore) ListReferralEvents(_ context.Context, referralID string) ([]store.ReferralEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.ReferralEvent{}
	for _, ev := range f.events {
		if ev.ReferralID == referralID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeStore) SetReferralResume(_ context.Context, referralID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[referralID]
	if !ok {
		return store.ErrNotFound
	}
	ref.ResumeKey = key
	f.referrals[referralID] = ref
	return nil
}

func (f *fakeStore) ReferralStatusCounts(_ context.Context, filter store.ReferralFilter) ([]store.StatusCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, ref := range f.referrals {
		if f.matchReferral(ref, filter) {
			counts[ref.Status]++
		}
	}
	return sortedCounts(counts, nil), nil
}

// Payouts

func (f *fakeStore) joinPayout(p store.Payout) store.Payout {
	job := f.jobs[p.JobID]
	p.JobTitle, p.PosterID = job.Title, job.PosterID
	p.CandidateName = f.referrals[p.ReferralID].CandidateName
	return p
}

func (f *fakeStore) matchPayout(p store.Payout, filter store.PayoutFilter) bool {
	p = f.joinPayout(p)
	switch {
	case filter.ReferrerID != "" && p.ReferrerID != filter.ReferrerID,
		filter.PosterID != "" && p.PosterID != filter.PosterID,
		filter.Status != "" && p.Status != filter.Status,
		!filter.From.IsZero() && p.CreatedAt.Before(filter.From),
		!filter.To.IsZero() && !p.CreatedAt.Before(filter.To):
		return false
	}
	return true
}

func (f *fakeStore) GetPayout(_ context.Context, payoutID string) (store.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payouts[payoutID]
	if !ok {
		return store.Payout{}, store.ErrNotFound
	}
	return f.joinPayout(p), nil
}

func (f *fakeStore) ListPayouts(_ context.Context, filter store.PayoutFilter) ([]store.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Payout{}
	for _, p := range f.payouts {
		if f.matchPayout(p, filter) {
			out = append(out, f.joinPayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListDuePayouts(_ context.Context, now time.Time, limit int) ([]store.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Payout{}
	for _, p := range f.payouts {
		if p.Status == store.PayoutScheduled && !p.ScheduledFor.After(now) {
			out = append(out, f.joinPayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ListStalledPayouts(_ context.Context, before time.Time, limit int) ([]store.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Payout{}
	for _, p := range f.payouts {
		if p.Status == store.PayoutProcessing && p.UpdatedAt.Before(before) {
			out = append(out, f.joinPayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) TransitionPayout(_ context.Context, payoutID, from, to string, update store.PayoutUpdate) (store.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payouts[payoutID]
	if !ok {
		return store.Payout{}, store.ErrNotFound
	}
	if p.Status != from {
		return store.Payout{}, store.ErrConflict
	}
	p.Status = to
	p.FailureReason = update.FailureReason
	if update.ScheduledFor != nil {
		p.ScheduledFor = *update.ScheduledFor
	}
	if update.PaidAt != nil {
		p.PaidAt = update.PaidAt
	}
	if update.Reference != "" {
		p.Reference = update.Reference
	}
	f.payouts[payoutID] = p
	return f.joinPayout(p), nil
}

func (f *fakeStore) PayoutStatusSums(_ context.Context, filter store.PayoutFilter) ([]store.StatusCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts, cents := map[string]int{}, map[string]int64{}
	for _, p := range f.payouts {
		if f.matchPayout(p, filter) {
			counts[p.Status]++
			cents[p.Status] += p.AmountCents
		}
	}
	return sortedCounts(counts, cents), nil
}

func (f *fakeStore) JobStatusCounts(_ context.Context, posterID string) ([]store.StatusCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, job := range f.jobs {
		if posterID == "" || job.PosterID == posterID {
			counts[job.Status]++
		}
	}
	return sortedCounts(counts, nil), nil
}

func (f *fakeStore) UserRoleCounts(context.Context) ([]store.StatusCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, u := range f.users {
		if u.DeactivatedAt == nil {
			counts[u.Role]++
		}
	}
	return sortedCounts(counts, nil), nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func sortedCounts(counts map[string]int, cents map[string]int64) []store.StatusCount {
	out := make([]store.StatusCount, 0, len(counts))
	for status, n := range counts {
		out = append(out, store.StatusCount{Status: status, Count: n, Cents: cents[status]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}
