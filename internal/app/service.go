package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"refery/api/internal/assistant"
	"refery/api/internal/auth"
	"refery/api/internal/authpw"
	"refery/api/internal/cache"
	"refery/api/internal/config"
	"refery/api/internal/email"
	"refery/api/internal/export"
	"refery/api/internal/jobhistory"
	"refery/api/internal/payout"
	"refery/api/internal/rbac"
	"refery/api/internal/search"
	"refery/api/internal/store"
	"refery/api/internal/util"

	"go.uber.org/zap"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) role() rbac.Role {
	return rbac.Normalize(s.Role)
}

func (s Session) isAdmin() bool {
	return s.role() == rbac.RoleAdmin
}

type dataStore interface {
	authpw.UserStore
	UpdateUserProfile(ctx context.Context, userID, displayName, company, headline string) error

	InsertJob(ctx context.Context, job store.Job) (store.Job, error)
	GetJob(ctx context.Context, jobID string) (store.Job, error)
	UpdateJob(ctx context.Context, job store.Job) (store.Job, error)
	UpdateJobStatus(ctx context.Context, jobID, status string) (store.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, q store.JobQuery) ([]store.Job, int, error)
	ListJobsByIDs(ctx context.Context, ids []string) ([]store.Job, error)

	UpsertReferralLink(ctx context.Context, link store.ReferralLink) (store.ReferralLink, error)
	ResolveReferralLink(ctx context.Context, code string) (store.ReferralLink, error)
	GetReferralLink(ctx context.Context, code string) (store.ReferralLink, error)

	InsertReferral(ctx context.Context, ref store.Referral) (store.Referral, error)
	GetReferral(ctx context.Context, referralID string) (store.Referral, error)
	ListReferrals(ctx context.Context, filter store.ReferralFilter) ([]store.Referral, error)
	HasActiveReferral(ctx context.Context, jobID, candidateEmail string) (bool, error)
	ClaimReferralsForCandidate(ctx context.Context, userID, email string) (int, error)
	TransitionReferral(ctx context.Context, referralID, from, to, actorID, note string, payout *store.Payout) (store.Referral, error)
	ListReferralEvents(ctx context.Context, referralID string) ([]store.ReferralEvent, error)
	SetReferralResume(ctx context.Context, referralID, resumeKey string) error
	ReferralStatusCounts(ctx context.Context, filter store.ReferralFilter) ([]store.StatusCount, error)

	GetPayout(ctx context.Context, payoutID string) (store.Payout, error)
	ListPayouts(ctx context.Context, filter store.PayoutFilter) ([]store.Payout, error)
	ListDuePayouts(ctx context.Context, now time.Time, limit int) ([]store.Payout, error)
	ListStalledPayouts(ctx context.Context, before time.Time, limit int) ([]store.Payout, error)
	TransitionPayout(ctx context.Context, payoutID, from, to string, update store.PayoutUpdate) (store.Payout, error)
	PayoutStatusSums(ctx context.Context, filter store.PayoutFilter) ([]store.StatusCount, error)
	JobStatusCounts(ctx context.Context, posterID string) ([]store.StatusCount, error)
	UserRoleCounts(ctx context.Context) ([]store.StatusCount, error)
	LinkClicks(ctx context.Context, referrerID string) (int, error)

	Ping(ctx context.Context) error
}

// sessionStore is implemented by both the Postgres and Redis stores.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) (bool, error)
	RevokeUserSessions(ctx context.Context, userID string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type resumeStorage interface {
	PutResume(ctx context.Context, referralID, filename string, body io.Reader, size int64) (string, error)
	PresignResume(ctx context.Context, key string, ttl time.Duration) (string, error)
	DeleteResume(ctx context.Context, key string) error
}

type postingHistory interface {
	Record(jobID string, snap jobhistory.Snapshot, author, message string) (jobhistory.Revision, error)
	History(jobID string, limit int) ([]jobhistory.Revision, error)
	Snapshot(jobID, hash string) (jobhistory.Snapshot, jobhistory.Revision, error)
	Remove(jobID string) error
}

type statementExporter interface {
	Export(ctx context.Context, stmt export.Statement, format export.Format) (*export.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendReferralReceived(to string, data email.ReferralReceivedData) error
	SendStatusChanged(to string, data email.StatusChangedData) error
	SendPayoutPaid(to string, data email.PayoutPaidData) error
}

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck func(context.Context) error

// Deps are the collaborators of Service. Only Store is required.
type Deps struct {
	Store     dataStore
	Sessions  sessionStore
	Search    *search.Service
	Resumes   resumeStorage
	History   postingHistory
	Exporter  statementExporter
	Mailer    mailer
	Cache     *cache.Cache
	Disburser payout.Disburser
	Assistant *assistant.Responder
	Logger    *zap.Logger
	// Checks are extra readiness probes keyed by component name.
	Checks map[string]ReadinessCheck
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	auth      *authpw.Service
	tokens    *auth.Signer
	search    *search.Service
	resumes   resumeStorage
	history   postingHistory
	exporter  statementExporter
	mailer    mailer
	cache     *cache.Cache
	payouts   *payout.Processor
	assistant *assistant.Responder
	logger    *zap.Logger
	checks    map[string]ReadinessCheck
	now       func() time.Time

	background sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		auth:      authpw.NewService(deps.Store),
		tokens:    auth.NewSigner([]byte(cfg.JWTSecret)),
		search:    deps.Search,
		resumes:   deps.Resumes,
		history:   deps.History,
		exporter:  deps.Exporter,
		mailer:    deps.Mailer,
		cache:     deps.Cache,
		assistant: deps.Assistant,
		logger:    logger.Named("app"),
		checks:    deps.Checks,
		now:       time.Now,
	}
	if s.sessions == nil {
		if ss, ok := deps.Store.(sessionStore); ok {
			s.sessions = ss
		}
	}
	if s.search == nil {
		s.search = search.NewService(nil, deps.Store, logger)
	}
	if s.exporter == nil {
		s.exporter = export.NewService()
	}
	if s.assistant == nil {
		s.assistant = assistant.Default(cfg.PayoutDelay)
	}
	s.payouts = payout.NewProcessor(deps.Store, deps.Disburser, logger, payout.Options{
		BatchSize: cfg.PayoutBatchSize,
		Lease:     cfg.PayoutLease,
		Now:       func() time.Time { return s.now() },
		OnSettled: s.onPayoutSettled,
	})
	return s
}

// Payouts exposes the processor driven by the cron scheduler.
func (s *Service) Payouts() *payout.Processor {
	return s.payouts
}

// Bootstrap loads every posting into the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.search.ReindexAllFromPG(ctx)
	return nil
}

// Wait blocks until background notifications and index updates finish.
func (s *Service) Wait() {
	s.background.Wait()
	s.search.Wait()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness runs the database ping and every extra check.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	results := map[string]error{"database": s.store.Ping(ctx)}
	for name, check := range s.checks {
		results[name] = check(ctx)
	}
	return results
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) require(session Session, action rbac.Action) error {
	if !rbac.Can(session.role(), action) {
		return forbidden()
	}
	return nil
}

// notify runs fn in the background and logs a failure. Emails never fail
// the request that triggered them.
func (s *Service) notify(kind string, fn func() error) {
	if !s.SMTPConfigured() {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := fn(); err != nil {
			s.logger.Warn("send email", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

func (s *Service) invalidateDashboards(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, dashboardCachePrefix); err != nil {
		s.logger.Warn("invalidate dashboard cache", zap.Error(err))
	}
}

func (s *Service) publicURL(path string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + path
}

// Sessions

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token. The user is reloaded so role changes and
// deactivation apply immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}
	revoked, err := s.sessions.RevokeRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if !revoked {
		// Another request rotated this token first.
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := s.tokens.Issue(auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if _, err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token", zap.Error(err))
		}
	}
	return nil
}

// Email/password flows

type SignUpResult struct {
	User              store.User
	VerificationToken string
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (SignUpResult, error) {
	resp, err := s.auth.SignUp(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrEmailTaken):
			return SignUpResult{}, domainError(http.StatusConflict, "EMAIL_TAKEN", "Email already registered", nil)
		case errors.Is(err, authpw.ErrInvalidInput):
			return SignUpResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", strings.TrimPrefix(err.Error(), authpw.ErrInvalidInput.Error()+": "), nil)
		}
		return SignUpResult{}, err
	}
	user := resp.User
	verifyURL := s.publicURL("/verify-email?token=" + resp.VerificationToken)
	s.notify("verification", func() error {
		return s.mailer.SendVerificationEmail(user.Email, user.DisplayName, verifyURL)
	})
	return SignUpResult{User: user, VerificationToken: resp.VerificationToken}, nil
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	resp, err := s.auth.SignIn(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrAccountDisabled):
			return Session{}, domainError(http.StatusForbidden, "ACCOUNT_DISABLED", "Account disabled", nil)
		case errors.Is(err, authpw.ErrInvalidCredentials), errors.Is(err, authpw.ErrInvalidInput):
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	return s.issueSession(ctx, resp.User)
}

// VerifyEmail also hands the new owner of the address any referrals made
// out to it before they signed up.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.auth.VerifyEmail(ctx, token)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidToken) {
			return domainError(http.StatusBadRequest, "VERIFICATION_FAILED", "Verification link is invalid or expired", nil)
		}
		return err
	}
	claimed, err := s.store.ClaimReferralsForCandidate(ctx, user.ID, user.Email)
	if err != nil {
		return err
	}
	if claimed > 0 {
		s.logger.Info("linked referrals to new account", zap.String("user_id", user.ID), zap.Int("referrals", claimed))
		s.invalidateDashboards(ctx)
	}
	return nil
}

// RequestPasswordReset returns the token only so dev setups without SMTP
// can complete the flow.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (string, error) {
	token, user, err := s.auth.RequestPasswordReset(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	resetURL := s.publicURL("/reset-password?token=" + token)
	s.notify("password_reset", func() error {
		return s.mailer.SendPasswordResetEmail(user.Email, user.DisplayName, resetURL)
	})
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, req authpw.ResetPasswordRequest) error {
	userID, err := s.auth.ResetPassword(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrInvalidToken):
			return domainError(http.StatusBadRequest, "RESET_FAILED", "Reset link is invalid or expired", nil)
		case errors.Is(err, authpw.ErrInvalidInput):
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", strings.TrimPrefix(err.Error(), authpw.ErrInvalidInput.Error()+": "), nil)
		}
		return err
	}
	if err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// Profile

func (s *Service) Me(ctx context.Context, session Session) (UserView, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return UserView{}, err
	}
	return userView(user), nil
}

func (s *Service) UpdateMe(ctx context.Context, session Session, input ProfileInput) (UserView, error) {
	if err := validate.Struct(input); err != nil {
		return UserView{}, err
	}
	if err := s.store.UpdateUserProfile(ctx, session.UserID,
		strings.TrimSpace(input.DisplayName), strings.TrimSpace(input.Company), strings.TrimSpace(input.Headline)); err != nil {
		return UserView{}, err
	}
	return s.Me(ctx, session)
}

// Chat answers the support widget. Anonymous callers get generic replies.
func (s *Service) Chat(message string, session *Session) assistant.Answer {
	var role rbac.Role
	if session != nil {
		role = session.role()
	}
	return s.assistant.Reply(message, role)
}
