package main

import (
	"context"
	"fmt"

	"refery/api/internal/authpw"
	"refery/api/internal/rbac"
	"refery/api/internal/store"
	"refery/api/internal/util"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedPassword string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo accounts and an open job on an empty database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		return seed(ctx, store.NewPostgresStore(db), seedPassword, logger)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPassword, "password", "refery-demo-1", "password for every demo account")
}

type demoUser struct {
	email, name string
	role        rbac.Role
	company     string
}

var demoUsers = []demoUser{
	{"admin@refery.dev", "Refery Admin", rbac.RoleAdmin, "Refery"},
	{"poster@refery.dev", "Pat Poster", rbac.RolePoster, "Acme"},
	{"referrer@refery.dev", "Rae Referrer", rbac.RoleReferrer, ""},
	{"candidate@refery.dev", "Cam Candidate", rbac.RoleCandidate, ""},
}

func seed(ctx context.Context, s *store.PostgresStore, password string, logger *zap.Logger) error {
	count, err := s.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Info("database already has users, skipping seed", zap.Int("users", count))
		return nil
	}

	hash, err := authpw.NewService(s).HashPassword(password)
	if err != nil {
		return err
	}

	var posterID string
	for _, u := range demoUsers {
		id := util.NewID("usr")
		if err := s.CreateUser(ctx, store.User{
			ID:              id,
			Email:           u.email,
			DisplayName:     u.name,
			PasswordHash:    hash,
			Role:            string(u.role),
			Company:         u.company,
			IsEmailVerified: true,
		}); err != nil {
			return err
		}
		if u.role == rbac.RolePoster {
			posterID = id
		}
		logger.Info("seeded user", zap.String("email", u.email), zap.String("role", string(u.role)))
	}

	job, err := s.InsertJob(ctx, store.Job{
		ID:             util.NewID("job"),
		PosterID:       posterID,
		Title:          "Senior Backend Engineer",
		Company:        "Acme",
		Location:       "Berlin",
		EmploymentType: "full_time",
		Remote:         true,
		RewardCents:    250000,
		Currency:       "USD",
		Description:    "Own the payments platform: Go services, Postgres and Redis.",
		Skills:         []string{"go", "postgres", "redis"},
		Status:         store.JobStatusOpen,
	})
	if err != nil {
		return err
	}
	logger.Info("seeded job", zap.String("id", job.ID))
	return nil
}
