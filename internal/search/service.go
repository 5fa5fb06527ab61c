package search

import (
	"context"
	"sync"

	"refery/api/internal/jobboard"
	"refery/api/internal/store"

	"go.uber.org/zap"
)

// Service tries Meilisearch for text queries and falls back to PG FTS.
type Service struct {
	index  jobIndex
	pgfts  *PgFTS
	jobs   JobStore
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewService accepts a nil meili when Meilisearch is not configured.
func NewService(m *Meili, jobs JobStore, logger *zap.Logger) *Service {
	s := &Service{pgfts: NewPgFTS(jobs), jobs: jobs, logger: logger.Named("search")}
	if m != nil {
		s.index = m
	}
	return s
}

func (s *Service) indexHealthy() bool {
	return s.index != nil && s.index.Healthy()
}

// Search expects a normalized filter. Queries without text go straight to
// Postgres since there is nothing to rank.
func (s *Service) Search(ctx context.Context, f jobboard.Filter) (Result, error) {
	if f.Query != "" && s.indexHealthy() {
		jobs, total, err := s.searchIndex(ctx, f)
		if err == nil {
			return Result{Jobs: jobs, Total: total, Backend: BackendMeili}, nil
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	jobs, total, err := s.pgfts.Search(ctx, f)
	if err != nil {
		return Result{}, err
	}
	return Result{Jobs: jobs, Total: total, Backend: BackendPostgres}, nil
}

func (s *Service) searchIndex(ctx context.Context, f jobboard.Filter) ([]store.Job, int, error) {
	ids, err := s.index.SearchIDs(f.Query, f.Status, maxHits)
	if err != nil {
		return nil, 0, err
	}
	hits, err := s.jobs.ListJobsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	page, total := jobboard.Apply(hits, f)
	return page, total, nil
}

// IndexJob pushes job to Meilisearch in the background.
func (s *Service) IndexJob(job store.Job) {
	if !s.indexHealthy() {
		return
	}
	record := RecordFromJob(job)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.index.IndexJobs([]JobRecord{record}); err != nil {
			s.logger.Warn("index job", zap.String("job_id", record.ID), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteJob(id string) {
	if !s.indexHealthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.index.DeleteJob(id); err != nil {
			s.logger.Warn("delete job from index", zap.String("job_id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG reloads every job into Meilisearch. Called at bootstrap.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexHealthy() {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.index.IndexJobs(records); err != nil {
		s.logger.Warn("reindex jobs", zap.Error(err))
		return
	}
	s.logger.Info("reindexed jobs", zap.Int("count", len(records)))
}

// Wait blocks until background index updates finish.
func (s *Service) Wait() {
	s.wg.Wait()
}
