// Package jobhistory keeps a git repository per job posting so posters can
// see how a posting changed over time.
package jobhistory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"refery/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "posting.json"

var ErrRevisionNotFound = errors.New("revision not found")

// Snapshot is the versioned part of a job posting.
type Snapshot struct {
	Title          string   `json:"title"`
	Company        string   `json:"company"`
	Location       string   `json:"location"`
	EmploymentType string   `json:"employmentType"`
	Remote         bool     `json:"remote"`
	SalaryMin      *int64   `json:"salaryMin,omitempty"`
	SalaryMax      *int64   `json:"salaryMax,omitempty"`
	RewardCents    int64    `json:"rewardCents"`
	Currency       string   `json:"currency"`
	Description    string   `json:"description"`
	Skills         []string `json:"skills"`
	Status         string   `json:"status"`
}

func SnapshotFromJob(job store.Job) Snapshot {
	skills := job.Skills
	if skills == nil {
		skills = []string{}
	}
	return Snapshot{
		Title:          job.Title,
		Company:        job.Company,
		Location:       job.Location,
		EmploymentType: job.EmploymentType,
		Remote:         job.Remote,
		SalaryMin:      job.SalaryMin,
		SalaryMax:      job.SalaryMax,
		RewardCents:    job.RewardCents,
		Currency:       job.Currency,
		Description:    job.Description,
		Skills:         skills,
		Status:         job.Status,
	}
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Record commits snap for the job, creating the repository on first use.
// Unchanged snapshots do not produce a commit; the head revision is
// returned instead.
func (s *Service) Record(jobID string, snap Snapshot, author, message string) (Revision, error) {
	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(jobID)
	if err != nil {
		return Revision{}, err
	}

	head, err := repo.Head()
	switch {
	case err == nil:
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Revision{}, fmt.Errorf("load head commit: %w", err)
		}
		current, err := readSnapshot(commitObj)
		if err != nil {
			return Revision{}, err
		}
		if !HasChanges(current, snap) {
			return toRevision(commitObj), nil
		}
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	default:
		return Revision{}, fmt.Errorf("resolve head: %w", err)
	}

	hash, err := s.commit(repo, snap, author, message)
	if err != nil {
		return Revision{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// History lists revisions newest first. A job without a repository has no
// history yet, which is not an error.
func (s *Service) History(jobID string, limit int) ([]Revision, error) {
	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(jobID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := []Revision{}
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Snapshot returns the posting as it was at hash (full or abbreviated).
func (s *Service) Snapshot(jobID, hash string) (Snapshot, Revision, error) {
	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(jobID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, Revision{}, ErrRevisionNotFound
	}
	if err != nil {
		return Snapshot{}, Revision{}, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, Revision{}, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	return snap, toRevision(commitObj), nil
}

// Remove deletes the job's repository.
func (s *Service) Remove(jobID string) error {
	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(jobID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(jobID string) string {
	return filepath.Join(s.baseDir, filepath.Base(jobID))
}

func (s *Service) jobLock(jobID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[jobID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[jobID] = lock
	return lock
}

func (s *Service) openOrInit(jobID string) (*git.Repository, error) {
	path := s.repoPath(jobID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, snap Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: sanitizeEmail(author) + "@users.refery.local",
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// FieldChange is one differing field between two snapshots.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

func formatCents(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func fields(s Snapshot) [][2]string {
	skills, _ := json.Marshal(s.Skills)
	return [][2]string{
		{"company", s.Company},
		{"currency", s.Currency},
		{"description", s.Description},
		{"employmentType", s.EmploymentType},
		{"location", s.Location},
		{"remote", strconv.FormatBool(s.Remote)},
		{"rewardCents", strconv.FormatInt(s.RewardCents, 10)},
		{"salaryMax", formatCents(s.SalaryMax)},
		{"salaryMin", formatCents(s.SalaryMin)},
		{"skills", string(skills)},
		{"status", s.Status},
		{"title", s.Title},
	}
}

// DiffFields lists changed fields sorted by name.
func DiffFields(from, to Snapshot) []FieldChange {
	before := fields(from)
	after := fields(to)
	out := []FieldChange{}
	for i := range before {
		if before[i][1] != after[i][1] {
			out = append(out, FieldChange{Field: before[i][0], Before: before[i][1], After: after[i][1]})
		}
	}
	return out
}

func HasChanges(from, to Snapshot) bool {
	return !slices.Equal(fields(from), fields(to))
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	return *resolved, nil
}
