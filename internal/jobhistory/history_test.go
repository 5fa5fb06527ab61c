package jobhistory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"refery/api/internal/store"
)

func sampleJob() store.Job {
	return store.Job{
		ID:             "job_1",
		Title:          "Backend Engineer",
		Company:        "Acme",
		Location:       "Berlin",
		EmploymentType: "full_time",
		RewardCents:    150000,
		Currency:       "USD",
		Description:    "Build APIs",
		Skills:         []string{"go"},
		Status:         store.JobStatusDraft,
	}
}

func TestRecordAndHistory(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)

	history, err := svc.History("job_1", 10)
	if err != nil {
		t.Fatalf("History() on missing repo error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}

	job := sampleJob()
	first, err := svc.Record(job.ID, SnapshotFromJob(job), "Pat Poster", "Create posting")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(first.Hash) != 7 || first.Author != "Pat Poster" {
		t.Fatalf("unexpected revision: %+v", first)
	}
	if _, err := os.Stat(filepath.Join(dir, "job_1", snapshotFile)); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	same, err := svc.Record(job.ID, SnapshotFromJob(job), "Pat Poster", "No-op save")
	if err != nil {
		t.Fatalf("Record() unchanged error = %v", err)
	}
	if same.Hash != first.Hash {
		t.Fatalf("unchanged snapshot should not commit, got %s want %s", same.Hash, first.Hash)
	}

	job.RewardCents = 200000
	job.Status = store.JobStatusOpen
	second, err := svc.Record(job.ID, SnapshotFromJob(job), "Pat Poster", "Raise reward")
	if err != nil {
		t.Fatalf("Record() update error = %v", err)
	}

	history, err = svc.History(job.ID, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("expected newest first, got %+v", history)
	}

	limited, err := svc.History(job.ID, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("History(limit=1) = %d, %v", len(limited), err)
	}

	old, rev, err := svc.Snapshot(job.ID, first.Hash)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if old.RewardCents != 150000 || rev.Hash != first.Hash {
		t.Fatalf("unexpected old snapshot: %+v %+v", old, rev)
	}

	changes := DiffFields(old, SnapshotFromJob(job))
	if len(changes) != 2 || changes[0].Field != "rewardCents" || changes[1].Field != "status" {
		t.Fatalf("unexpected diff: %+v", changes)
	}
	if changes[0].Before != "150000" || changes[0].After != "200000" {
		t.Fatalf("unexpected reward diff: %+v", changes[0])
	}
}

func TestSnapshotErrors(t *testing.T) {
	svc := New(t.TempDir())

	if _, _, err := svc.Snapshot("job_missing", "abcdef1"); !errors.Is(err, ErrRevisionNotFound) {
		t.Fatalf("expected ErrRevisionNotFound for missing repo, got %v", err)
	}

	job := sampleJob()
	if _, err := svc.Record(job.ID, SnapshotFromJob(job), "Pat", "Create"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, _, err := svc.Snapshot(job.ID, "zzzzzzz"); !errors.Is(err, ErrRevisionNotFound) {
		t.Fatalf("expected ErrRevisionNotFound for bad hash, got %v", err)
	}

	if err := svc.Remove(job.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	history, err := svc.History(job.ID, 0)
	if err != nil || len(history) != 0 {
		t.Fatalf("expected no history after Remove, got %d %v", len(history), err)
	}
}

func TestConcurrentRecords(t *testing.T) {
	svc := New(t.TempDir())
	job := sampleJob()

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := job
			next.Description = fmt.Sprintf("revision-%02d", idx)
			if _, err := svc.Record(job.ID, SnapshotFromJob(next), "Pat", fmt.Sprintf("Edit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Record() concurrent error = %v", err)
	}

	history, err := svc.History(job.ID, 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d revisions, got %d", writers, len(history))
	}
	head, _, err := svc.Snapshot(job.ID, history[0].Hash)
	if err != nil {
		t.Fatalf("Snapshot(head) error = %v", err)
	}
	if !strings.HasPrefix(head.Description, "revision-") {
		t.Fatalf("unexpected head snapshot: %+v", head)
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Pat Poster": "Pat.Poster",
		"***":        "user",
		"rae_2":      "rae.2",
	}
	for in, want := range cases {
		if got := sanitizeEmail(in); got != want {
			t.Errorf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
