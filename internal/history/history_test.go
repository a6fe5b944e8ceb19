package history

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStartAndFinishRun(t *testing.T) {
	db := openTestDB(t)

	id, err := db.StartRun("CAMP", "2.1", "/data/batch.csv", "2026-07-31T10:00:00Z", 42)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero run id")
	}

	if err := db.FinishRun(id, "2026-07-31T10:05:00Z", 40, 2, 0, 5); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	last, err := db.LastRun("CAMP")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last == nil {
		t.Fatal("expected a run")
	}
	if last.Status != "completed" {
		t.Errorf("status = %q, want completed", last.Status)
	}
	if last.PlacedCount != 40 || last.BelowQCCount != 2 || last.ChangedCount != 5 {
		t.Errorf("counts = %+v", last)
	}
	if last.FinishedAt == nil || *last.FinishedAt != "2026-07-31T10:05:00Z" {
		t.Errorf("FinishedAt = %v", last.FinishedAt)
	}
}

func TestFailRun(t *testing.T) {
	db := openTestDB(t)

	id, err := db.StartRun("LMO", "2.1", "/data/batch.tsv", "2026-07-31T09:00:00Z", 10)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := db.FailRun(id, "2026-07-31T09:01:00Z", "lock held by another process"); err != nil {
		t.Fatalf("FailRun: %v", err)
	}

	last, err := db.LastRun("LMO")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last.Status != "failed" {
		t.Errorf("status = %q, want failed", last.Status)
	}
	if last.ErrorMessage == nil || *last.ErrorMessage != "lock held by another process" {
		t.Errorf("ErrorMessage = %v", last.ErrorMessage)
	}
}

func TestLastRunNoneYet(t *testing.T) {
	db := openTestDB(t)
	last, err := db.LastRun("SALM")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last != nil {
		t.Errorf("expected nil, got %+v", last)
	}
}

func TestRecentRunsOrderedNewestFirst(t *testing.T) {
	db := openTestDB(t)

	id1, _ := db.StartRun("EC", "2.1", "/data/a.csv", "2026-07-30T09:00:00Z", 1)
	db.FinishRun(id1, "2026-07-30T09:01:00Z", 1, 0, 0, 0)
	id2, _ := db.StartRun("EC", "2.1", "/data/b.csv", "2026-07-31T09:00:00Z", 1)
	db.FinishRun(id2, "2026-07-31T09:01:00Z", 1, 0, 0, 0)

	runs, err := db.RecentRuns(0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != id2 {
		t.Errorf("runs[0].ID = %d, want %d (newest first)", runs[0].ID, id2)
	}
}

func TestRecentRunsRespectsLimit(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 3; i++ {
		id, _ := db.StartRun("CAMP", "2.1", "/data/batch.csv", "2026-07-31T09:00:00Z", 1)
		db.FinishRun(id, "2026-07-31T09:01:00Z", 1, 0, 0, 0)
	}

	runs, err := db.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
}

func TestRunsForPrefixFiltersByOrganism(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.StartRun("CAMP", "2.1", "/data/a.csv", "2026-07-31T09:00:00Z", 1)
	db.FinishRun(id, "2026-07-31T09:01:00Z", 1, 0, 0, 0)
	id2, _ := db.StartRun("LMO", "2.1", "/data/b.csv", "2026-07-31T09:00:00Z", 1)
	db.FinishRun(id2, "2026-07-31T09:01:00Z", 1, 0, 0, 0)

	runs, err := db.RunsForPrefix("CAMP", 0)
	if err != nil {
		t.Fatalf("RunsForPrefix: %v", err)
	}
	if len(runs) != 1 || runs[0].Prefix != "CAMP" {
		t.Fatalf("runs = %+v", runs)
	}
}
