package db

import (
	"context"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	database, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return NewRepository(database)
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)

	doc, err := repo.GetDocument(ctx, "passOnNotes")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document, got %+v", doc)
	}

	rows, err := repo.PutDocuments(ctx, DocumentWrite{Key: "passOnNotes", Payload: []byte(`[]`)})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(rows) != 1 || rows[0].Seq != 1 {
		t.Fatalf("unexpected change rows: %+v", rows)
	}

	if _, err := repo.PutDocuments(ctx, DocumentWrite{Key: "passOnNotes", Payload: []byte(`[{"id":"a"}]`)}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	doc, err = repo.GetDocument(ctx, "passOnNotes")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(doc.Payload) != `[{"id":"a"}]` {
		t.Errorf("payload = %s", doc.Payload)
	}
	if doc.Seq != 2 {
		t.Errorf("seq = %d, want 2", doc.Seq)
	}

	// Delete
	if _, err := repo.PutDocuments(ctx, DocumentWrite{Key: "passOnNotes", Delete: true}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	doc, err = repo.GetDocument(ctx, "passOnNotes")
	if err != nil || doc != nil {
		t.Fatalf("expected deleted document, got %+v (%v)", doc, err)
	}
}

func TestChangesSince(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)

	_, err := repo.PutDocuments(ctx,
		DocumentWrite{Key: "courier_week_2024-10-13", Payload: []byte(`{}`)},
		DocumentWrite{Key: "courier_archives", Payload: []byte(`[]`)},
		DocumentWrite{Key: "courier_week_2024-10-13", Delete: true},
	)
	if err != nil {
		t.Fatalf("put batch: %v", err)
	}

	changes, err := repo.ChangesSince(ctx, 1, 10)
	if err != nil {
		t.Fatalf("changes since: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].Key != "courier_archives" || changes[0].Deleted {
		t.Errorf("first change = %+v", changes[0])
	}
	if !changes[1].Deleted || changes[1].Payload != nil {
		t.Errorf("second change = %+v", changes[1])
	}

	seq, err := repo.LatestSeq(ctx)
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 3 {
		t.Errorf("latest seq = %d, want 3", seq)
	}
}

func TestPruneChangesKeepsLatest(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)

	for i := 0; i < 3; i++ {
		if _, err := repo.PutDocuments(ctx, DocumentWrite{Key: "k", Payload: []byte(`1`)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	pruned, err := repo.PruneChanges(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
	seq, _ := repo.LatestSeq(ctx)
	if seq != 3 {
		t.Errorf("latest seq = %d, want 3", seq)
	}
}

func TestJobRuns(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)

	run, err := repo.GetLatestJobRun(ctx, "courier-archive")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if run != nil {
		t.Fatalf("expected no run, got %+v", run)
	}

	id, err := repo.StartJobRun(ctx, "courier-archive")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := repo.FinishJobRun(ctx, id, "ok", "archived 2024-10-13"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	run, err = repo.GetLatestJobRun(ctx, "courier-archive")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if run == nil || run.Status != "ok" || run.Result != "archived 2024-10-13" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}

	if _, err := repo.StartJobRun(ctx, "recovery-check"); err != nil {
		t.Fatalf("start second: %v", err)
	}
	runs, err := repo.ListJobRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].Job != "recovery-check" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if runs[0].FinishedAt != nil {
		t.Error("running job should not have finished_at")
	}
}
