package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/civiclens/civiclens/internal/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "civiclens.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testThread(id string) *model.Thread {
	return &model.Thread{
		ID:        id,
		Username:  "resident",
		Text:      "pothole on main st",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Raw:       []byte(`{"id":"` + id + `"}`),
	}
}

func testIssue(thread *model.Thread) *model.Issue {
	return &model.Issue{
		Category:    model.CategoryInfrastructure,
		Type:        "Pothole",
		Title:       "Pothole on Main St",
		Description: "Reported pothole near the crossing.",
		ReportCount: 1,
		ThreadIDs:   []string{thread.ID},
	}
}

func TestPutThread_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th := testThread("t1")
	inserted, err := s.PutThread(ctx, th)
	if err != nil {
		t.Fatalf("PutThread failed: %v", err)
	}
	if !inserted {
		t.Error("expected first PutThread to insert")
	}

	// Same id again, different text: must be a no-op.
	dup := testThread("t1")
	dup.Text = "completely different"
	inserted, err = s.PutThread(ctx, dup)
	if err != nil {
		t.Fatalf("PutThread failed: %v", err)
	}
	if inserted {
		t.Error("expected re-ingestion of known id to be a no-op")
	}

	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Text != "pothole on main st" {
		t.Errorf("duplicate insert overwrote thread text: %q", got.Text)
	}
}

func TestGetThread_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetThread(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAllocateIssue_SequentialIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		th := testThread(fmt.Sprintf("t%d", i))
		if _, err := s.PutThread(ctx, th); err != nil {
			t.Fatalf("PutThread failed: %v", err)
		}
		id, err := s.AllocateIssue(ctx, testIssue(th))
		if err != nil {
			t.Fatalf("AllocateIssue failed: %v", err)
		}
		want := fmt.Sprintf("ISSUE-%04d", i)
		if id != want {
			t.Errorf("allocation %d: got id %s, want %s", i, id, want)
		}
	}

	last, err := s.Counter(ctx)
	if err != nil {
		t.Fatalf("Counter failed: %v", err)
	}
	if last != 3 {
		t.Errorf("counter = %d, want 3", last)
	}
}

func TestAllocateIssue_ConcurrentCallersGetDistinctIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.AllocateIssue(ctx, testIssue(testThread(fmt.Sprintf("c%d", i))))
			if err != nil {
				t.Errorf("AllocateIssue failed: %v", err)
				return
			}
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate issue id allocated: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("allocated %d distinct ids, want %d", len(seen), n)
	}

	// Gap-free: counter equals the number of allocations.
	last, err := s.Counter(ctx)
	if err != nil {
		t.Fatalf("Counter failed: %v", err)
	}
	if last != n {
		t.Errorf("counter = %d, want %d", last, n)
	}
}

func TestMergeReport_UnionSemantics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := testThread("t1")
	first.MediaURL = "https://cdn.example/a.jpg"
	issue := testIssue(first)
	issue.ImageURLs = []string{first.MediaURL}
	id, err := s.AllocateIssue(ctx, issue)
	if err != nil {
		t.Fatalf("AllocateIssue failed: %v", err)
	}

	second := testThread("t2")
	second.MediaURL = "https://cdn.example/b.jpg"
	if err := s.MergeReport(ctx, id, second); err != nil {
		t.Fatalf("MergeReport failed: %v", err)
	}

	got, err := s.GetIssue(ctx, id)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if got.ReportCount != 2 {
		t.Errorf("report_count = %d, want 2", got.ReportCount)
	}
	if len(got.ThreadIDs) != 2 {
		t.Errorf("thread_ids = %v, want 2 entries", got.ThreadIDs)
	}
	if len(got.ImageURLs) != 2 {
		t.Errorf("image_urls = %v, want 2 entries", got.ImageURLs)
	}

	// Merging the same thread again must not double-count.
	if err := s.MergeReport(ctx, id, second); err != nil {
		t.Fatalf("MergeReport failed: %v", err)
	}
	got, err = s.GetIssue(ctx, id)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if got.ReportCount != 2 {
		t.Errorf("duplicate merge changed report_count to %d", got.ReportCount)
	}

	// Invariant: report_count mirrors the thread set size.
	if got.ReportCount != len(got.ThreadIDs) {
		t.Errorf("report_count %d != |thread_ids| %d", got.ReportCount, len(got.ThreadIDs))
	}
}

func TestMergeReport_UnknownIssue(t *testing.T) {
	s := openTestStore(t)
	if err := s.MergeReport(context.Background(), "ISSUE-9999", testThread("t1")); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkReplied_RequiresAssignment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th := testThread("t1")
	if _, err := s.PutThread(ctx, th); err != nil {
		t.Fatalf("PutThread failed: %v", err)
	}

	if err := s.MarkReplied(ctx, "t1"); err != ErrNotAssigned {
		t.Errorf("expected ErrNotAssigned before assignment, got %v", err)
	}
	if err := s.MarkReplied(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown thread, got %v", err)
	}

	id, err := s.AllocateIssue(ctx, testIssue(th))
	if err != nil {
		t.Fatalf("AllocateIssue failed: %v", err)
	}
	if err := s.AssignIssue(ctx, "t1", id); err != nil {
		t.Fatalf("AssignIssue failed: %v", err)
	}
	if err := s.MarkReplied(ctx, "t1"); err != nil {
		t.Fatalf("MarkReplied failed: %v", err)
	}

	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if !got.Replied {
		t.Error("thread not marked replied")
	}
}

func TestDetachAndReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th := testThread("t1")
	if _, err := s.PutThread(ctx, th); err != nil {
		t.Fatalf("PutThread failed: %v", err)
	}
	id, err := s.AllocateIssue(ctx, testIssue(th))
	if err != nil {
		t.Fatalf("AllocateIssue failed: %v", err)
	}
	if err := s.AssignIssue(ctx, "t1", id); err != nil {
		t.Fatalf("AssignIssue failed: %v", err)
	}
	if err := s.MarkReplied(ctx, "t1"); err != nil {
		t.Fatalf("MarkReplied failed: %v", err)
	}

	if err := s.DetachAndReset(ctx); err != nil {
		t.Fatalf("DetachAndReset failed: %v", err)
	}

	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Assigned() || got.Replied {
		t.Errorf("thread not detached: issue=%q replied=%v", got.IssueID, got.Replied)
	}

	issues, err := s.ListIssues(ctx)
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("issues not deleted: %d remain", len(issues))
	}

	last, err := s.Counter(ctx)
	if err != nil {
		t.Fatalf("Counter failed: %v", err)
	}
	if last != 0 {
		t.Errorf("counter = %d after reset, want 0", last)
	}

	// Numbering restarts at the first sequence value.
	newID, err := s.AllocateIssue(ctx, testIssue(th))
	if err != nil {
		t.Fatalf("AllocateIssue after reset failed: %v", err)
	}
	if newID != "ISSUE-0001" {
		t.Errorf("post-reset allocation = %s, want ISSUE-0001", newID)
	}
}

func TestListThreads_IngestionOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "c", "a"} {
		th := testThread(id)
		th.IngestedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := s.PutThread(ctx, th); err != nil {
			t.Fatalf("PutThread failed: %v", err)
		}
	}

	threads, err := s.ListThreads(ctx)
	if err != nil {
		t.Fatalf("ListThreads failed: %v", err)
	}
	var order []string
	for _, th := range threads {
		order = append(order, th.ID)
	}
	want := []string{"b", "c", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ingestion order = %v, want %v", order, want)
		}
	}
}

func TestListUnassigned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		if _, err := s.PutThread(ctx, testThread(id)); err != nil {
			t.Fatalf("PutThread failed: %v", err)
		}
	}
	id, err := s.AllocateIssue(ctx, testIssue(testThread("t1")))
	if err != nil {
		t.Fatalf("AllocateIssue failed: %v", err)
	}
	if err := s.AssignIssue(ctx, "t1", id); err != nil {
		t.Fatalf("AssignIssue failed: %v", err)
	}

	unassigned, err := s.ListUnassigned(ctx)
	if err != nil {
		t.Fatalf("ListUnassigned failed: %v", err)
	}
	if len(unassigned) != 1 || unassigned[0].ID != "t2" {
		t.Errorf("unexpected unassigned set: %+v", unassigned)
	}
}

func TestFindIssueByTitle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	issue := testIssue(testThread("t1"))
	issue.Title = "Broken Streetlight Reports"
	if _, err := s.AllocateIssue(ctx, issue); err != nil {
		t.Fatalf("AllocateIssue failed: %v", err)
	}

	got, err := s.FindIssueByTitle(ctx, "Broken Streetlight Reports")
	if err != nil {
		t.Fatalf("FindIssueByTitle failed: %v", err)
	}
	if got.ID != issue.ID {
		t.Errorf("found issue %s, want %s", got.ID, issue.ID)
	}

	if _, err := s.FindIssueByTitle(ctx, "No Such Title"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
