package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/civiclens/civiclens/internal/llm"
	"github.com/civiclens/civiclens/internal/model"
	"github.com/civiclens/civiclens/internal/store"
)

type fakeClusterer struct {
	decisions map[string]llm.Decision
	calls     int
}

func (f *fakeClusterer) Cluster(_ context.Context, thread *model.Thread, _ []model.IssueSummary) llm.Decision {
	f.calls++
	if d, ok := f.decisions[thread.ID]; ok {
		return d
	}
	return llm.NewIssueDecision()
}

type fakeClassifier struct {
	results map[string]*model.Classification
	err     error
	calls   int
}

func (f *fakeClassifier) Classify(_ context.Context, in llm.ClassifyInput) (*model.Classification, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.results[in.Text]; ok {
		copied := *c
		return &copied, nil
	}
	return &model.Classification{
		Category:    model.CategoryMiscellaneous,
		Type:        "Other",
		Title:       "Generic Report",
		Description: in.Text,
	}, nil
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine_test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestEngine(t *testing.T, st store.Store, clusterer *fakeClusterer, classifier *fakeClassifier) *Engine {
	t.Helper()
	eng, err := New(st, RulesFromConfig(model.DefaultRules()), clusterer, classifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func ingest(t *testing.T, st store.Store, id, text string) *model.Thread {
	t.Helper()
	thread := &model.Thread{
		ID:         id,
		Username:   "resident",
		Text:       text,
		Timestamp:  time.Now().UTC(),
		IngestedAt: time.Now().UTC(),
	}
	if _, err := st.PutThread(context.Background(), thread); err != nil {
		t.Fatalf("put thread %s: %v", id, err)
	}
	return thread
}

func TestAssign_RuleCreatesFixedTitleIssue(t *testing.T) {
	st := openTestStore(t)
	clusterer := &fakeClusterer{}
	classifier := &fakeClassifier{results: map[string]*model.Classification{
		"please fix broken lights on 5th avenue": {
			Category:    model.CategoryInfrastructure,
			Type:        "Broken streetlight",
			Title:       "Streetlight outage on 5th Avenue",
			Description: "Several streetlights are out.",
		},
	}}
	eng := newTestEngine(t, st, clusterer, classifier)

	thread := ingest(t, st, "t1", "please fix broken lights on 5th avenue")
	assignment, err := eng.Assign(context.Background(), thread)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	if !assignment.Created {
		t.Error("expected a new issue")
	}
	if assignment.RuleTitle != "Broken Streetlight Reports" {
		t.Errorf("expected rule title, got %q", assignment.RuleTitle)
	}
	if clusterer.calls != 0 {
		t.Errorf("clusterer consulted on rule path: %d calls", clusterer.calls)
	}

	issue, err := st.GetIssue(context.Background(), assignment.IssueID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if issue.Title != "Broken Streetlight Reports" {
		t.Errorf("classifier title not overridden: %q", issue.Title)
	}
	if issue.Type != "Broken streetlight" {
		t.Errorf("expected classifier type kept, got %q", issue.Type)
	}
}

func TestAssign_RuleMergesIntoExistingIssue(t *testing.T) {
	st := openTestStore(t)
	eng := newTestEngine(t, st, &fakeClusterer{}, &fakeClassifier{})

	first := ingest(t, st, "t1", "another broken light near the park")
	a1, err := eng.Assign(context.Background(), first)
	if err != nil {
		t.Fatalf("first Assign failed: %v", err)
	}

	second := ingest(t, st, "t2", "the street light outside my house is dark")
	a2, err := eng.Assign(context.Background(), second)
	if err != nil {
		t.Fatalf("second Assign failed: %v", err)
	}

	if a2.Created {
		t.Error("second rule thread should merge, not create")
	}
	if a2.IssueID != a1.IssueID {
		t.Errorf("expected merge into %s, got %s", a1.IssueID, a2.IssueID)
	}

	issue, err := st.GetIssue(context.Background(), a1.IssueID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if issue.ReportCount != 2 {
		t.Errorf("expected report_count 2, got %d", issue.ReportCount)
	}
	if len(issue.ThreadIDs) != 2 {
		t.Errorf("expected 2 thread ids, got %v", issue.ThreadIDs)
	}
}

func TestAssign_EmptyCorpusSkipsClusterer(t *testing.T) {
	st := openTestStore(t)
	clusterer := &fakeClusterer{}
	eng := newTestEngine(t, st, clusterer, &fakeClassifier{})

	thread := ingest(t, st, "t1", "overflowing garbage bin at main square")
	assignment, err := eng.Assign(context.Background(), thread)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	if clusterer.calls != 0 {
		t.Errorf("clusterer consulted against empty corpus: %d calls", clusterer.calls)
	}
	if !assignment.Created || assignment.IssueID != "ISSUE-0001" {
		t.Errorf("unexpected assignment: %+v", assignment)
	}

	got, err := st.GetThread(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if got.IssueID != "ISSUE-0001" {
		t.Errorf("assignment not persisted: %q", got.IssueID)
	}
}

func TestAssign_ClustererMatchMerges(t *testing.T) {
	st := openTestStore(t)
	clusterer := &fakeClusterer{decisions: map[string]llm.Decision{}}
	eng := newTestEngine(t, st, clusterer, &fakeClassifier{})

	first := ingest(t, st, "t1", "deep pothole on elm street")
	a1, err := eng.Assign(context.Background(), first)
	if err != nil {
		t.Fatalf("first Assign failed: %v", err)
	}

	clusterer.decisions["t2"] = llm.MatchDecision(a1.IssueID)
	second := ingest(t, st, "t2", "that hole on elm is still there")
	a2, err := eng.Assign(context.Background(), second)
	if err != nil {
		t.Fatalf("second Assign failed: %v", err)
	}

	if a2.Created || a2.IssueID != a1.IssueID {
		t.Errorf("expected merge into %s, got %+v", a1.IssueID, a2)
	}
	issue, err := st.GetIssue(context.Background(), a1.IssueID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if issue.ReportCount != 2 {
		t.Errorf("expected report_count 2, got %d", issue.ReportCount)
	}
}

func TestAssign_ClustererNewCreatesSequentialIssue(t *testing.T) {
	st := openTestStore(t)
	eng := newTestEngine(t, st, &fakeClusterer{}, &fakeClassifier{})

	a1, err := eng.Assign(context.Background(), ingest(t, st, "t1", "pothole on elm"))
	if err != nil {
		t.Fatalf("first Assign failed: %v", err)
	}
	a2, err := eng.Assign(context.Background(), ingest(t, st, "t2", "no parking at the stadium"))
	if err != nil {
		t.Fatalf("second Assign failed: %v", err)
	}

	if a1.IssueID != "ISSUE-0001" || a2.IssueID != "ISSUE-0002" {
		t.Errorf("expected sequential ids, got %s then %s", a1.IssueID, a2.IssueID)
	}
}

func TestAssign_ClassifierErrorAborts(t *testing.T) {
	st := openTestStore(t)
	classifier := &fakeClassifier{err: errors.New("provider unavailable")}
	eng := newTestEngine(t, st, &fakeClusterer{}, classifier)

	thread := ingest(t, st, "t1", "water leak near city hall")
	if _, err := eng.Assign(context.Background(), thread); err == nil {
		t.Fatal("expected classifier error to propagate")
	}

	issues, err := st.ListIssues(context.Background())
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("no issue should exist after classifier failure, got %d", len(issues))
	}
	got, err := st.GetThread(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if got.Assigned() {
		t.Errorf("thread should remain unassigned, got %q", got.IssueID)
	}
}

func TestAssign_ImageAttachesToNewIssue(t *testing.T) {
	st := openTestStore(t)
	eng := newTestEngine(t, st, &fakeClusterer{}, &fakeClassifier{})

	thread := &model.Thread{
		ID:         "t1",
		Username:   "resident",
		Text:       "fallen tree blocking oak road",
		MediaType:  model.MediaImage,
		MediaURL:   "https://cdn.example.com/tree.jpg",
		Timestamp:  time.Now().UTC(),
		IngestedAt: time.Now().UTC(),
	}
	if _, err := st.PutThread(context.Background(), thread); err != nil {
		t.Fatalf("put thread: %v", err)
	}

	assignment, err := eng.Assign(context.Background(), thread)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	issue, err := st.GetIssue(context.Background(), assignment.IssueID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if len(issue.ImageURLs) != 1 || issue.ImageURLs[0] != thread.MediaURL {
		t.Errorf("expected image url on issue, got %v", issue.ImageURLs)
	}
}

func TestAssign_VideoMediaAttachesToNewIssue(t *testing.T) {
	st := openTestStore(t)
	clusterer := &fakeClusterer{decisions: map[string]llm.Decision{}}
	eng := newTestEngine(t, st, clusterer, &fakeClassifier{})

	first := &model.Thread{
		ID:         "t1",
		Username:   "resident",
		Text:       "flooding under the rail bridge",
		MediaType:  model.MediaVideo,
		MediaURL:   "https://cdn.example.com/flood.mp4",
		Timestamp:  time.Now().UTC(),
		IngestedAt: time.Now().UTC(),
	}
	if _, err := st.PutThread(context.Background(), first); err != nil {
		t.Fatalf("put thread: %v", err)
	}

	a1, err := eng.Assign(context.Background(), first)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	issue, err := st.GetIssue(context.Background(), a1.IssueID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if len(issue.ImageURLs) != 1 || issue.ImageURLs[0] != first.MediaURL {
		t.Errorf("create path dropped video media url, got %v", issue.ImageURLs)
	}

	// A merge of a second video report lands in the same attachment list,
	// so create and merge treat media identically.
	second := ingest(t, st, "t2", "bridge underpass still flooded")
	second.MediaType = model.MediaVideo
	second.MediaURL = "https://cdn.example.com/flood2.mp4"
	clusterer.decisions["t2"] = llm.MatchDecision(a1.IssueID)

	if _, err := eng.Assign(context.Background(), second); err != nil {
		t.Fatalf("second Assign failed: %v", err)
	}

	issue, err = st.GetIssue(context.Background(), a1.IssueID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if len(issue.ImageURLs) != 2 || issue.ImageURLs[1] != second.MediaURL {
		t.Errorf("merge path media mismatch, got %v", issue.ImageURLs)
	}
}

// Two similar reports processed concurrently can each see a corpus without
// the other and both spawn issues. The invariant that survives is that the
// allocated ids are distinct and gap-free.
func TestAssign_ConcurrentNewReportsGetDistinctIssues(t *testing.T) {
	st := openTestStore(t)
	eng := newTestEngine(t, st, &fakeClusterer{}, &fakeClassifier{})

	threads := []*model.Thread{
		ingest(t, st, "t1", "water leak on pine road"),
		ingest(t, st, "t2", "pine road water leak again"),
	}

	results := make(chan string, len(threads))
	errs := make(chan error, len(threads))
	for _, thread := range threads {
		go func(th *model.Thread) {
			a, err := eng.Assign(context.Background(), th)
			if err != nil {
				errs <- err
				return
			}
			results <- a.IssueID
		}(thread)
	}

	seen := map[string]bool{}
	for range threads {
		select {
		case err := <-errs:
			t.Fatalf("Assign failed: %v", err)
		case id := <-results:
			if seen[id] {
				t.Errorf("issue id %s allocated twice", id)
			}
			seen[id] = true
		}
	}

	issues, err := st.ListIssues(context.Background())
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(issues) < 1 || len(issues) > 2 {
		t.Errorf("expected 1 or 2 issues, got %d", len(issues))
	}
	counter, err := st.Counter(context.Background())
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if counter != len(issues) {
		t.Errorf("counter %d does not match issue count %d", counter, len(issues))
	}
}

func TestAssign_MixedScenario(t *testing.T) {
	st := openTestStore(t)
	clusterer := &fakeClusterer{decisions: map[string]llm.Decision{}}
	eng := newTestEngine(t, st, clusterer, &fakeClassifier{})

	a1, err := eng.Assign(context.Background(), ingest(t, st, "t1", "massive pothole on elm street"))
	if err != nil {
		t.Fatalf("t1 Assign failed: %v", err)
	}

	a2, err := eng.Assign(context.Background(), ingest(t, st, "t2", "broken light at the corner of 3rd"))
	if err != nil {
		t.Fatalf("t2 Assign failed: %v", err)
	}

	clusterer.decisions["t3"] = llm.MatchDecision(a1.IssueID)
	a3, err := eng.Assign(context.Background(), ingest(t, st, "t3", "elm street pothole got worse"))
	if err != nil {
		t.Fatalf("t3 Assign failed: %v", err)
	}

	if a1.IssueID == a2.IssueID {
		t.Error("rule thread should not share the pothole issue")
	}
	if a3.IssueID != a1.IssueID {
		t.Errorf("expected t3 merged into %s, got %s", a1.IssueID, a3.IssueID)
	}

	pothole, err := st.GetIssue(context.Background(), a1.IssueID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if pothole.ReportCount != 2 {
		t.Errorf("expected 2 pothole reports, got %d", pothole.ReportCount)
	}

	streetlight, err := st.GetIssue(context.Background(), a2.IssueID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if streetlight.Title != "Broken Streetlight Reports" || streetlight.ReportCount != 1 {
		t.Errorf("unexpected streetlight issue: %+v", streetlight)
	}
}
