// Package engine implements report deduplication: each ingested thread is
// routed to an existing issue or becomes a new one.
//
// Resolution order for a thread: the keyword rule chain first, then the
// clusterer against the current issue corpus, then the classifier for a
// brand-new issue. Only classifier failures abort processing; the clusterer
// fails open and falls through to classification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/civiclens/civiclens/internal/llm"
	"github.com/civiclens/civiclens/internal/model"
	"github.com/civiclens/civiclens/internal/store"
)

// Clusterer decides whether a thread describes one of the existing issues
type Clusterer interface {
	Cluster(ctx context.Context, thread *model.Thread, issues []model.IssueSummary) llm.Decision
}

// Classifier drafts the structured issue for a thread no issue matched
type Classifier interface {
	Classify(ctx context.Context, in llm.ClassifyInput) (*model.Classification, error)
}

// Assignment describes where a thread ended up.
type Assignment struct {
	IssueID string
	// Created is true when the thread spawned a new issue rather than
	// merging into an existing one.
	Created bool
	// RuleTitle names the keyword rule that routed the thread, if any.
	RuleTitle string
}

// Engine assigns threads to issues against a Store.
type Engine struct {
	store      store.Store
	rules      []Rule
	clusterer  Clusterer
	classifier Classifier
	log        zerolog.Logger
}

// New creates an Engine. Both gateways are required: rule-routed threads
// still need the classifier to draft the issue body.
func New(st store.Store, rules []Rule, clusterer Clusterer, classifier Classifier, log zerolog.Logger) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if clusterer == nil || classifier == nil {
		return nil, fmt.Errorf("an LLM provider is required for clustering and classification")
	}
	return &Engine{
		store:      st,
		rules:      rules,
		clusterer:  clusterer,
		classifier: classifier,
		log:        log,
	}, nil
}

// Assign routes a thread to an issue and persists the assignment. The thread
// must already be in the store; on success its issue_id is written back.
func (e *Engine) Assign(ctx context.Context, thread *model.Thread) (*Assignment, error) {
	assignment, err := e.resolve(ctx, thread)
	if err != nil {
		return nil, err
	}

	if err := e.store.AssignIssue(ctx, thread.ID, assignment.IssueID); err != nil {
		return nil, fmt.Errorf("assign thread %s to %s: %w", thread.ID, assignment.IssueID, err)
	}
	thread.IssueID = assignment.IssueID

	e.log.Info().
		Str("thread_id", thread.ID).
		Str("issue_id", assignment.IssueID).
		Bool("created", assignment.Created).
		Str("rule", assignment.RuleTitle).
		Msg("thread assigned")

	return assignment, nil
}

func (e *Engine) resolve(ctx context.Context, thread *model.Thread) (*Assignment, error) {
	if rule, ok := firstMatch(e.rules, thread.Text); ok {
		return e.resolveByRule(ctx, thread, rule)
	}

	issues, err := e.store.ListIssueSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list issue summaries: %w", err)
	}

	// An empty corpus cannot contain a duplicate; skip straight to
	// classification.
	if len(issues) > 0 {
		decision := e.clusterer.Cluster(ctx, thread, issues)
		if !decision.IsNew() {
			if err := e.store.MergeReport(ctx, decision.IssueID(), thread); err != nil {
				return nil, fmt.Errorf("merge thread %s into %s: %w", thread.ID, decision.IssueID(), err)
			}
			return &Assignment{IssueID: decision.IssueID()}, nil
		}
	}

	issueID, err := e.createIssue(ctx, thread, "")
	if err != nil {
		return nil, err
	}
	return &Assignment{IssueID: issueID, Created: true}, nil
}

// resolveByRule merges the thread into the rule's fixed-title issue, creating
// it on first use. The clusterer is never consulted on this path.
func (e *Engine) resolveByRule(ctx context.Context, thread *model.Thread, rule Rule) (*Assignment, error) {
	existing, err := e.store.FindIssueByTitle(ctx, rule.Title)
	switch {
	case err == nil:
		if err := e.store.MergeReport(ctx, existing.ID, thread); err != nil {
			return nil, fmt.Errorf("merge thread %s into %s: %w", thread.ID, existing.ID, err)
		}
		return &Assignment{IssueID: existing.ID, RuleTitle: rule.Title}, nil
	case errors.Is(err, store.ErrNotFound):
		issueID, err := e.createIssue(ctx, thread, rule.Title)
		if err != nil {
			return nil, err
		}
		return &Assignment{IssueID: issueID, Created: true, RuleTitle: rule.Title}, nil
	default:
		return nil, fmt.Errorf("find issue by title %q: %w", rule.Title, err)
	}
}

// createIssue classifies the thread and allocates a new sequential issue for
// it. A non-empty titleOverride pins the issue title regardless of what the
// classifier drafted.
func (e *Engine) createIssue(ctx context.Context, thread *model.Thread, titleOverride string) (string, error) {
	in := llm.ClassifyInput{
		Text:         thread.Text,
		MediaURL:     thread.MediaURL,
		LocationName: thread.LocationName,
	}

	classification, err := e.classifier.Classify(ctx, in)
	if err != nil {
		return "", fmt.Errorf("classify thread %s: %w", thread.ID, err)
	}
	if titleOverride != "" {
		classification.Title = titleOverride
	}

	issue := &model.Issue{
		Category:     classification.Category,
		Type:         classification.Type,
		Title:        classification.Title,
		Description:  classification.Description,
		LocationName: thread.LocationName,
		Location:     thread.Location,
		ReportCount:  1,
		ThreadIDs:    []string{thread.ID},
		CreatedAt:    time.Now().UTC(),
	}
	// Any media URL seeds the issue's attachment list, matching the union
	// rule MergeReport applies later.
	if thread.MediaURL != "" {
		issue.ImageURLs = []string{thread.MediaURL}
	}

	issueID, err := e.store.AllocateIssue(ctx, issue)
	if err != nil {
		return "", fmt.Errorf("allocate issue for thread %s: %w", thread.ID, err)
	}
	return issueID, nil
}
