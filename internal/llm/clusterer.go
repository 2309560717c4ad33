package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/civiclens/civiclens/internal/model"
)

// NewToken is the literal the model must return when no existing issue matches
const NewToken = "NEW"

// Decision is the clusterer's verdict for one report: either a match against
// an existing issue or the instruction to create a new one.
type Decision struct {
	issueID string
}

// MatchDecision indicates the report belongs to an existing issue
func MatchDecision(issueID string) Decision {
	return Decision{issueID: issueID}
}

// NewIssueDecision indicates the report starts a new issue
func NewIssueDecision() Decision {
	return Decision{}
}

// IsNew reports whether a new issue must be created
func (d Decision) IsNew() bool {
	return d.issueID == ""
}

// IssueID returns the matched issue id; empty when IsNew
func (d Decision) IssueID() string {
	return d.issueID
}

// Clusterer decides whether a report continues a known issue.
//
// It never fails: every error path degrades to a new-issue decision, so a
// flaky model can create duplicate issues but can never silently drop a
// report.
type Clusterer struct {
	provider Provider
	log      zerolog.Logger
}

// NewClusterer creates a clusterer backed by the given provider
func NewClusterer(provider Provider, log zerolog.Logger) *Clusterer {
	return &Clusterer{provider: provider, log: log}
}

const clustererSystem = "You are an issue clustering assistant. You respond with a single string: either an existing issue id or the literal string NEW. No other output."

// Cluster matches a thread against the existing issue summaries
func (c *Clusterer) Cluster(ctx context.Context, thread *model.Thread, issues []model.IssueSummary) Decision {
	// An empty corpus cannot match anything; don't waste a model call.
	if len(issues) == 0 {
		return NewIssueDecision()
	}

	resp, err := c.provider.Complete(ctx, CompletionRequest{
		System: clustererSystem,
		Prompt: buildClusterPrompt(thread, issues),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("thread", thread.ID).
			Msg("clusterer call failed, defaulting to new issue")
		return NewIssueDecision()
	}

	verdict := strings.Trim(strings.TrimSpace(resp.Text), "\"'`")
	if verdict == "" || strings.EqualFold(verdict, NewToken) {
		return NewIssueDecision()
	}

	// Validate at the boundary: an id the model invented degrades to NEW like
	// every other clusterer failure.
	for _, issue := range issues {
		if issue.ID == verdict {
			return MatchDecision(verdict)
		}
	}

	c.log.Warn().Str("thread", thread.ID).Str("verdict", verdict).
		Msg("clusterer returned unknown issue id, defaulting to new issue")
	return NewIssueDecision()
}

// clusterThreadView is the reduced thread shape serialized into the prompt
type clusterThreadView struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Text         string          `json:"text"`
	MediaType    string          `json:"media_type,omitempty"`
	MediaURL     string          `json:"media_url,omitempty"`
	Timestamp    string          `json:"timestamp"`
	LocationName string          `json:"location_name,omitempty"`
	Location     *model.GeoPoint `json:"location_coordinates,omitempty"`
}

func buildClusterPrompt(thread *model.Thread, issues []model.IssueSummary) string {
	threadJSON, _ := json.MarshalIndent(clusterThreadView{
		ID:           thread.ID,
		Username:     thread.Username,
		Text:         thread.Text,
		MediaType:    string(thread.MediaType),
		MediaURL:     thread.MediaURL,
		Timestamp:    thread.Timestamp.Format(time.RFC3339),
		LocationName: thread.LocationName,
		Location:     thread.Location,
	}, "", "  ")
	issuesJSON, _ := json.MarshalIndent(issues, "", "  ")

	var b strings.Builder
	b.WriteString(`Determine whether a new citizen report describes an existing issue, based only on its text content.

Criteria: compare the report text to each issue's title and description. "Broken streetlight", "light is out" and "street lamp not working" all describe the same problem.

Output:
- If the report strongly matches an existing issue, return ONLY that issue's id (e.g. "` + model.FormatIssueID(23) + `").
- If several issues match, return the id of the one with the most similar description.
- If there is no clear match, return ONLY the exact string NEW.

New report:
`)
	b.Write(threadJSON)
	b.WriteString("\n\nExisting issues:\n")
	b.Write(issuesJSON)
	return b.String()
}
