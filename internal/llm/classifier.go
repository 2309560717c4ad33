package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"

	"github.com/civiclens/civiclens/internal/model"
)

// Classifier turns raw report text into a structured issue draft.
//
// It fails loudly: when the model cannot be coaxed into producing a valid
// classification, the error propagates so no issue is created from garbage.
type Classifier struct {
	provider Provider
	log      zerolog.Logger
}

// NewClassifier creates a classifier backed by the given provider
func NewClassifier(provider Provider, log zerolog.Logger) *Classifier {
	return &Classifier{provider: provider, log: log}
}

// ClassifyInput is the report content fed to the classifier
type ClassifyInput struct {
	Text         string
	MediaURL     string
	LocationName string
}

const classifierSystem = "You are an issue classification assistant for a city management service. You respond with a single valid JSON object and nothing else."

// Classify produces a category, type, title and description for a new issue
func (c *Classifier) Classify(ctx context.Context, in ClassifyInput) (*model.Classification, error) {
	resp, err := c.provider.Complete(ctx, CompletionRequest{
		System: classifierSystem,
		Prompt: buildClassifyPrompt(in),
	})
	if err != nil {
		return nil, fmt.Errorf("classify report: %w", err)
	}

	cls, err := decodeClassification(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("classify report: %w", err)
	}

	if err := cls.Validate(); err != nil {
		return nil, fmt.Errorf("classify report: %w", err)
	}
	if cls.Normalize() {
		c.log.Warn().
			Str("category", string(cls.Category)).
			Str("type", cls.Type).
			Msg("classifier returned invalid type for category, substituted first valid type")
	}

	return cls, nil
}

func buildClassifyPrompt(in ClassifyInput) string {
	types, _ := json.MarshalIndent(typesByCategory(), "", "  ")

	var b strings.Builder
	b.WriteString(`Analyze a citizen's report, classify it into a category and type, and write a concise title and summary.

Rules:
1. Choose the most fitting category; use "Miscellaneous" when nothing else fits.
2. Choose the most specific type from the chosen category's list; the type must come from that list.
3. Title: max 100 characters, summarizing the core problem.
4. Description: max 500 characters, a clear restatement of the report.

Available categories and types:
`)
	b.Write(types)
	b.WriteString(`

Respond with exactly this JSON shape:
{"category": "...", "type": "...", "title": "...", "description": "..."}

Report text:
`)
	b.WriteString(in.Text)
	if in.MediaURL != "" {
		b.WriteString("\nMedia URL: " + in.MediaURL)
	}
	if in.LocationName != "" {
		b.WriteString("\nLocation: " + in.LocationName)
	}
	return b.String()
}

func typesByCategory() map[string][]string {
	out := make(map[string][]string, len(model.Categories()))
	for _, c := range model.Categories() {
		out[string(c)] = model.TypesFor(c)
	}
	return out
}

// decodeClassification parses the model output, tolerating markdown fences
// and mildly malformed JSON (repaired before giving up).
func decodeClassification(raw string) (*model.Classification, error) {
	text := stripFences(raw)

	var cls model.Classification
	if err := json.Unmarshal([]byte(text), &cls); err == nil {
		return &cls, nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("unparseable classification %q: %w", truncateForLog(raw), err)
	}
	if err := json.Unmarshal([]byte(repaired), &cls); err != nil {
		return nil, fmt.Errorf("unparseable classification %q: %w", truncateForLog(raw), err)
	}
	return &cls, nil
}

// stripFences removes a surrounding markdown code fence, if any
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateForLog(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
