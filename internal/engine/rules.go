package engine

import (
	"strings"

	"github.com/civiclens/civiclens/internal/model"
)

// Rule routes reports containing any of its keywords to an issue with a
// fixed title, bypassing the clusterer.
type Rule struct {
	Title    string
	Keywords []string
}

// RulesFromConfig builds the rule chain from configuration, skipping entries
// with no title or no keywords.
func RulesFromConfig(cfgs []model.RuleConfig) []Rule {
	rules := make([]Rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Title == "" || len(cfg.Keywords) == 0 {
			continue
		}
		rules = append(rules, Rule{Title: cfg.Title, Keywords: cfg.Keywords})
	}
	return rules
}

// Match reports whether the text contains any of the rule's keywords,
// case-insensitively.
func (r Rule) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range r.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// firstMatch returns the first rule whose keywords appear in the text.
// Rule order is the tie-break when several rules match.
func firstMatch(rules []Rule, text string) (Rule, bool) {
	for _, r := range rules {
		if r.Match(text) {
			return r, true
		}
	}
	return Rule{}, false
}
