package engine

import (
	"testing"

	"github.com/civiclens/civiclens/internal/model"
)

func TestRuleMatch_CaseInsensitive(t *testing.T) {
	rule := Rule{Title: "Broken Streetlight Reports", Keywords: []string{"broken light", "street light"}}

	tests := []struct {
		text string
		want bool
	}{
		{"the BROKEN LIGHT on 5th is still out", true},
		{"Street Light flickering all night", true},
		{"pothole on elm street", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := rule.Match(tt.text); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestFirstMatch_OrderWins(t *testing.T) {
	rules := []Rule{
		{Title: "First", Keywords: []string{"shared keyword"}},
		{Title: "Second", Keywords: []string{"shared keyword"}},
	}

	rule, ok := firstMatch(rules, "a report with the shared keyword in it")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Title != "First" {
		t.Errorf("expected earliest rule to win, got %q", rule.Title)
	}
}

func TestRulesFromConfig_SkipsInvalid(t *testing.T) {
	rules := RulesFromConfig([]model.RuleConfig{
		{Title: "Valid", Keywords: []string{"kw"}},
		{Title: "", Keywords: []string{"kw"}},
		{Title: "No keywords"},
	})
	if len(rules) != 1 || rules[0].Title != "Valid" {
		t.Errorf("unexpected rules: %+v", rules)
	}
}
