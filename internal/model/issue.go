package model

import (
	"fmt"
	"time"
)

// Category is the closed set of issue categories
type Category string

const (
	CategoryInfrastructure Category = "Road / Infrastructure"
	CategoryEventService   Category = "Event / Venue / Service"
	CategoryMiscellaneous  Category = "Miscellaneous"
)

// Categories lists all valid categories in a stable order
func Categories() []Category {
	return []Category{CategoryInfrastructure, CategoryEventService, CategoryMiscellaneous}
}

// issueTypes maps each category to its closed list of issue types
var issueTypes = map[Category][]string{
	CategoryInfrastructure: {
		"Broken streetlight", "Broken traffic light", "Pothole", "Road crack",
		"Blocked drain", "Damaged public property", "Fallen tree", "Garbage overflow",
		"Graffiti", "Poor road signage", "Water leak", "Abandoned vehicle",
	},
	CategoryEventService: {
		"Long event lines", "Poor Wi-Fi", "No washroom access", "Crowd congestion",
		"No parking", "Accessibility issue", "Unhappy attendees", "Poor customer service",
		"Dirty venue", "Noise complaint", "Safety concern", "Lost and found", "Food quality issue",
	},
	CategoryMiscellaneous: {
		"General Inquiry", "Feedback", "Other",
	},
}

// TypesFor returns the valid issue types for a category (nil for an unknown category)
func TypesFor(c Category) []string {
	return issueTypes[c]
}

const (
	// IssueIDPrefix and IssueIDWidth define the formatted issue identifier,
	// e.g. ISSUE-0001
	IssueIDPrefix = "ISSUE-"
	IssueIDWidth  = 4

	// MaxTitleLen and MaxDescriptionLen bound classifier output
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
)

// FormatIssueID renders a counter value as a zero-padded issue identifier
func FormatIssueID(seq int) string {
	return fmt.Sprintf("%s%0*d", IssueIDPrefix, IssueIDWidth, seq)
}

// Issue is a deduplicated cluster of one or more reports about the same problem.
//
// ReportCount always equals the number of distinct thread ids merged into the
// issue. IDs are sequential in creation order and never reused, except across
// a full reprocess reset which deliberately restarts the counter.
type Issue struct {
	ID           string    `json:"issue_id" yaml:"issue_id"`
	Category     Category  `json:"category" yaml:"category"`
	Type         string    `json:"type" yaml:"type"`
	Title        string    `json:"title" yaml:"title"`
	Description  string    `json:"description" yaml:"description"`
	ImageURLs    []string  `json:"image_urls,omitempty" yaml:"image_urls,omitempty"`
	LocationName string    `json:"location_name,omitempty" yaml:"location_name,omitempty"`
	Location     *GeoPoint `json:"location_coordinates,omitempty" yaml:"location_coordinates,omitempty"`
	ReportCount  int       `json:"report_count" yaml:"report_count"`
	ThreadIDs    []string  `json:"thread_ids" yaml:"thread_ids"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// IssueSummary is the reduced issue view sent to the clusterer
type IssueSummary struct {
	ID          string `json:"issue_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Classification is the structured issue draft produced by the classifier
// gateway for a brand-new issue.
type Classification struct {
	Category    Category `json:"category"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// Validate checks the classification against the closed category set.
// An unknown category is a hard error: without a valid category no issue can
// be created.
func (c *Classification) Validate() error {
	if len(TypesFor(c.Category)) == 0 {
		return fmt.Errorf("unknown category %q", c.Category)
	}
	if c.Title == "" {
		return fmt.Errorf("empty title")
	}
	return nil
}

// Normalize corrects recoverable classifier drift in place: a type that does
// not belong to the category's list is replaced with the category's first
// valid type, and over-long title/description are truncated to their bounds.
// Returns whether the type was substituted.
func (c *Classification) Normalize() bool {
	corrected := false
	valid := TypesFor(c.Category)
	if len(valid) > 0 && !containsString(valid, c.Type) {
		c.Type = valid[0]
		corrected = true
	}
	if len(c.Title) > MaxTitleLen {
		c.Title = c.Title[:MaxTitleLen]
	}
	if len(c.Description) > MaxDescriptionLen {
		c.Description = c.Description[:MaxDescriptionLen]
	}
	return corrected
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
