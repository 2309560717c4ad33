package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/civiclens/civiclens/internal/model"
	"github.com/civiclens/civiclens/internal/stats"
)

var (
	issuesYAML  bool
	issuesStats bool
)

// issuesCmd represents the issues command
var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List tracked issues",
	Long: `List the current issue corpus with report counts.

Example:
  civiclens issues
  civiclens issues --yaml
  civiclens issues --stats`,
	RunE: runIssues,
}

func init() {
	rootCmd.AddCommand(issuesCmd)

	issuesCmd.Flags().BoolVar(&issuesYAML, "yaml", false, "dump issues as YAML")
	issuesCmd.Flags().BoolVar(&issuesStats, "stats", false, "print corpus statistics instead of the issue list")
}

func runIssues(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if issuesStats {
		return printStats(ctx, app)
	}

	issues, err := app.store.ListIssues(ctx)
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}

	if issuesYAML {
		data, err := yaml.Marshal(issues)
		if err != nil {
			return fmt.Errorf("marshal issues: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	if len(issues) == 0 {
		fmt.Println("No issues tracked yet. Run 'civiclens sync' to ingest mentions.")
		return nil
	}

	for _, issue := range issues {
		fmt.Printf("%s  [%s / %s]  %s\n", issue.ID, issue.Category, issue.Type, issue.Title)
		fmt.Printf("    reports: %d", issue.ReportCount)
		if issue.LocationName != "" {
			fmt.Printf("  location: %s", issue.LocationName)
		}
		fmt.Println()
		if issue.Description != "" {
			fmt.Printf("    %s\n", issue.Description)
		}
	}
	fmt.Printf("\n%d issues\n", len(issues))

	return nil
}

func printStats(ctx context.Context, app *app) error {
	corpus, err := stats.Collect(ctx, app.store)
	if err != nil {
		return fmt.Errorf("collect stats: %w", err)
	}

	if issuesYAML {
		data, err := yaml.Marshal(corpus)
		if err != nil {
			return fmt.Errorf("marshal stats: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	fmt.Printf("Threads:    %d (%d assigned, %d unassigned, %d replied)\n",
		corpus.Threads, corpus.Assigned, corpus.Unassigned, corpus.Replied)
	fmt.Printf("Issues:     %d (%d reports total)\n", corpus.Issues, corpus.Reports)
	fmt.Printf("Last issue: %d\n", corpus.LastSeq)
	if corpus.Inconsistent > 0 {
		fmt.Printf("WARNING:    %d issues with report_count != attached threads\n", corpus.Inconsistent)
	}
	for _, category := range model.Categories() {
		if n := corpus.ByCategory[category]; n > 0 {
			fmt.Printf("  %-28s %d\n", category, n)
		}
	}
	return nil
}
