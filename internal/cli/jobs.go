package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/spf13/cobra"
)

var jobsFollow bool

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect ingestion jobs",
	Long: `List all retained ingestion jobs or inspect a specific job by ID.

Examples:
  finrag jobs                # List all jobs
  finrag jobs abc123         # Show details for job abc123
  finrag jobs abc123 -F      # Re-attach to its progress stream`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().BoolVarP(&jobsFollow, "follow", "F", false, "follow the job's progress stream")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// If job ID provided, show that specific job
	if len(args) == 1 {
		if jobsFollow {
			return followPlain(ctx, apiClient, args[0])
		}
		return showJob(ctx, args[0])
	}

	// List all jobs
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListJobs(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(os.Stdout, jobs)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-10s %-8s %-24s %s\n", "ID", "STATUS", "CHUNKS", "TICKERS", "CREATED")
	fmt.Println("----------------------------------------------------------------------------------------------")
	for _, job := range jobs {
		fmt.Printf("%-36s %-10s %-8d %-24s %s\n",
			job.ID, job.Status, job.TotalChunks, fmt.Sprint(job.Tickers), job.CreatedAt.Format("15:04:05"))
	}
	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(os.Stdout, job)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Status: %s\n", statusLabel(job.Status))
	fmt.Printf("  Tickers: %v  Filing types: %v  Limit: %d\n", job.Tickers, job.FilingTypes, job.Limit)
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil && job.StartedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second))
	}
	fmt.Printf("  Events: %d (%d dropped from buffer)\n", job.Events, job.Dropped)

	if job.Error != "" {
		fmt.Println(defaultTheme.errorStyle().Render("  Error: " + job.Error))
	}

	for ticker, step := range job.Steps {
		fmt.Printf("  %s: %s in progress\n", ticker, step)
	}

	if len(job.Results) > 0 {
		fmt.Println("\nResults:")
		for _, r := range job.Results {
			line := fmt.Sprintf("  %-6s %-6s %d chunks", r.Ticker, r.Status, r.Chunks)
			if r.Error != "" {
				fmt.Println(defaultTheme.errorStyle().Render(line + "  " + r.Error))
				continue
			}
			fmt.Println(line)
		}
		fmt.Printf("\n  Total chunks: %d\n", job.TotalChunks)
	}
	return nil
}

func statusLabel(s models.JobStatus) string {
	switch s {
	case models.JobCompleted:
		return defaultTheme.completedStyle().Render(string(s))
	case models.JobFailed:
		return defaultTheme.errorStyle().Render(string(s))
	}
	return defaultTheme.statusStyle().Render(string(s))
}
