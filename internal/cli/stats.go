package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/server"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index contents and pipeline statistics",
	Long: `Show what the chunk store holds and how the pipelines have performed
since the server started.

Examples:
  finrag stats
  finrag stats --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	m, err := apiClient.Metrics(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(os.Stdout, m)
	}
	printStats(m)
	return nil
}

func printStats(m *server.MetricsResponse) {
	t := defaultTheme
	fmt.Println(t.headingStyle().Render("Index"))
	fmt.Printf("  Status:       %s\n", m.Store.Status)
	fmt.Printf("  Chunks:       %d\n", m.Store.ChunkCount)
	fmt.Printf("  Tickers:      %s\n", strings.Join(m.Store.Tickers, ", "))
	fmt.Printf("  Filing types: %s\n", strings.Join(m.Store.FilingTypes, ", "))

	p := m.Pipeline
	fmt.Println()
	fmt.Println(t.headingStyle().Render("Server"))
	fmt.Printf("  Uptime:       %s\n", (time.Duration(p.UptimeSeconds) * time.Second).String())
	fmt.Printf("  Jobs:         %d started, %d completed, %d failed\n", p.Jobs.Started, p.Jobs.Completed, p.Jobs.Failed)
	fmt.Printf("  Chunks added: %d\n", p.Jobs.ChunksStored)
	fmt.Printf("  Query cost:   $%.4f\n", p.TotalCostUSD)

	if len(p.Operations) == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("  %-14s %8s %8s %10s %10s %10s\n", "OPERATION", "COUNT", "ERRORS", "AVG MS", "MIN MS", "MAX MS")
	names := make([]string, 0, len(p.Operations))
	for name := range p.Operations {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		op := p.Operations[name]
		line := fmt.Sprintf("  %-14s %8d %8d %10.1f %10d %10d", name, op.Count, op.Errors, op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
		if op.Errors > 0 {
			line = t.warningStyle().Render(line)
		}
		fmt.Println(line)
		if op.InputTokens != nil {
			fmt.Println(t.hintStyle().Render(fmt.Sprintf("  %-14s tokens: %d in / %d out", "", *op.InputTokens, *op.OutputTokens)))
		}
	}
}
