package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/raphaelgruber/finrag-go/internal/client"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/spf13/cobra"
)

var (
	ingestTickers []string
	ingestTypes   []string
	ingestLimit   int
	ingestDetach  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest SEC filings for one or more tickers",
	Long: `Start an ingestion job on the server and follow its progress.

Each ticker's latest filings are downloaded, parsed, chunked, embedded and
stored. A failing ticker does not stop the others.

Examples:
  finrag ingest -t AAPL
  finrag ingest -t AAPL,MSFT,NVDA -f 10-K,10-Q -n 1
  finrag ingest -t TSLA --detach`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringSliceVarP(&ingestTickers, "tickers", "t", []string{"AAPL"}, "ticker symbols")
	ingestCmd.Flags().StringSliceVarP(&ingestTypes, "types", "f", []string{"10-K"}, "filing types")
	ingestCmd.Flags().IntVarP(&ingestLimit, "limit", "n", 2, "filings per ticker and type")
	ingestCmd.Flags().BoolVarP(&ingestDetach, "detach", "d", false, "submit and return without following progress")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	resp, err := apiClient.Ingest(ctx, client.IngestRequest{
		Tickers:     ingestTickers,
		FilingTypes: ingestTypes,
		Limit:       ingestLimit,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(os.Stdout, resp)
	}
	fmt.Printf("Job %s submitted (%v, %v, limit %d)\n", resp.JobID, resp.Tickers, resp.FilingTypes, resp.Limit)
	if ingestDetach {
		fmt.Println(defaultTheme.hintStyle().Render(fmt.Sprintf("Use 'finrag jobs %s' to check status.", resp.JobID)))
		return nil
	}

	if !isTerminal() {
		return followPlain(ctx, apiClient, resp.JobID)
	}
	return RunJobProgress(ctx, apiClient, &models.IngestionJob{ID: resp.JobID, Tickers: resp.Tickers})
}
