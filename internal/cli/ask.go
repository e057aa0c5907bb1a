package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/spf13/cobra"
)

var (
	askTicker     string
	askType       string
	askYear       int
	askOutputFile string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the ingested filings",
	Long: `Ask a question and get an answer grounded in the ingested filings, with
citations and a faithfulness score.

Filters are exact matches and may be combined.

Examples:
  finrag ask "What are Apple's main risk factors?" --ticker AAPL
  finrag ask "How did revenue change year over year?" --ticker MSFT --type 10-K --year 2024
  finrag ask "Summarize NVIDIA's data center segment" -o answer.md`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askTicker, "ticker", "", "only use passages from this ticker")
	askCmd.Flags().StringVar(&askType, "type", "", "only use passages from this filing type")
	askCmd.Flags().IntVar(&askYear, "year", 0, "only use passages from this filing year")
	askCmd.Flags().StringVarP(&askOutputFile, "output", "o", "", "write output to file")
}

func runAsk(cmd *cobra.Command, args []string) error {
	resp, err := apiClient.Query(context.Background(), models.QueryRequest{
		Question:   args[0],
		Ticker:     askTicker,
		FilingType: askType,
		FilingYear: askYear,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(os.Stdout, resp)
	}

	if askOutputFile != "" {
		f, err := os.Create(askOutputFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		writeAnswer(f, Theme{Plain: true}, resp)
		fmt.Printf("Answer written to %s\n", askOutputFile)
		return nil
	}

	writeAnswer(os.Stdout, defaultTheme, resp)
	return nil
}

// writeAnswer renders the answer, its citations and a cost footer.
func writeAnswer(w io.Writer, t Theme, resp *models.QueryResponse) {
	fmt.Fprintln(w, strings.TrimSpace(resp.Answer))

	if len(resp.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, t.headingStyle().Render("Sources"))
		for i, c := range resp.Citations {
			fmt.Fprintf(w, "[%d] %s %s %d, %s (score %.3f)\n", i+1, c.Ticker, c.FilingType, c.FilingYear, c.Section, c.Score)
			excerpt := strings.Join(strings.Fields(c.Excerpt), " ")
			if len(excerpt) > 160 {
				excerpt = excerpt[:157] + "..."
			}
			fmt.Fprintln(w, t.hintStyle().Render("    "+excerpt))
		}
	}

	fmt.Fprintln(w)
	footer := fmt.Sprintf("faithfulness %.2f · %d ms · $%.6f (%d in / %d out tokens)",
		resp.Faithfulness, resp.LatencyMS, resp.CostUSD, resp.InputTokens, resp.OutputTokens)
	style := t.statusStyle()
	if resp.Faithfulness < 0.5 && len(resp.Citations) > 0 {
		style = t.warningStyle()
	}
	fmt.Fprintln(w, style.Render(footer))
}
