package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/search"
	"github.com/spf13/cobra"
)

var (
	searchLimit  int
	searchMode   string
	searchRerank bool
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search a user's documents",
	Long: `Runs vector, keyword or hybrid retrieval over the user's chunks.
Hybrid fuses both rankings with reciprocal rank fusion; --rerank rescores
the candidates with the active model.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "", "vector, keyword or hybrid (default from SEARCH_MODE)")
	searchCmd.Flags().BoolVar(&searchRerank, "rerank", false, "rerank candidates with the active model")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	opts := search.Options{Limit: searchLimit}
	if searchMode != "" {
		mode, err := search.ParseMode(searchMode)
		if err != nil {
			return err
		}
		opts.Mode = mode
	}

	svc, release, err := open(cmd)
	if err != nil {
		return err
	}
	defer release()

	if cmd.Flags().Changed("rerank") {
		opts.Rerank = &searchRerank
	}
	opts.Model = svc.ActiveModel

	result, err := svc.Searcher.Search(cmd.Context(), args[0], userID, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	return outputSearchTable(cmd, result)
}

func outputSearchTable(cmd *cobra.Command, result *search.Result) error {
	meta := result.Meta
	cmd.Printf("Mode: %s, reranked: %t, strategies: %s\n", meta.SearchMode, meta.Reranked, strings.Join(meta.StrategiesRun, ","))
	if len(meta.StrategiesFailed) > 0 {
		cmd.Printf("Failed strategies: %s\n", strings.Join(meta.StrategiesFailed, ","))
	}

	if len(result.Chunks) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Println()
	for i, c := range result.Chunks {
		name := c.Filename
		if name == "" {
			name = c.DocumentID.String()
		}
		cmd.Printf("  [%d] %s #%d (%s)\n", i+1, name, c.ChunkIndex, score(c))
		cmd.Printf("      %s\n", snippet(c.Content, 160))
		cmd.Println()
	}
	return nil
}

// score shows the most specific score a result carries
func score(c models.SearchResult) string {
	switch {
	case c.RerankScore != nil:
		return fmt.Sprintf("rerank %.1f", *c.RerankScore)
	case c.RRFScore != nil:
		return fmt.Sprintf("rrf %.4f", *c.RRFScore)
	case c.Similarity != nil:
		return fmt.Sprintf("similarity %.3f", *c.Similarity)
	case c.RankScore != nil:
		return fmt.Sprintf("rank %.3f", *c.RankScore)
	default:
		return "unscored"
	}
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
