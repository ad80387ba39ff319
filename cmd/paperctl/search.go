package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"paper-alerts/services"
	"paper-alerts/store"
)

var (
	searchMode   string
	searchTopics []string
	searchFrom   string
	searchTo     string
	searchSort   string
	searchOrder  string
	searchPage   int

	similarLimit int
)

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(similarCmd)

	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "semantic", "semantic, keyword or browse")
	searchCmd.Flags().StringSliceVarP(&searchTopics, "topic", "t", nil, "Filter by topic (repeatable, any match)")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "Recommended on or after YYYY-MM-DD")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "Recommended on or before YYYY-MM-DD")
	searchCmd.Flags().StringVar(&searchSort, "sort", "", "Browse order: recommended_date, title or year")
	searchCmd.Flags().StringVar(&searchOrder, "order", "", "asc or desc")
	searchCmd.Flags().IntVarP(&searchPage, "page", "p", 1, "Result page")

	similarCmd.Flags().IntVarP(&similarLimit, "limit", "l", services.DefaultSimilar, "Maximum number of results")
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored papers",
	Long: `Search papers semantically, by keyword, or browse them without a query.

Semantic search falls back to keyword search when no embeddings are available;
the output then reports degraded=true.`,
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	from, err := parseDateFlag("from", searchFrom)
	if err != nil {
		return err
	}
	to, err := parseDateFlag("to", searchTo)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	req := services.SearchRequest{
		Query:  strings.Join(args, " "),
		Mode:   services.ParseMode(searchMode),
		Topics: searchTopics,
		From:   from,
		To:     to,
		Page:   searchPage,
	}
	if searchSort != "" {
		key := store.ParseSortKey(searchSort)
		req.Sort = store.Sort{Key: key, Desc: key != store.SortTitle}
		if searchOrder != "" {
			req.Sort.Desc = strings.EqualFold(searchOrder, "desc")
		}
	}

	res, err := a.Search.Search(ctx, req)
	if err != nil {
		return err
	}
	if !humanOutput {
		return outputJSON(res)
	}
	if res.Degraded {
		fmt.Fprintf(os.Stderr, "note: %s, showing keyword results\n", res.Notice)
	}
	fmt.Printf("%d results (%s), page %d of %d\n\n", res.Total, res.Mode, res.Page, res.TotalPages)
	printPapers(os.Stdout, res.Papers, (res.Page-1)*res.PageSize+1)
	return nil
}

var similarCmd = &cobra.Command{
	Use:   "similar <paper-id>",
	Short: "Find papers similar to a stored paper",
	Long: `Find the nearest neighbours of a paper by its embedding.
The source paper is excluded from the results.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid paper id %q", args[0])
	}
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	papers, err := a.Search.SimilarTo(ctx, uint(id), similarLimit)
	if err != nil {
		return err
	}
	if !humanOutput {
		return outputJSON(map[string]any{"source_id": id, "similar": papers, "total": len(papers)})
	}
	printPapers(os.Stdout, papers, 1)
	return nil
}

func parseDateFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", name, v)
	}
	return t, nil
}
