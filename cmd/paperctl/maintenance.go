package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	retagTopic    string
	retagUntagged bool

	summarizeLimit int
	summarizeID    string
)

func init() {
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(retagCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)

	retagCmd.Flags().StringVar(&retagTopic, "topic", "", "Re-check only this tag, keep all others")
	retagCmd.Flags().BoolVar(&retagUntagged, "untagged", false, "Only tag papers without topics")

	summarizeCmd.Flags().IntVar(&summarizeLimit, "limit", 20, "Maximum number of papers to summarize")
	summarizeCmd.Flags().StringVar(&summarizeID, "id", "", "Summarize a single paper")
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Compute missing or stale embeddings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Embedder == nil {
			return errors.New("no embedding provider configured (OPENAI_API_KEY)")
		}
		stats, err := a.Indexer.Backfill(ctx)
		if err != nil {
			return err
		}
		if humanOutput {
			fmt.Printf("Embedded %d of %d papers, %d failed\n", stats.Embedded, stats.Attempted, stats.Failed)
			return nil
		}
		return outputJSON(stats)
	},
}

var retagCmd = &cobra.Command{
	Use:   "retag",
	Short: "Recompute topic tags of stored papers",
	Long: `Without flags every paper gets the classifier's current tags (manual tags are
replaced). --topic re-checks a single tag, --untagged only fills papers without tags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		var stats any
		switch {
		case retagTopic != "":
			stats, err = a.Retag.RetagTopic(ctx, retagTopic)
		case retagUntagged:
			stats, err = a.Retag.TagUntagged(ctx)
		default:
			stats, err = a.Retag.RetagAll(ctx)
		}
		if err != nil {
			return err
		}
		if humanOutput {
			fmt.Printf("%+v\n", stats)
			return nil
		}
		return outputJSON(stats)
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Generate AI summaries for papers without one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if summarizeID != "" {
			id, err := strconv.ParseUint(summarizeID, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid paper id %q", summarizeID)
			}
			p, err := a.Summaries.SummarizeOne(ctx, uint(id))
			if err != nil {
				return err
			}
			return outputJSON(p)
		}
		stats, err := a.Summaries.Run(ctx, summarizeLimit)
		if err != nil {
			return err
		}
		if humanOutput {
			fmt.Printf("Generated %d of %d summaries, %d failed\n", stats.Generated, stats.Attempted, stats.Failed)
			return nil
		}
		return outputJSON(stats)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database and embedding coverage statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Store.Stats(ctx)
		if err != nil {
			return err
		}
		if !humanOutput {
			return outputJSON(st)
		}
		fmt.Printf("Papers:            %d\n", st.Total)
		fmt.Printf("With embedding:    %d (%.1f%%)\n", st.WithEmbedding, st.Coverage)
		fmt.Printf("Without embedding: %d\n", st.WithoutEmbedding)
		fmt.Printf("With summary:      %d\n", st.WithSummary)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Upload a gzipped JSONL snapshot of all papers to S3",
	Long: `Writes every paper as one JSON line, uploads it to exports/ in S3_BUCKET
and deletes all but the newest EXPORT_KEEP snapshots.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Export.Export(ctx)
		if err != nil {
			return err
		}
		if humanOutput {
			fmt.Printf("Uploaded %s (%d papers, %d bytes), removed %d old exports\n", res.Key, res.Papers, res.Bytes, len(res.Deleted))
			return nil
		}
		return outputJSON(res)
	},
}
