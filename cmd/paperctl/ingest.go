package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"paper-alerts/alerts"
	"paper-alerts/services"
)

var (
	ingestDays           int
	ingestMaxEmails      int
	ingestDryRun         bool
	ingestSkipTags       bool
	ingestSkipEmbeddings bool
	ingestDir            string
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().IntVar(&ingestDays, "days", 0, "Only messages of the last N days (default: since the stored watermark)")
	ingestCmd.Flags().IntVar(&ingestMaxEmails, "max-emails", 0, "Maximum number of messages (default: MAX_MESSAGES)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Parse into an in-memory store, write nothing")
	ingestCmd.Flags().BoolVar(&ingestSkipTags, "skip-tags", false, "Do not assign topics")
	ingestCmd.Flags().BoolVar(&ingestSkipEmbeddings, "skip-embeddings", false, "Do not compute embeddings")
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "Alert directory (default: ALERT_DIR)")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Import Scholar alert messages",
	Long: `Reads alert messages newer than the stored watermark, parses every paper,
assigns topics, stores or merges it and computes missing embeddings.

With --dry-run everything runs against an empty in-memory store, embeddings are
skipped and no watermark is written.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, ingestDryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	if ingestDir != "" {
		a.Ingest.Source = alerts.NewDirSource(ingestDir, a.Config.AlertSender, a.Logger)
	}
	opts := services.RunOptions{
		MaxMessages:    a.Config.MaxMessages,
		SkipTags:       ingestSkipTags,
		SkipEmbeddings: ingestSkipEmbeddings,
	}
	if ingestMaxEmails > 0 {
		opts.MaxMessages = ingestMaxEmails
	}
	if ingestDays > 0 {
		opts.Since = time.Now().AddDate(0, 0, -ingestDays)
	}
	if ingestDryRun {
		opts.SkipEmbeddings = true
		a.Ingest.Archive = nil
	}

	sum, err := a.Ingest.RunScheduled(ctx, opts)
	if sum == nil {
		return err
	}
	if humanOutput {
		printRunSummary(sum)
	} else if jerr := outputJSON(sum); jerr != nil {
		return jerr
	}
	return err
}

func printRunSummary(s *services.RunSummary) {
	fmt.Printf("Run %s (%s)\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Printf("  messages:        %d processed, %d already seen\n", s.Messages, s.SkippedMessages)
	fmt.Printf("  papers:          %d parsed, %d parse failures\n", s.Parsed, s.ParseFailures)
	fmt.Printf("  stored:          %d new, %d merged, %d unchanged\n", s.Inserted, s.Merged, s.Unchanged)
	fmt.Printf("  embeddings:      %d of %d, %d failed, %d stale\n", s.Embedded, s.EmbedAttempted, s.EmbedFailed, s.EmbedStale)
	if len(s.EnrichFailures) > 0 {
		names := make([]string, 0, len(s.EnrichFailures))
		for n := range s.EnrichFailures {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Printf("  enrich failures: %s=%d\n", n, s.EnrichFailures[n])
		}
	}
	if !s.Watermark.LastReceivedAt.IsZero() {
		fmt.Printf("  watermark:       %s (%s)\n", s.Watermark.LastReceivedAt.Format(time.RFC3339), s.Watermark.LastMessageID)
	}
}
