package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fund-crawler/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect crawl run history",
	Long:  "Commands for listing and summarizing crawl runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent crawl runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runs, err := loadRuns(cmd)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics over recent crawl runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runs, err := loadRuns(cmd)
		if err != nil {
			return err
		}
		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func loadRuns(cmd *cobra.Command) ([]model.CrawlRun, error) {
	ctx := cmd.Context()
	if err := cfg.Validate("read"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := st.ListCrawlRuns(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "runs list")
	}
	return runs, nil
}

// runStats holds aggregate statistics over crawl runs.
type runStats struct {
	Total       int
	Complete    int
	Failed      int
	Running     int
	Records     int
	Failures    int
	Charts      int
	AvgDurSecs  float64
	LastSuccess *time.Time
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.CrawlRun) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		s.Records += r.RecordsProcessed
		s.Failures += r.RecordsFailed
		s.Charts += r.ChartsStored

		switch r.Status {
		case model.CrawlStatusComplete:
			s.Complete++
			if r.CompletedAt != nil {
				totalDur += r.CompletedAt.Sub(r.StartedAt)
				durCount++
				if s.LastSuccess == nil || r.CompletedAt.After(*s.LastSuccess) {
					t := *r.CompletedAt
					s.LastSuccess = &t
				}
			}
		case model.CrawlStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.CrawlRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tPAGES\tOK\tFAILED\tCHARTS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-----\t--\t------\t------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Trigger,
			r.Status,
			r.PagesFetched,
			r.RecordsProcessed,
			r.RecordsFailed,
			r.ChartsStored,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Records stored:\t%d\n", s.Records)
	_, _ = fmt.Fprintf(w, "Records failed:\t%d\n", s.Failures)
	_, _ = fmt.Fprintf(w, "Chart rows:\t%d\n", s.Charts)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	if s.LastSuccess != nil {
		_, _ = fmt.Fprintf(w, "Last success:\t%s\n", s.LastSuccess.Format(time.RFC3339))
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsCmd.PersistentFlags().Int("limit", 20, "maximum number of runs to read")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}
