package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fund-crawler/internal/model"
)

var fundsCmd = &cobra.Command{
	Use:   "funds",
	Short: "Query stored funds",
}

// -- funds list --

var fundsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored funds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		funds, err := st.ListFunds(ctx)
		if err != nil {
			return eris.Wrap(err, "funds list")
		}
		return printFunds(cmd, funds)
	},
}

// -- funds search --

var fundsSearchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search funds by name or code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		funds, err := st.SearchFunds(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "funds search")
		}
		return printFunds(cmd, funds)
	},
}

// -- funds charts --

var fundsChartsCmd = &cobra.Command{
	Use:   "charts <code>",
	Short: "Show stored chart rows for a fund",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		charts, err := st.ListCharts(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "funds charts")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, charts)
		}
		if len(charts) == 0 {
			fmt.Fprintln(os.Stderr, "No charts found.")
			return nil
		}
		formatCharts(os.Stdout, charts)
		return nil
	},
}

func printFunds(cmd *cobra.Command, funds []model.Fund) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(os.Stdout, funds)
	}
	if len(funds) == 0 {
		fmt.Fprintln(os.Stderr, "No funds found.")
		return nil
	}
	formatFunds(os.Stdout, funds)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatFunds writes a tabular list of funds to out.
func formatFunds(out io.Writer, funds []model.Fund) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tNAME\tTYPE\tNAV\tRET_3M\tUPDATED")
	_, _ = fmt.Fprintln(w, "----\t----\t----\t---\t------\t-------")

	for _, f := range funds {
		name := f.Name
		if r := []rune(name); len(r) > 30 {
			name = string(r[:27]) + "..."
		}
		updated := ""
		if !f.UpdatedAt.IsZero() {
			updated = f.UpdatedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f%%\t%s\n",
			f.Code,
			name,
			f.TypeName,
			f.NAV,
			f.Return3M*100,
			updated,
		)
	}
	_ = w.Flush()
}

// formatCharts writes chart rows to out.
func formatCharts(out io.Writer, charts []model.ChartPoint) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tAS_OF\tCATEGORY\tAMOUNT\tWEIGHT\tRETURN")
	_, _ = fmt.Fprintln(w, "------\t-----\t--------\t------\t------\t------")

	for _, c := range charts {
		asOf := ""
		if c.AsOfDate != nil {
			asOf = c.AsOfDate.Format("2006-01-02")
		}
		ret := ""
		if c.ReturnRate != nil {
			ret = fmt.Sprintf("%.2f%%", *c.ReturnRate*100)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%.2f%%\t%s\n",
			c.Source,
			asOf,
			c.Category,
			c.EvaluationAmount,
			c.Weight*100,
			ret,
		)
	}
	_ = w.Flush()
}

func init() {
	fundsCmd.PersistentFlags().Bool("json", false, "output JSON")
	fundsCmd.AddCommand(fundsListCmd)
	fundsCmd.AddCommand(fundsSearchCmd)
	fundsCmd.AddCommand(fundsChartsCmd)
	rootCmd.AddCommand(fundsCmd)
}
