package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joelkehle/novelty-engine/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <assessment-id>",
	Short: "Render a markdown report for an assessment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, done, err := buildEngine(false, false)
		if err != nil {
			return err
		}
		defer done()

		a, err := eng.GetAssessment(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		in := report.Input{Assessment: a}
		if a.RunID != "" {
			if res, rerr := eng.GetRunResults(cmd.Context(), a.RunID); rerr == nil {
				in.Candidates = res.Candidates
				in.Strategy = res.Run.Strategy
				in.Cutoff = res.Run.Cutoff
			}
		}
		md := report.BuildMarkdown(in)

		outPath, _ := cmd.Flags().GetString("out")
		if outPath == "" {
			fmt.Print(md)
			return nil
		}
		if err := os.WriteFile(outPath, []byte(md), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", outPath)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("out", "", "write the report to a file instead of stdout")

	rootCmd.AddCommand(reportCmd)
}
