package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Run a novelty assessment over a run's shortlist",
	Long: `Assess freezes the shortlist of an existing run and drives the staged
novelty determination over it: one screening call across the shortlist, then
a detailed comparison for each candidate left in doubt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run")
		summaryPath, _ := cmd.Flags().GetString("summary")
		if runID == "" || summaryPath == "" {
			return fmt.Errorf("--run and --summary are required")
		}
		blob, err := os.ReadFile(summaryPath)
		if err != nil {
			return fmt.Errorf("read invention summary: %w", err)
		}
		summary := strings.TrimSpace(string(blob))
		if summary == "" {
			return fmt.Errorf("invention summary is empty")
		}

		eng, done, err := buildEngine(true, true)
		if err != nil {
			return err
		}
		defer done()

		a, err := eng.StartAssessment(cmd.Context(), runID, summary)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(a)
		}
		fmt.Printf("assessment: %s\n", a.ID)
		fmt.Printf("status: %s\n", a.Status)
		if a.Final != "" {
			fmt.Printf("determination: %s\n", a.Final)
		}
		if a.FailReason != "" {
			fmt.Printf("failure: %s\n", a.FailReason)
		}
		return nil
	},
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <assessment-id>",
	Short: "Abandon a non-terminal assessment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, done, err := buildEngine(false, false)
		if err != nil {
			return err
		}
		defer done()

		a, err := eng.AbandonAssessment(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("assessment: %s\nstatus: %s\n", a.ID, a.Status)
		return nil
	},
}

func init() {
	assessCmd.Flags().String("run", "", "run id whose shortlist to assess")
	assessCmd.Flags().String("summary", "", "path to a file containing the invention summary")
	assessCmd.Flags().Bool("json", false, "output the full assessment as JSON")

	rootCmd.AddCommand(assessCmd)
	rootCmd.AddCommand(abandonCmd)
}
