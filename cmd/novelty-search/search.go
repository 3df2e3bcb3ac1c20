package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joelkehle/novelty-engine/internal/strategy"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Execute a three-variant prior-art search",
	Long: `Search reads a search strategy from a JSON file, executes its broad,
baseline and narrow variants against the configured sources, and persists the
merged candidate pool as a new run. The run id is printed for use with the
assess and report subcommands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strategyPath, _ := cmd.Flags().GetString("strategy")
		if strategyPath == "" {
			return fmt.Errorf("--strategy is required")
		}
		blob, err := os.ReadFile(strategyPath)
		if err != nil {
			return fmt.Errorf("read strategy: %w", err)
		}
		var strat strategy.SearchStrategy
		if err := json.Unmarshal(blob, &strat); err != nil {
			return fmt.Errorf("decode strategy: %w", err)
		}

		eng, done, err := buildEngine(true, false)
		if err != nil {
			return err
		}
		defer done()

		res, err := eng.StartSearch(cmd.Context(), strat)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(res)
		}
		fmt.Printf("run: %s\n", res.Run.ID)
		fmt.Printf("cutoff: %d%%\n", res.Run.Cutoff)
		shortlisted := 0
		for _, c := range res.Candidates {
			if c.Shortlisted {
				shortlisted++
			}
		}
		fmt.Printf("candidates: %d (%d shortlisted)\n", len(res.Candidates), shortlisted)
		return nil
	},
}

func init() {
	searchCmd.Flags().String("strategy", "", "path to a search strategy JSON file")
	searchCmd.Flags().Bool("json", false, "output the full run as JSON")

	rootCmd.AddCommand(searchCmd)
}
