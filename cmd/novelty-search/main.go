// Package main is the entry point for the novelty-search CLI: run prior-art
// searches, drive novelty assessments and render reports from a local
// database, without standing up the HTTP daemon.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "novelty-search",
	Short: "Prior-art search and novelty determination pipeline",
	Long: `novelty-search runs the prior-art pipeline from the command line: execute a
three-variant search strategy against patent and scholarly sources, aggregate
the results into a scored candidate pool, and drive a staged novelty
assessment over the shortlist.

Each pipeline step is a subcommand: search, assess, and report.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./novelty-search.yaml or ~/.config/novelty-search/config.yaml)")
	rootCmd.PersistentFlags().String("db", "./data/novelty.db", "path to SQLite database file")
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("novelty-search")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "novelty-search"))
		}
	}

	viper.SetEnvPrefix("NOVELTY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the novelty-search version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
