package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/joelkehle/novelty-engine/internal/aggregate"
	"github.com/joelkehle/novelty-engine/internal/assessment"
	"github.com/joelkehle/novelty-engine/internal/engine"
	"github.com/joelkehle/novelty-engine/internal/relevance"
	"github.com/joelkehle/novelty-engine/internal/search"
	"github.com/joelkehle/novelty-engine/internal/store"
)

// buildEngine wires the pipeline from viper configuration. Source and model
// dependencies are only constructed when the subcommand needs them, so
// offline subcommands (report, abandon) run without API keys; the engine
// rejects operations whose dependency was left unwired. The caller must
// invoke the returned cleanup when done.
func buildEngine(needSources, needModel bool) (*engine.Engine, func(), error) {
	dbPath := viper.GetString("db")
	st, err := store.New(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %s: %w", dbPath, err)
	}

	var searcher engine.Searcher
	var details assessment.DetailFetcher
	var patents *search.PatentsViewSource
	if needSources {
		apiKey := strings.TrimSpace(viper.GetString("patentsview_api_key"))
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("PATENTSVIEW_API_KEY"))
		}
		if apiKey == "" {
			st.Close()
			return nil, nil, fmt.Errorf("PATENTSVIEW_API_KEY (or patentsview_api_key in config) must be set")
		}
		patents, err = search.NewPatentsViewSource(search.PatentsViewConfig{
			APIKey:             apiKey,
			RateLimitPerMinute: viper.GetInt("patentsview_rate_limit"),
		})
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		scholarly := search.NewOpenAlexSource(search.OpenAlexConfig{
			Email: viper.GetString("openalex_email"),
		})
		searcher = search.NewExecutor(patents, scholarly)
		details = patents
	}

	var gateway assessment.Gateway
	if needModel {
		g, err := assessment.NewAnthropicGatewayFromEnv()
		if err != nil {
			if patents != nil {
				patents.Close()
			}
			st.Close()
			return nil, nil, err
		}
		gateway = g
	}

	aggCfg := aggregate.Config{
		Threshold: relevance.ThresholdConfig{
			TargetShortlist: viper.GetInt("target_shortlist"),
			Floor:           viper.GetInt("threshold_floor"),
			Ceiling:         viper.GetInt("threshold_ceiling"),
			Pivot:           viper.GetInt("threshold_pivot"),
		},
		FallbackPerVariant: viper.GetInt("fallback_per_variant"),
	}

	cleanup := func() {
		if patents != nil {
			patents.Close()
		}
		st.Close()
	}
	return engine.New(st, searcher, gateway, details, engine.LogNotifier{}, aggCfg), cleanup, nil
}
