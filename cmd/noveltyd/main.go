package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/joelkehle/novelty-engine/internal/aggregate"
	"github.com/joelkehle/novelty-engine/internal/assessment"
	"github.com/joelkehle/novelty-engine/internal/engine"
	"github.com/joelkehle/novelty-engine/internal/httpapi"
	"github.com/joelkehle/novelty-engine/internal/relevance"
	"github.com/joelkehle/novelty-engine/internal/search"
	"github.com/joelkehle/novelty-engine/internal/store"
)

func main() {
	dbFlag := flag.String("db", "", "path to SQLite database file (overrides NOVELTY_DB_PATH env var)")
	flag.Parse()

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	dbPath := *dbFlag
	if dbPath == "" {
		dbPath = os.Getenv("NOVELTY_DB_PATH")
	}
	if dbPath == "" {
		dbPath = "./data/novelty.db"
	}

	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("failed to initialize store (%s): %v", dbPath, err)
	}
	defer st.Close()
	log.Printf("using sqlite store at %s", dbPath)

	patents, err := search.NewPatentsViewSource(search.PatentsViewConfig{
		APIKey:             requiredEnv("PATENTSVIEW_API_KEY"),
		RateLimitPerMinute: envInt("PATENTSVIEW_RATE_LIMIT", search.DefaultRateLimitPerMinute),
	})
	if err != nil {
		log.Fatalf("failed to initialize patentsview source: %v", err)
	}
	defer patents.Close()
	scholarly := search.NewOpenAlexSource(search.OpenAlexConfig{
		Email: os.Getenv("OPENALEX_EMAIL"),
	})
	executor := search.NewExecutor(patents, scholarly)

	gateway, err := assessment.NewAnthropicGatewayFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize model gateway: %v", err)
	}

	aggCfg := aggregate.Config{
		Threshold: relevance.ThresholdConfig{
			TargetShortlist: envInt("NOVELTY_TARGET_SHORTLIST", 0),
			Floor:           envInt("NOVELTY_THRESHOLD_FLOOR", 0),
			Ceiling:         envInt("NOVELTY_THRESHOLD_CEILING", 0),
			Pivot:           envInt("NOVELTY_THRESHOLD_PIVOT", 0),
		},
		FallbackPerVariant: envInt("NOVELTY_FALLBACK_PER_VARIANT", 0),
	}

	eng := engine.New(st, executor, gateway, patents, engine.LogNotifier{}, aggCfg)
	h := httpapi.NewServer(eng)
	log.Printf("novelty-engine listening on %s model=%s", addr, gateway.ModelName())
	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatal(err)
	}
}

func requiredEnv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		log.Fatalf("%s must be set", key)
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
