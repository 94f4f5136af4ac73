package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"papertrader/internal/history"
	"papertrader/internal/mdg"
	"papertrader/internal/ops"
	"papertrader/internal/session"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (history store and session location)")
	from := flag.String("from", "", "First date to generate (YYYY-MM-DD)")
	to := flag.String("to", "", "Last date to generate (default: --from)")
	symbols := flag.String("symbols", "", "Comma separated symbols (default: configured strategy symbols)")
	basePrice := flag.Float64("base-price", 100, "Opening price of the first symbol")
	volatility := flag.Float64("volatility", 0.001, "Per-minute return stddev")
	drift := flag.Float64("drift", 0, "Per-minute mean return")
	seed := flag.Int64("seed", 1, "Random seed")
	weekends := flag.Bool("weekends", false, "Also generate Saturdays and Sundays")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	clock, err := session.NewController(cfg.SessionConfig())
	if err != nil {
		log.Fatalf("session config invalid: %v", err)
	}
	loc := clock.Location()

	first, err := history.ParseDay(*from, loc)
	if err != nil {
		log.Fatalf("invalid --from: %v", err)
	}
	last := first
	if *to != "" {
		if last, err = history.ParseDay(*to, loc); err != nil {
			log.Fatalf("invalid --to: %v", err)
		}
	}
	if last.Before(first) {
		log.Fatalf("--to %s is before --from %s", *to, *from)
	}

	names := splitSymbols(*symbols)
	if len(names) == 0 {
		names = configuredSymbols(cfg)
	}

	gen, err := mdg.NewGenerator(mdg.Config{
		Symbols:    names,
		BasePrice:  *basePrice,
		Volatility: *volatility,
		Drift:      *drift,
		Location:   loc,
		Seed:       *seed,
	})
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}

	ctx := context.Background()
	provider, err := history.Open(ctx, cfg.History, loc)
	if err != nil {
		log.Fatalf("history open failed: %v", err)
	}
	defer provider.Close()
	writer, ok := provider.(history.Writer)
	if !ok {
		log.Fatalf("history driver %s is read only", cfg.History.Driver)
	}

	var days, candles int
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if !*weekends && (day.Weekday() == time.Saturday || day.Weekday() == time.Sunday) {
			continue
		}
		batch := gen.Day(day)
		if err := writer.Store(ctx, batch); err != nil {
			log.Fatalf("store %s failed: %v", history.DayKey(day, loc), err)
		}
		days++
		candles += len(batch)
	}

	stats, err := provider.GetStatistics(ctx)
	if err != nil {
		log.Fatalf("statistics failed: %v", err)
	}
	log.Printf("generated days=%d candles=%d symbols=%v; store holds %d days", days, candles, names, len(stats.Dates))
}

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

func configuredSymbols(cfg ops.Config) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sc := range cfg.Strategies {
		for _, sym := range sc.Symbols {
			if _, ok := seen[sym]; !ok {
				seen[sym] = struct{}{}
				out = append(out, sym)
			}
		}
	}
	return out
}
