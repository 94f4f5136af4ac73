package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"papertrader/internal/chaos"
	"papertrader/internal/journal"
	"papertrader/internal/schema"
)

func main() {
	inputDir := flag.String("input-dir", "data/journal", "Input journal directory")
	inputPrefix := flag.String("input-prefix", "", "Input journal file prefix (default: journal)")
	outputDir := flag.String("output-dir", "data/journal_chaos", "Output journal directory")
	outputPrefix := flag.String("output-prefix", "chaos", "Output journal file prefix")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 0, "Max event time delay")
	kinds := flag.String("kinds", "", "Comma separated event kinds to perturb (default: all)")
	flag.Parse()

	targets, err := parseKinds(*kinds)
	if err != nil {
		log.Fatalf("invalid kinds: %v", err)
	}
	pb, err := journal.NewPlayback(journal.PlaybackConfig{
		Dir:        *inputDir,
		FilePrefix: *inputPrefix,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	engine, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		MaxDelay:      *maxDelay,
		Kinds:         targets,
	})
	if err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}

	outCfg := journal.DefaultConfig(*outputDir)
	outCfg.FilePrefix = *outputPrefix
	writer, err := journal.NewWriter(outCfg)
	if err != nil {
		log.Fatalf("writer init failed: %v", err)
	}

	var seq uint64
	write := func(events []schema.Event) error {
		for _, ev := range events {
			seq++
			ev.Header.Seq = seq
			if err := writer.Append(ev); err != nil {
				return err
			}
		}
		return nil
	}

	err = pb.Run(context.Background(), func(rec journal.Record) error {
		return write(engine.Process(schema.Event{Header: rec.Header, Payload: rec.Payload}))
	})
	if err == nil {
		err = write(engine.Flush())
	}
	if err != nil {
		log.Fatalf("chaos run failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		log.Fatalf("writer close failed: %v", err)
	}
	stats := engine.Stats()
	log.Printf("chaos: in=%d out=%d dropped=%d duplicated=%d delayed=%d", stats.In, stats.Out, stats.Dropped, stats.Duplicated, stats.Delayed)
}

func parseKinds(s string) ([]schema.EventKind, error) {
	var out []schema.EventKind
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		var k schema.EventKind
		if err := k.UnmarshalText([]byte(name)); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
