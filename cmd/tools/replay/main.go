package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/bytedance/sonic"

	"papertrader/internal/journal"
	"papertrader/internal/schema"
	"papertrader/internal/state"
)

func main() {
	dir := flag.String("dir", "data/journal", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: journal)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	kinds := flag.String("kinds", "", "Comma separated event kinds to print (default: all)")
	decode := flag.Bool("decode", false, "Print decoded payloads")
	snapshotPath := flag.String("snapshot", "", "Position snapshot to verify against the journal trades")
	flag.Parse()

	cfg := journal.PlaybackConfig{
		Dir:        *dir,
		FilePrefix: *prefix,
		Speed:      *speed,
	}
	filter, err := parseKinds(*kinds)
	if err != nil {
		log.Fatalf("invalid kinds: %v", err)
	}
	// Trades are always read when verifying; the print filter is applied below.
	if *snapshotPath == "" {
		cfg.Kinds = filter
	}
	pb, err := journal.NewPlayback(cfg)
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	printable := make(map[schema.EventKind]bool, len(filter))
	for _, k := range filter {
		printable[k] = true
	}
	positions := state.NewPositionManager()
	counts := make(map[schema.EventKind]int)

	var index int
	err = pb.Run(context.Background(), func(rec journal.Record) error {
		counts[rec.Header.Kind]++
		if *snapshotPath != "" && rec.Header.Kind == schema.EventTrade {
			payload, err := rec.Decode()
			if err != nil {
				return err
			}
			if _, err := positions.Update(payload.(schema.Trade).Order); err != nil {
				return err
			}
		}
		if len(printable) > 0 && !printable[rec.Header.Kind] {
			return nil
		}
		index++
		fmt.Printf("%06d seq=%d kind=%s symbol=%s ts=%s len=%d\n", index, rec.Header.Seq, rec.Header.Kind, rec.Header.Symbol,
			rec.Header.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), len(rec.Payload))
		if *decode {
			printDecoded(rec)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}

	for k, n := range counts {
		fmt.Printf("%s=%d\n", k, n)
	}
	if *snapshotPath == "" {
		return
	}
	expected, err := state.ReadSnapshot(*snapshotPath)
	if err != nil {
		log.Fatalf("snapshot load failed: %v", err)
	}
	if err := state.CompareSnapshots(expected, positions.Snapshot(expected.Timestamp)); err != nil {
		log.Fatalf("snapshot verify failed: %v", err)
	}
	fmt.Printf("snapshot verified: %d positions\n", len(expected.Positions))
}

func parseKinds(s string) ([]schema.EventKind, error) {
	if s == "" {
		return nil, nil
	}
	var out []schema.EventKind
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
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

func printDecoded(rec journal.Record) {
	payload, err := rec.Decode()
	if err != nil {
		fmt.Printf("  decode failed: %v\n", err)
		return
	}
	switch p := payload.(type) {
	case schema.Trade:
		fmt.Printf("  trade round=%d %s %s %s qty=%d price=%.2f pnl=%.2f reason=%s\n",
			p.Round, p.Order.StrategyID, p.Order.Action, p.Order.Symbol, p.Order.FilledQuantity, p.Order.FilledPrice, p.RealizedPnL, p.Reason)
	case schema.RiskDecision:
		fmt.Printf("  risk approved=%t reason=%s\n", p.Approved, p.Reason)
	case schema.SessionEvent:
		fmt.Printf("  session state=%s detail=%s\n", p.State, p.Detail)
	default:
		data, err := sonic.ConfigStd.MarshalToString(payload)
		if err != nil {
			fmt.Printf("  encode failed: %v\n", err)
			return
		}
		fmt.Printf("  %s\n", data)
	}
}
