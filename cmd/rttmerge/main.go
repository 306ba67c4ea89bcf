// Command rttmerge fills gaps in one exported session with measurements from another.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/merge"
	"github.com/planbiir/rttsense/internal/session"
)

func main() {
	cfg := merge.DefaultConfig()

	gapFlag := flag.Duration("gap", cfg.GapThreshold, "Minimum silence between raw measurements to consider for merge (e.g. 2m)")
	maxDevFlag := flag.Float64("max-dev", cfg.MaxRTTDeviationMs, "Maximum RTT deviation in ms from both neighbours (negative disables)")
	anyTarget := flag.Bool("any-target", false, "Accept secondary measurements for other targets")
	outFlag := flag.String("out", "", "Optional path to write the merged bundle (.json or .yaml)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		log.Fatalf("usage: %s [flags] <primary.json> <secondary.json>", os.Args[0])
	}

	primaryPath := args[0]
	secondaryPath := args[1]

	cfg.GapThreshold = *gapFlag
	cfg.MaxRTTDeviationMs = *maxDevFlag
	cfg.AllowOtherTargets = *anyTarget

	primary, err := session.Parse(primaryPath)
	if err != nil {
		log.Fatalf("parse primary: %v", err)
	}
	secondary, err := session.Parse(secondaryPath)
	if err != nil {
		log.Fatalf("parse secondary: %v", err)
	}

	fmt.Printf("Primary: %s\n", primaryPath)
	printBundleStats(primary)

	fmt.Printf("\nSecondary: %s\n", secondaryPath)
	printBundleStats(secondary)

	fmt.Printf("\nMerge config: gap_threshold=%v, max_deviation=%.0fms, any_target=%v\n",
		cfg.GapThreshold, cfg.MaxRTTDeviationMs, cfg.AllowOtherTargets)

	merged, stats, err := merge.MergeBundles(primary, secondary, cfg)
	if err != nil {
		log.Fatalf("merge failed: %v", err)
	}

	fmt.Printf("\nMerge stats: gaps_detected=%d gaps_filled=%d inserted=%d rejected=%d\n",
		stats.GapsDetected, stats.GapsFilled, stats.Inserted, stats.Rejected)

	fmt.Printf("\nMerged bundle summary:\n")
	printBundleStats(merged)

	gaps := analyzeGaps(primary.Raw(), merged.Raw(), cfg.GapThreshold)
	fmt.Printf("\nGap analysis (threshold %v):\n", cfg.GapThreshold)
	if len(gaps) == 0 {
		fmt.Println("  no gaps exceeding threshold")
	}
	for idx, gap := range gaps {
		fmt.Printf("  Gap #%d: %s – %s (duration %v)\n", idx+1, gap.start.Format(time.RFC3339), gap.end.Format(time.RFC3339), gap.duration)
		if gap.inserted == 0 {
			fmt.Printf("    gap left empty\n")
			continue
		}
		fmt.Printf("    inserted measurements: %d (%d timeouts)\n", gap.inserted, gap.timeouts)
	}

	if *outFlag != "" {
		if err := merged.Write(*outFlag); err != nil {
			log.Fatalf("write merged bundle: %v", err)
		}
		fmt.Printf("\nMerged bundle written to %s\n", *outFlag)
	}
}

type gapInfo struct {
	start    time.Time
	end      time.Time
	duration time.Duration
	inserted int
	timeouts int
}

// analyzeGaps counts the merged measurements that landed inside each primary gap
func analyzeGaps(primary, merged []analyze.Measurement, threshold time.Duration) []gapInfo {
	result := []gapInfo{}
	idx := 0
	for i := 0; i < len(primary)-1; i++ {
		a, b := primary[i], primary[i+1]
		gap := b.Timestamp.Sub(a.Timestamp)
		if gap <= threshold {
			continue
		}
		info := gapInfo{start: a.Timestamp, end: b.Timestamp, duration: gap}
		for idx < len(merged) && !merged[idx].Timestamp.After(b.Timestamp) {
			m := merged[idx]
			if m.Timestamp.After(a.Timestamp) && m.Timestamp.Before(b.Timestamp) {
				info.inserted++
				if !m.Valid() {
					info.timeouts++
				}
			}
			idx++
		}
		result = append(result, info)
	}
	return result
}

func printBundleStats(b *session.Bundle) {
	raw, averaged, timeouts, duration := b.Stats()
	fmt.Printf("  session: %s target=%s\n", b.ID, b.Config.Target)
	fmt.Printf("  measurements: %d raw, %d averaged, %d timeouts\n", raw, averaged, timeouts)
	if duration > 0 {
		fmt.Printf("  span: %s – %s (%v)\n", b.StartedAt.Format(time.RFC3339), b.StoppedAt.Format(time.RFC3339), duration)
	}
}
