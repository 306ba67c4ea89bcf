package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/config"
	"github.com/planbiir/rttsense/internal/replay"
	"github.com/planbiir/rttsense/internal/session"
)

func replayCmd(load func() (*config.Config, error)) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replay <bundle>",
		Short: "Re-run a recorded session through a fresh analyzer",
		Long: `Replay feeds the raw measurements of an exported bundle through a fresh
analyzer and reports the re-derived statistics together with how often the
recorded and replayed classifications disagree.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			b, err := session.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse bundle: %w", err)
			}
			res, err := replay.Run(b, cfg.AnalyzeConfig(), logrus.WithField("component", "replay"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printReplay(out, b, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func printReplay(w io.Writer, b *session.Bundle, res *replay.Result) {
	s := res.Statistics
	raw, averaged, timeouts, duration := b.Stats()

	fmt.Fprintf(w, "\n📊 Replay of session %s\n", res.BundleID)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "🎯 Target: %s (%s)\n", b.Config.Target, b.Config.DeviceModel)
	fmt.Fprintf(w, "📍 Recorded: %d raw, %d averaged, %d timeouts over %v\n", raw, averaged, timeouts, duration)
	fmt.Fprintf(w, "🔁 Replayed: %d measurements, %d windows\n", len(res.Replayed), len(res.Windows))
	fmt.Fprintf(w, "🧭 Calibration: %s\n", s.CalibrationStatus)
	if s.Thresholds != nil {
		fmt.Fprintf(w, "   • thresholds: foreground <%.0fms, screen on <%.0fms, screen off <%.0fms\n",
			s.Thresholds.Foreground, s.Thresholds.ScreenOn, s.Thresholds.ScreenOff)
	}
	if s.AvgRTT != nil {
		fmt.Fprintf(w, "⚡ RTT: avg %.0fms, min %.0fms, max %.0fms\n", *s.AvgRTT, *s.MinRTT, *s.MaxRTT)
	}

	bands := make([]string, 0, len(s.BandCounts))
	for b := range s.BandCounts {
		bands = append(bands, string(b))
	}
	sort.Strings(bands)
	fmt.Fprintf(w, "🔄 Bands:\n")
	for _, b := range bands {
		fmt.Fprintf(w, "   • %s: %d\n", b, s.BandCounts[analyze.Band(b)])
	}

	fmt.Fprintf(w, "🔍 Recorded vs replayed: %d/%d diverged (%.1f%%)\n",
		res.Recorded.Diverged, res.Recorded.Compared, res.Recorded.Rate*100)
	fmt.Fprintf(w, "🔍 Threshold vs cluster: %d/%d diverged (%.1f%%)\n",
		res.Classifiers.Diverged, res.Classifiers.Compared, res.Classifiers.Rate*100)
	for _, f := range s.RiskFlags {
		fmt.Fprintf(w, "⚠️  %s: %s\n", f.Type, f.Description)
	}
	for _, f := range s.Anomalies {
		fmt.Fprintf(w, "⚠️  %s: %s\n", f.Type, f.Description)
	}
	if s.Prediction != nil {
		fmt.Fprintf(w, "🔮 Next state: %s (%.0f%% confidence)\n", s.Prediction.Band, s.Prediction.Confidence*100)
	}
	fmt.Fprintf(w, "🏷️  Profile: %s (%d%%)\n", res.Profile.Label, res.Profile.Confidence)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
}
