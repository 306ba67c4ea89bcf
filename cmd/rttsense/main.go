// Command rttsense runs the RTT activity analyzer service and its offline tools.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/planbiir/rttsense/internal/config"
)

var version = "v0.1.0"

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "rttsense",
		Short: "Infer device activity from acknowledgment round-trip times",
		Long: `rttsense classifies delivery-receipt RTTs into activity bands, calibrates
a per-session baseline, raises risk flags and exports measurement bundles.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./rttsense.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("log.format", cmd.PersistentFlags().Lookup("log-format"))

	load := func() (*config.Config, error) {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return nil, err
		}
		if err := cfg.Log.Apply(logrus.StandardLogger()); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cmd.AddCommand(serveCmd(v, load))
	cmd.AddCommand(replayCmd(load))
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rttsense %s - adaptive RTT activity analyzer\n", version)
		},
	}
}
