package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	flagVerbose bool
	flagLogFile string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "stopprobe",
		Short:        "Reproduce stop sequences that appear in output without stop_reason=stop_sequence",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (defaults to the built-in reproduction)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "emit debug-level structured logs")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "write structured logs to this file instead of stderr")
	root.AddCommand(newRunCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newReclassifyCmd())
	root.AddCommand(newTemplateCmd())
	return root
}
