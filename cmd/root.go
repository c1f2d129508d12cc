package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	// Renderers register their platform on import.
	_ "github.com/pettai/capirca/internal/iptables"
	_ "github.com/pettai/capirca/internal/windowsipsec"
)

var (
	debugCount int
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:               "aclgen",
	Short:             "Generate firewall rules from network policies",
	Long:              `aclgen compiles vendor-neutral network policies into iptables and Windows IPsec rule text`,
	PersistentPreRunE: preRunFn,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&debugCount, "debug", "d", "enable debug mode")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info",
		"logging level; one of [trace, debug, info, warning, error, fatal]")
}

func preRunFn(_ *cobra.Command, _ []string) error {
	switch {
	case debugCount > 0:
		log.SetLevel(log.DebugLevel)
	default:
		l, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(l)
	}
	log.SetOutput(os.Stderr)
	return nil
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
