package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "txmon",
		Short:   "Transaction monitoring pipeline: fraud detection, notifications and live dashboard",
		Version: Version,
		// Errors are logged by the subcommands; cobra only prints usage mistakes.
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (env vars override it)")

	rootCmd.AddCommand(fraudDetectorCmd())
	rootCmd.AddCommand(notificationRouterCmd())
	rootCmd.AddCommand(emailWorkerCmd())
	rootCmd.AddCommand(gatewayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
