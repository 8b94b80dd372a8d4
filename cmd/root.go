package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/kvcheck/cmd/gen"
)

var (
	// Optional run profile, overlaid on the environment
	profile string

	logLevel string
)

var RootCmd = &cobra.Command{
	Use:   "kvcheck",
	Short: "Conformance and stress client for the set/get key-value protocol",
	Long: `Conformance and stress client for the set/get key-value protocol

kvcheck opens one connection to a server and repeatedly sets a fresh random
key to a random value, reads it back and checks that the bytes match. The
first mismatch stops the run.

kvcheck serve runs a reference server that speaks the same protocol.
`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVar(&profile, "profile", "", "A YAML, TOML or JSON file of run parameters")
	flags.StringVar(&logLevel, "log-level", "", "Log level, overrides KVCHECK_LOG_LEVEL")

	RootCmd.AddCommand(VerifyCmd)
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
