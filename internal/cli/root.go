// Package cli implements the statectl command tree: offline tooling for
// generating key material and building or opening state envelopes without a
// running server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flow-state-networks/state-exchange/app/internal/version"
)

var rootCmd = &cobra.Command{
	Use:               "statectl",
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	Short:             "state-exchange tooling CLI",
	Long:              `statectl generates key material and wraps/unwraps state envelopes for testing and tenant provisioning`,
}

func Execute() {
	v := version.Get()
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
