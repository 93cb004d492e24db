package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// errThresholdsFailed is returned by run when the test finished but at least
// one threshold was crossed.
var errThresholdsFailed = errors.New("some thresholds have failed")

// RootCmd represents the base command when called without any subcommands
var RootCmd = NewRootCmd()

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "deliveryload",
		Short:   "Load tests for the Ten Minute Delivery API",
		Version: version,
		Long: `deliveryload simulates shoppers against the Ten Minute Delivery HTTP API.

Each virtual user browses categories, products and search, and may log in to
look at its cart, orders and addresses, sign up, or track a delivery. Checks,
request metrics and thresholds are reported at the end of the run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newMockCmd())
	return root
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	err := RootCmd.Execute()
	if err != nil && !errors.Is(err, errThresholdsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
