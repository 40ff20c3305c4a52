package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the registry contents",
	Long:  `Loads the configured data source and prints every record with its checksums, replication indices and payloads.`,
	RunE:  runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	r, cleanup, err := buildRegistry(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Fprint(cmd.OutOrStdout(), r.Dump())
	return nil
}
