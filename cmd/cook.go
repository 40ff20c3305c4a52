package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cookCmd = &cobra.Command{
	Use:   "cook",
	Short: "Produce the cooked registry file",
	Long: `Loads the configured data source and writes the stripped registry file
used by shipped builds. Asset paths and editor-only custom data are
dropped from the output.`,
	RunE: runCook,
}

var cookOutput string

func init() {
	cookCmd.Flags().StringVarP(&cookOutput, "output", "o", "",
		"output file (default: registry_file from config)")
	rootCmd.AddCommand(cookCmd)
}

func runCook(cmd *cobra.Command, args []string) error {
	r, cleanup, err := buildRegistry(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	output := cookOutput
	if output == "" {
		output = cfg.RegistryFile
	}

	if err := r.EnterCookingMode(); err != nil {
		return err
	}
	defer r.LeaveCookingMode()

	if err := r.WriteForCook(cmd.Context(), output); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "cooked %d records to %s (checksum %#x)\n",
		r.Len(), output, r.Checksum())
	return nil
}
