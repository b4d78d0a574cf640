package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// validateCmd submits one recorded traffic sample
var validateCmd = &cobra.Command{
	Use:   "validate <sample.json>",
	Short: "Submit a traffic sample to every matching session",
	Long: `Submit a recorded {"liveRequest":...,"liveResponse":...} sample. Use - to read from stdin.
The server accepts the sample whether or not a session matched it.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := readFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read sample: %w", err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%s is not valid JSON", args[0])
	}

	if err := NewClient(GetServerURL()).Validate(cmd.Context(), json.RawMessage(data)); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Sample submitted")
	return nil
}
