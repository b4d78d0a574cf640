package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vladbarosan/oav-express/pkg/models"
)

var (
	// Start flags
	repoURL          string
	branch           string
	resourceProvider string
	apiVersion       string
	durationSeconds  int

	// Status flags
	followStatus bool
)

// validationModel is the admission body
type validationModel struct {
	RepoURL          string `json:"repoUrl,omitempty"`
	Branch           string `json:"branch,omitempty"`
	ResourceProvider string `json:"resourceProvider,omitempty"`
	APIVersion       string `json:"apiVersion,omitempty"`
	Duration         *int   `json:"duration,omitempty"`
}

// validationsCmd represents the validations command
var validationsCmd = &cobra.Command{
	Use:     "validations",
	Aliases: []string{"v"},
	Short:   "Manage validation sessions",
	Long:    `Commands for starting, inspecting and stopping live validation sessions.`,
}

var validationsStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a validation session",
	Long:  `Start a live validation session scoped to a resource provider and API version. Empty scope fields match all traffic.`,
	Args:  cobra.NoArgs,
	RunE:  runValidationsStart,
}

var validationsStatusCmd = &cobra.Command{
	Use:   "status <validation-id>",
	Short: "Show the state of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidationsStatus,
}

var validationsResultsCmd = &cobra.Command{
	Use:   "results <validation-id>",
	Short: "Show the flushed results of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidationsResults,
}

var validationsStopCmd = &cobra.Command{
	Use:   "stop <validation-id>",
	Short: "Drain a session and flush its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidationsStop,
}

var validationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live and recently terminated sessions",
	Args:  cobra.NoArgs,
	RunE:  runValidationsList,
}

func init() {
	rootCmd.AddCommand(validationsCmd)
	validationsCmd.AddCommand(validationsStartCmd)
	validationsCmd.AddCommand(validationsStatusCmd)
	validationsCmd.AddCommand(validationsResultsCmd)
	validationsCmd.AddCommand(validationsStopCmd)
	validationsCmd.AddCommand(validationsListCmd)

	validationsStartCmd.Flags().StringVar(&repoURL, "repo-url", "", "repository holding the interface definitions (server default when empty)")
	validationsStartCmd.Flags().StringVar(&branch, "branch", "", "repository branch")
	validationsStartCmd.Flags().StringVar(&resourceProvider, "resource-provider", "", "resource provider scope, e.g. Microsoft.Cache")
	validationsStartCmd.Flags().StringVar(&apiVersion, "api-version", "", "API version scope, e.g. 2017-02-01")
	validationsStartCmd.Flags().IntVar(&durationSeconds, "duration", -1, "session duration in seconds (runs until stopped when negative)")

	validationsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll the session every 2 seconds until it terminates")
}

func runValidationsStart(cmd *cobra.Command, args []string) error {
	req := validationModel{
		RepoURL:          repoURL,
		Branch:           branch,
		ResourceProvider: resourceProvider,
		APIVersion:       apiVersion,
	}
	if durationSeconds >= 0 {
		req.Duration = &durationSeconds
	}

	id, err := NewClient(GetServerURL()).StartValidation(cmd.Context(), req)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), models.ValidationResponse{ValidationID: id})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Validation started: %s\n", id)
	return nil
}

func runValidationsStatus(cmd *cobra.Command, args []string) error {
	client := NewClient(GetServerURL())
	for {
		session, err := client.Session(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			if err := printJSON(cmd.OutOrStdout(), session); err != nil {
				return err
			}
		} else {
			printSession(cmd.OutOrStdout(), session)
		}

		if !followStatus || models.IsTerminalState(session.State) {
			return nil
		}
		if err := sleep(cmd.Context(), 2*time.Second); err != nil {
			return err
		}
	}
}

func runValidationsResults(cmd *cobra.Command, args []string) error {
	rows, err := NewClient(GetServerURL()).Results(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), rows)
	}
	printResults(cmd.OutOrStdout(), rows)
	return nil
}

func runValidationsStop(cmd *cobra.Command, args []string) error {
	session, err := NewClient(GetServerURL()).Stop(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), session)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Validation %s is %s\n", session.ID, session.State)
	return nil
}

func runValidationsList(cmd *cobra.Command, args []string) error {
	sessions, err := NewClient(GetServerURL()).Sessions(cmd.Context())
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), sessions)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("ID", "Provider", "API Version", "State", "Lost", "Reason", "Created")
	for _, s := range sessions {
		table.Append(
			s.ID,
			orAny(s.Scope.ResourceProvider),
			orAny(s.Scope.APIVersion),
			string(s.State),
			fmt.Sprintf("%v", s.LostResults),
			string(s.FailureReason),
			s.CreatedAt.Format(time.RFC3339),
		)
	}
	table.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal validations: %d\n", len(sessions))
	return nil
}

func printSession(w io.Writer, s models.Session) {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	table.Append("ID", s.ID)
	table.Append("Resource Provider", orAny(s.Scope.ResourceProvider))
	table.Append("API Version", orAny(s.Scope.APIVersion))
	table.Append("Repository", s.Source.RepoURL)
	if s.Source.Branch != "" {
		table.Append("Branch", s.Source.Branch)
	}
	if s.DurationSeconds != nil {
		table.Append("Duration", fmt.Sprintf("%ds", *s.DurationSeconds))
	}
	table.Append("State", string(s.State))
	table.Append("Created At", s.CreatedAt.Format(time.RFC3339))
	if s.TerminatedAt != nil {
		table.Append("Terminated At", s.TerminatedAt.Format(time.RFC3339))
	}
	if s.LostResults {
		table.Append("Lost Results", "true")
	}
	if s.FailureReason != "" {
		table.Append("Failure Reason", string(s.FailureReason))
	}
	table.Render()
}

func printResults(w io.Writer, rows []models.ResultRow) {
	table := tablewriter.NewWriter(w)
	table.Header("Operation", "Count", "Success", "Rate", "Request OK", "Response OK")
	for _, row := range rows {
		rate := "-"
		if row.SuccessRate != nil {
			rate = fmt.Sprintf("%.2f%%", *row.SuccessRate)
		}
		table.Append(
			row.RowKey,
			fmt.Sprintf("%d", row.OperationCount),
			fmt.Sprintf("%d", row.SuccessCount),
			rate,
			fmt.Sprintf("%d", row.SuccessRequestCount),
			fmt.Sprintf("%d", row.SuccessResponseCount),
		)
	}
	table.Render()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orAny(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
