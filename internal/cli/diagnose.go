package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rshare/internal/diag"
)

// DiagnoseOptions holds flags for the diagnose command.
type DiagnoseOptions struct {
	*RootOptions
	Name    string
	Message string
	Status  int
	Network bool
}

// DiagnoseResult is the output of the diagnose command.
type DiagnoseResult struct {
	Descriptor diag.Descriptor `json:"descriptor"`
	Findings   []diag.Finding  `json:"findings"`
}

// NewDiagnoseCommand creates the diagnose command.
func NewDiagnoseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiagnoseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Explain an error with the diagnostic rules",
		Long: `Run the diagnostic rule table against an error description, as the
engine does for critical and execution errors.

Examples:
  rshare diagnose --name ReferenceError --message "jQuery is not defined"
  rshare diagnose --message "Failed to fetch" --status 503`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := diag.Descriptor{
				Name:    opts.Name,
				Message: opts.Message,
				Status:  opts.Status,
				Network: opts.Network || opts.Status > 0,
				CORS:    strings.Contains(opts.Message, "CORS"),
			}
			findings := diag.Diagnose(d)
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if out.JSON() {
				if findings == nil {
					findings = []diag.Finding{}
				}
				return out.Success(DiagnoseResult{Descriptor: d, Findings: findings})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), renderFindings(findings))
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "Error", "error name, e.g. TypeError")
	cmd.Flags().StringVar(&opts.Message, "message", "", "error message (required)")
	_ = cmd.MarkFlagRequired("message")
	cmd.Flags().IntVar(&opts.Status, "status", 0, "HTTP status of a failed fetch")
	cmd.Flags().BoolVar(&opts.Network, "network", false, "the error came from the network layer")
	return cmd
}
