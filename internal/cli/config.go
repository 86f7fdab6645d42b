package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/rshare/internal/config"
)

// ConfigOptions holds flags for the config command.
type ConfigOptions struct {
	*RootOptions
	Config string
}

// ConfigResult is the JSON form of the effective configuration.
type ConfigResult struct {
	InlineTransferLimit int    `json:"inline_transfer_limit"`
	SizeCeiling         int64  `json:"size_ceiling"`
	GateTimeout         string `json:"gate_timeout"`
	PingInterval        string `json:"ping_interval"`
	HandshakeTimeout    string `json:"handshake_timeout"`
	RequestTimeout      string `json:"request_timeout"`
	RetryCount          int    `json:"retry_count"`
	RetryDelay          string `json:"retry_delay"`
	BootstrapFile       string `json:"bootstrap_file"`
	LogLevel            string `json:"log_level"`
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration a run would use: the built-in defaults with the
--config overlay (YAML or CUE) merged over them.

Examples:
  rshare config
  rshare config --config ./rshare.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if out.JSON() {
				return out.Success(ConfigResult{
					InlineTransferLimit: cfg.InlineTransferLimit,
					SizeCeiling:         cfg.SizeCeiling,
					GateTimeout:         cfg.GateTimeout.String(),
					PingInterval:        cfg.PingInterval.String(),
					HandshakeTimeout:    cfg.HandshakeTimeout.String(),
					RequestTimeout:      cfg.RequestTimeout.String(),
					RetryCount:          cfg.RetryCount,
					RetryDelay:          cfg.RetryDelay.String(),
					BootstrapFile:       cfg.BootstrapFile,
					LogLevel:            string(cfg.LogLevel),
				})
			}
			data, err := cfg.YAML()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to render config", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration overlay (.yaml or .cue)")
	return cmd
}
