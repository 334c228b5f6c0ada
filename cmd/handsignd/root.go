package main

import (
	"strings"

	"github.com/danmuck/handsign/internal/observability"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	transport  string
	listenAddr string
	statusAddr string
	classify   bool
	autoReply  bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "handsignd",
		Short: "Receive hand-sign images over a point-to-point link and classify them",
		Long: `handsignd accepts one peer at a time over RFCOMM (or TCP for local testing),
reads images terminated by the ASCII marker END, rotates them 180 degrees,
optionally classifies them against a 29-label alphabet model and replies with
"Result: <label>, Confidence: <c>".`,
		Example: `  # Serve over bluetooth with defaults
  handsignd

  # Serve over loopback TCP with classification and replies
  handsignd --config cmd/handsignd/ex.config.toml --transport tcp --classify --auto-reply`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			observability.InitLogger("handsignd")

			cfg := defaultDaemonConfig()
			if p := strings.TrimSpace(flags.configPath); p != "" {
				loaded, err := loadDaemonConfig(p)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if err := applyFlags(cmd, flags, &cfg); err != nil {
				return err
			}
			log.Info().
				Str("service", cfg.Identity.Name).
				Str("transport", cfg.Transport).
				Bool("classify", cfg.Session.Classify).
				Bool("auto_reply", cfg.Session.AutoReply).
				Msg("handsignd: starting")
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().StringVar(&flags.transport, "transport", "", "listener backend: rfcomm or tcp")
	cmd.Flags().StringVar(&flags.listenAddr, "listen", "", "tcp listen address")
	cmd.Flags().StringVar(&flags.statusAddr, "status-addr", "", "status HTTP address (empty string disables)")
	cmd.Flags().BoolVar(&flags.classify, "classify", false, "classify each decoded image")
	cmd.Flags().BoolVar(&flags.autoReply, "auto-reply", false, "write the result line back after classification")

	return cmd
}

// applyFlags overlays explicitly set flags on the file config.
func applyFlags(cmd *cobra.Command, flags rootFlags, cfg *daemonConfig) error {
	fs := cmd.Flags()
	if fs.Changed("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(flags.transport))
	}
	if fs.Changed("listen") {
		cfg.ListenAddr = strings.TrimSpace(flags.listenAddr)
	}
	if fs.Changed("status-addr") {
		cfg.StatusAddr = strings.TrimSpace(flags.statusAddr)
	}
	if fs.Changed("classify") {
		cfg.Session.Classify = flags.classify
	}
	if fs.Changed("auto-reply") {
		cfg.Session.AutoReply = flags.autoReply
	}
	return cfg.validate()
}
