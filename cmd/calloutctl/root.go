package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/config"
	"github.com/athena-dhcpd/dhcp-callout/internal/logging"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:               "calloutctl",
		Short:             "Attach to, drive and inspect the DHCP callout channel",
		Version:           version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "",
		"path to configuration file (built-in defaults when empty)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "",
		"override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(listenCmd(g))
	cmd.AddCommand(invokeCmd(g))
	cmd.AddCommand(decodeCmd())
	cmd.AddCommand(journalCmd(g))

	return cmd
}

// load reads the configuration and sets up logging on stderr, leaving
// stdout to command output.
func (g *globalFlags) load() (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return nil, nil, err
		}
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	logger := logging.Setup(cfg.Log.Level, os.Stderr)
	return cfg, logger, nil
}

// channelConfig maps configuration onto channel options. Unset object names
// keep their well-known defaults.
func channelConfig(cfg *config.Config, logger *slog.Logger) callout.Config {
	names := callout.DefaultNames()
	if cfg.Channel.SharedMemory != "" {
		names.SharedMemory = cfg.Channel.SharedMemory
	}
	if cfg.Channel.Lock != "" {
		names.Lock = cfg.Channel.Lock
	}
	if cfg.Channel.SendEvent != "" {
		names.SendEvent = cfg.Channel.SendEvent
	}
	if cfg.Channel.ReplyEvent != "" {
		names.ReplyEvent = cfg.Channel.ReplyEvent
	}
	return callout.Config{
		Dir:         cfg.Channel.Dir,
		Names:       names,
		Timeout:     cfg.ChannelTimeout(),
		LockTimeout: cfg.LockTimeout(),
		Logger:      logger,
	}
}
