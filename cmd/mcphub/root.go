package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jg-phare/mcphub/pkg/config"
)

const defaultConfigPath = "server_config.json"

// rootCmd builds the CLI. Flags are mirrored into viper so every option can
// also come from the environment (MCPHUB_CONFIG, MCPHUB_LOG_LEVEL,
// MCPHUB_TIMEOUT).
func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcphub",
		Short: "Hub for stdio JSON-RPC tool servers",
		Long: `mcphub spawns the servers named in a configuration file, speaks
line-delimited JSON-RPC over their stdio, and routes commands and tool
calls to one server, a named group, or all of them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := config.ParseLogLevel(viper.GetString("log-level"))
			if err != nil {
				return err
			}
			slog.SetDefault(config.NewLogger(level))
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	root.PersistentFlags().String("config", defaultConfigPath, "server configuration file (JSON or YAML)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().Duration("timeout", 0, "per-command deadline (0 uses the built-in default)")

	viper.SetEnvPrefix("MCPHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(root.PersistentFlags())

	root.AddCommand(
		serversCmd(),
		sendCmd(),
		toolsCmd(),
		callCmd(),
		schemaCmd(),
		runCmd(),
	)
	return root
}
