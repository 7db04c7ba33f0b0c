// Command wearlink bridges a BLE wearable to application clients over a
// local WebSocket gateway.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/wearlink/internal/config"
)

var (
	version = "dev"

	cfgPath string
	backend string
)

func main() {
	root := &cobra.Command{
		Use:           "wearlink",
		Short:         "Bridge a BLE wearable to local app clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: ~/.config/wearlink/config.yaml)")
	root.PersistentFlags().StringVar(&backend, "backend", "", "device backend override: radio or sim")

	root.AddCommand(serveCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(credentialsCmd())
	root.AddCommand(initCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config from --config, or falls back to the default
// config path, or uses built-in defaults. The result is validated and the
// default slog logger is installed at the configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	if backend != "" {
		cfg.BLE.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))
	return cfg, nil
}

func readConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.Load(cfgPath)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wearlink %s\n", version)
		},
	}
}
