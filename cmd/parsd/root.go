package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/pars/internal/worker"
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		admin      string
		shell      string
		token      string
	)

	cmd := &cobra.Command{
		Use:           "parsd",
		Short:         "Remote worker that runs pars sub-commands",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, configPath, listen, admin, shell, token)
			if err != nil {
				return err
			}
			s, err := worker.New(cfg, nil)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return s.Run(ctx)
		},
	}

	defaults := worker.DefaultConfig()
	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "TOML or YAML config file")
	flags.StringVar(&listen, "listen", defaults.ListenAddr, "framed protocol listen address")
	flags.StringVar(&admin, "admin", "", "serve /health, /ready and /metrics on this address")
	flags.StringVar(&shell, "shell", defaults.Shell, "shell used to run sub-commands")
	flags.StringVar(&token, "token", "", "shared token required in hello frames")
	return cmd
}

// resolveConfig loads the config file, then applies explicitly set flags.
func resolveConfig(cmd *cobra.Command, path, listen, admin, shell, token string) (worker.Config, error) {
	cfg := worker.DefaultConfig()
	if path != "" {
		loaded, err := loadWorkerConfig(path)
		if err != nil {
			return worker.Config{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = strings.TrimSpace(listen)
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = strings.TrimSpace(admin)
	}
	if flags.Changed("shell") {
		cfg.Shell = strings.TrimSpace(shell)
	}
	if flags.Changed("token") {
		cfg.Token = strings.TrimSpace(token)
	}
	cfg.Version = version
	return cfg, nil
}
