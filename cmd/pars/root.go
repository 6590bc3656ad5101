package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/pars/internal/dispatch"
	"github.com/danmuck/pars/internal/observability"
	"github.com/danmuck/pars/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitFatal   = 2
)

var (
	errFailureObserved = errors.New("pars: a sub-command failed")
	errNegativeJobs    = errors.New("pars: --jobs must be >= 0")
)

// execute runs pars with args and returns the process exit status.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdin, stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errFailureObserved):
		return exitFailure
	default:
		fmt.Fprintf(stderr, "pars: %v\n", err)
		return exitFatal
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var (
		configPath string
		jobs       int
		remotes    []string
		halt       dispatch.HaltPolicy
		token      string
		admin      string
	)

	cmd := &cobra.Command{
		Use:   "pars",
		Short: "Run each input line's ;-separated commands on a pool of local and remote slots",
		Long: `pars reads commands from stdin, one line at a time, and runs every line on
the next idle slot. A line's sub-commands run in order on one slot; its stdout
is written as one block once the line finishes.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := defaultRunConfig()
			if configPath != "" {
				loaded, err := loadRunConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			flags := cmd.Flags()
			if flags.Changed("jobs") {
				cfg.Jobs = jobs
				cfg.JobsSet = true
			}
			if flags.Changed("remote") {
				cfg.Remotes = remotes
			}
			if flags.Changed("halt") {
				cfg.Halt = halt
			}
			if flags.Changed("token") {
				cfg.Token = strings.TrimSpace(token)
			}
			if flags.Changed("admin") {
				cfg.Admin = strings.TrimSpace(admin)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := run(ctx, cfg, stdin, stdout)
			if err != nil {
				return err
			}
			if summary.Failed {
				return errFailureObserved
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "TOML or YAML config file")
	flags.IntVarP(&jobs, "jobs", "J", 1, "local slots (default 1 without remotes, 0 with remotes)")
	flags.StringArrayVarP(&remotes, "remote", "r", nil, "remote target [tcp://|ssh://[user@]]host:port/threads (repeatable)")
	flags.Var(&halt, "halt", "halt policy: never, lazy or eager")
	flags.StringVar(&token, "token", "", "shared token presented to parsd workers")
	flags.StringVar(&admin, "admin", "", "serve /health and /metrics on this address")
	return cmd
}

// run connects every remote, builds the slot pool and dispatches stdin.
// Connection failures are fatal and happen before any input is read.
func run(ctx context.Context, cfg runConfig, stdin io.Reader, stdout io.Writer) (dispatch.Summary, error) {
	jobs := cfg.localJobs()
	if jobs < 0 {
		return dispatch.Summary{}, errNegativeJobs
	}

	targets := make([]transport.Target, 0, len(cfg.Remotes))
	for _, raw := range cfg.Remotes {
		target, err := transport.ParseTarget(raw)
		if err != nil {
			return dispatch.Summary{}, err
		}
		targets = append(targets, target)
	}

	remotes, err := transport.Open(ctx, targets, transport.OpenOptions{
		TCP: transport.TCPOptions{Wire: cfg.Wire, Token: cfg.Token},
		SSH: cfg.SSH,
	})
	if err != nil {
		return dispatch.Summary{}, err
	}
	defer transport.CloseAll(remotes)

	slots := dispatch.LocalSlots(jobs, transport.NewLocal(cfg.Shell))
	slots = append(slots, dispatch.RemoteSlots(remotes)...)
	d, err := dispatch.New(slots, cfg.Halt)
	if err != nil {
		return dispatch.Summary{}, err
	}

	if cfg.Admin != "" {
		adminCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		router := observability.NewAdminRouter(observability.AdminOptions{
			Node:    "pars",
			Version: version,
		})
		go func() {
			if err := observability.ServeAdmin(adminCtx, cfg.Admin, router); err != nil {
				log.Error().Err(err).Str("addr", cfg.Admin).Msg("pars: admin server failed")
			}
		}()
	}

	pool := make([]string, 0, len(d.Slots()))
	for _, s := range d.Slots() {
		pool = append(pool, s.String())
	}
	log.Info().
		Int("local", jobs).
		Int("remote", len(remotes)).
		Strs("slots", pool).
		Str("halt", d.Policy().String()).
		Msg("pars: starting")
	return d.Run(ctx, stdin, stdout)
}
