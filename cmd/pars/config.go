package main

import (
	"strings"
	"time"

	"github.com/danmuck/pars/internal/config"
	"github.com/danmuck/pars/internal/dispatch"
	"github.com/danmuck/pars/internal/protocol/wire"
	"github.com/danmuck/pars/internal/transport"
)

type fileConfig struct {
	Jobs           int      `toml:"jobs" yaml:"jobs"`
	Remotes        []string `toml:"remotes" yaml:"remotes"`
	Halt           string   `toml:"halt" yaml:"halt"`
	Shell          string   `toml:"shell" yaml:"shell"`
	Token          string   `toml:"token" yaml:"token"`
	Admin          string   `toml:"admin" yaml:"admin"`
	ConnectTimeout string   `toml:"connect_timeout" yaml:"connect_timeout"`
	ExecTimeout    string   `toml:"exec_timeout" yaml:"exec_timeout"`

	TLS           bool   `toml:"tls" yaml:"tls"`
	TLSCA         string `toml:"tls_ca" yaml:"tls_ca"`
	TLSServerName string `toml:"tls_server_name" yaml:"tls_server_name"`
	TLSInsecure   bool   `toml:"tls_insecure" yaml:"tls_insecure"`

	SSH struct {
		User            string `toml:"user" yaml:"user"`
		Key             string `toml:"key" yaml:"key"`
		KnownHosts      string `toml:"known_hosts" yaml:"known_hosts"`
		InsecureHostKey bool   `toml:"insecure_host_key" yaml:"insecure_host_key"`
		Timeout         string `toml:"timeout" yaml:"timeout"`
	} `toml:"ssh" yaml:"ssh"`
}

// runConfig is the resolved pars configuration.
type runConfig struct {
	Jobs    int
	JobsSet bool
	Remotes []string
	Halt    dispatch.HaltPolicy
	Shell   string
	Token   string
	Admin   string
	Wire    wire.Config
	SSH     transport.SSHOptions
}

func defaultRunConfig() runConfig {
	return runConfig{
		Halt:  dispatch.HaltNever,
		Shell: "/bin/sh",
		Wire:  wire.DefaultConfig(),
		SSH:   transport.SSHOptions{Timeout: 10 * time.Second},
	}
}

// localJobs resolves the local slot count: 1 without remotes, 0 with
// remotes, unless set explicitly.
func (c runConfig) localJobs() int {
	if c.JobsSet {
		return c.Jobs
	}
	if len(c.Remotes) > 0 {
		return 0
	}
	return 1
}

func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	var raw fileConfig
	defined, err := config.Load(path, &raw)
	if err != nil {
		return runConfig{}, err
	}

	if defined("jobs") {
		cfg.Jobs = raw.Jobs
		cfg.JobsSet = true
	}
	if defined("remotes") {
		cfg.Remotes = config.Strings(raw.Remotes)
	}
	if defined("halt") {
		halt, err := dispatch.ParseHaltPolicy(raw.Halt)
		if err != nil {
			return runConfig{}, err
		}
		cfg.Halt = halt
	}
	if defined("shell") {
		if v := strings.TrimSpace(raw.Shell); v != "" {
			cfg.Shell = v
		}
	}
	if defined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}
	if defined("admin") {
		cfg.Admin = strings.TrimSpace(raw.Admin)
	}
	if defined("connect_timeout") {
		d, err := config.Duration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return runConfig{}, err
		}
		cfg.Wire.ConnectTimeout = d
	}
	if defined("exec_timeout") {
		d, err := config.Duration("exec_timeout", raw.ExecTimeout)
		if err != nil {
			return runConfig{}, err
		}
		cfg.Wire.ExecTimeout = d
	}

	if defined("tls_ca") {
		cfg.Wire.TLS.CAFile = strings.TrimSpace(raw.TLSCA)
	}
	if defined("tls_server_name") {
		cfg.Wire.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if defined("tls_insecure") {
		cfg.Wire.TLS.InsecureSkipVerify = raw.TLSInsecure
	}
	cfg.Wire.TLS.Enabled = raw.TLS || cfg.Wire.TLS.CAFile != "" || cfg.Wire.TLS.InsecureSkipVerify

	if defined("ssh", "user") {
		cfg.SSH.User = strings.TrimSpace(raw.SSH.User)
	}
	if defined("ssh", "key") {
		cfg.SSH.KeyPath = strings.TrimSpace(raw.SSH.Key)
	}
	if defined("ssh", "known_hosts") {
		cfg.SSH.KnownHostsPath = strings.TrimSpace(raw.SSH.KnownHosts)
	}
	if defined("ssh", "insecure_host_key") {
		cfg.SSH.InsecureSkipHostKeyChecking = raw.SSH.InsecureHostKey
	}
	if defined("ssh", "timeout") {
		d, err := config.Duration("ssh.timeout", raw.SSH.Timeout)
		if err != nil {
			return runConfig{}, err
		}
		cfg.SSH.Timeout = d
	}

	return cfg, nil
}
