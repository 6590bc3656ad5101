package main

import (
	"strings"

	"github.com/danmuck/pars/internal/config"
	"github.com/danmuck/pars/internal/worker"
)

type fileConfig struct {
	Listen           string `toml:"listen" yaml:"listen"`
	Admin            string `toml:"admin" yaml:"admin"`
	Shell            string `toml:"shell" yaml:"shell"`
	Token            string `toml:"token" yaml:"token"`
	HandshakeTimeout string `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     string `toml:"write_timeout" yaml:"write_timeout"`
	TLSCert          string `toml:"tls_cert" yaml:"tls_cert"`
	TLSKey           string `toml:"tls_key" yaml:"tls_key"`
}

func loadWorkerConfig(path string) (worker.Config, error) {
	cfg := worker.DefaultConfig()

	var raw fileConfig
	defined, err := config.Load(path, &raw)
	if err != nil {
		return worker.Config{}, err
	}

	if defined("listen") {
		cfg.ListenAddr = strings.TrimSpace(raw.Listen)
	}
	if defined("admin") {
		cfg.AdminAddr = strings.TrimSpace(raw.Admin)
	}
	if defined("shell") {
		if v := strings.TrimSpace(raw.Shell); v != "" {
			cfg.Shell = v
		}
	}
	if defined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}
	if defined("handshake_timeout") {
		d, err := config.Duration("handshake_timeout", raw.HandshakeTimeout)
		if err != nil {
			return worker.Config{}, err
		}
		cfg.Wire.HandshakeTimeout = d
	}
	if defined("write_timeout") {
		d, err := config.Duration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return worker.Config{}, err
		}
		cfg.Wire.WriteTimeout = d
	}
	if defined("tls_cert") {
		cfg.Wire.TLS.CertFile = strings.TrimSpace(raw.TLSCert)
	}
	if defined("tls_key") {
		cfg.Wire.TLS.KeyFile = strings.TrimSpace(raw.TLSKey)
	}
	cfg.Wire.TLS.Enabled = cfg.Wire.TLS.CertFile != "" || cfg.Wire.TLS.KeyFile != ""

	return cfg, nil
}
