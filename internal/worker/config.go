package worker

import (
	"errors"
	"strings"

	"github.com/danmuck/pars/internal/protocol/wire"
)

var ErrListenAddrRequired = errors.New("worker: listen address required")

// Config is the parsd runtime configuration.
type Config struct {
	ListenAddr string
	AdminAddr  string
	Shell      string
	Token      string
	Version    string
	Wire       wire.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":7878",
		Shell:      "/bin/sh",
		Wire:       wire.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrListenAddrRequired
	}
	return c.Wire.ValidateServer()
}
