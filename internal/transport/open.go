package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrConnect = errors.New("transport: remote connection failed")

// Remote is one connected thread of a remote target.
type Remote struct {
	Target    Target
	Index     int
	Transport Transport
}

// OpenOptions carries the per-scheme settings used by Open.
type OpenOptions struct {
	TCP TCPOptions
	SSH SSHOptions
}

// Open establishes one connection per declared thread of every target,
// in parallel. Any failure closes everything already opened and returns
// an error wrapping ErrConnect.
func Open(ctx context.Context, targets []Target, opts OpenOptions) ([]Remote, error) {
	total := 0
	for _, t := range targets {
		total += t.Threads
	}
	remotes := make([]Remote, total)

	g, gctx := errgroup.WithContext(ctx)
	i := 0
	for _, target := range targets {
		for idx := 0; idx < target.Threads; idx++ {
			slot := i
			target := target
			idx := idx
			remotes[slot] = Remote{Target: target, Index: idx}
			g.Go(func() error {
				tr, err := dial(gctx, target, opts)
				if err != nil {
					return fmt.Errorf("%w: %s thread %d: %v", ErrConnect, target, idx, err)
				}
				remotes[slot].Transport = tr
				return nil
			})
			i++
		}
	}
	if err := g.Wait(); err != nil {
		CloseAll(remotes)
		return nil, err
	}
	log.Info().Int("targets", len(targets)).Int("connections", total).Msg("transport: remotes connected")
	return remotes, nil
}

func dial(ctx context.Context, target Target, opts OpenOptions) (Transport, error) {
	switch target.Scheme {
	case SchemeSSH:
		return DialSSH(ctx, target.Address(), target.User, opts.SSH)
	default:
		return DialTCP(ctx, target.Address(), opts.TCP)
	}
}

// CloseAll closes every opened transport, logging close errors.
func CloseAll(remotes []Remote) {
	for _, r := range remotes {
		if r.Transport == nil {
			continue
		}
		if err := r.Transport.Close(); err != nil {
			log.Warn().Err(err).Str("target", r.Target.String()).Int("index", r.Index).Msg("transport: close failed")
		}
	}
}
