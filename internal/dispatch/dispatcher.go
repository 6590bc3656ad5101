package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/danmuck/pars/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoSlots     = errors.New("dispatch: pool has no slots")
	ErrWriteOutput = errors.New("dispatch: write output")
)

// Summary describes a finished run.
type Summary struct {
	Lines     int
	Completed int
	Aborted   int
	Halted    int
	Discarded int
	Retired   int
	Failed    bool
}

// Dispatcher feeds input lines to a fixed pool of slots.
type Dispatcher struct {
	policy HaltPolicy
	slots  []*Slot
	queue  *Queue
	term   Termination

	completed atomic.Int64
	aborted   atomic.Int64
	halted    atomic.Int64
	retired   atomic.Int64
	read      atomic.Int64
}

func New(slots []*Slot, policy HaltPolicy) (*Dispatcher, error) {
	if len(slots) == 0 {
		return nil, ErrNoSlots
	}
	for i, s := range slots {
		s.ID = i
	}
	return &Dispatcher{
		policy: policy,
		slots:  slots,
		queue:  NewQueue(),
	}, nil
}

func (d *Dispatcher) Policy() HaltPolicy { return d.policy }

// Slots returns the pool in slot-id order.
func (d *Dispatcher) Slots() []*Slot { return d.slots }

// Run reads lines from in until EOF and writes each finished line's output
// to out. It returns once every slot has gone idle for good. The input
// reader is not waited for: a slot pool halted by policy returns while in
// may still be open.
func (d *Dispatcher) Run(ctx context.Context, in io.Reader, out io.Writer) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := NewSink(out, len(d.slots), func(err error) {
		log.Error().Err(err).Msg("dispatch: output sink failed")
		cancel()
	})
	sink.Start()

	go d.readLines(ctx, in)

	log.Info().
		Int("slots", len(d.slots)).
		Str("halt", d.policy.String()).
		Msg("dispatch: pool started")

	g, gctx := errgroup.WithContext(ctx)
	for _, slot := range d.slots {
		g.Go(func() error {
			d.serve(gctx, slot, sink)
			return nil
		})
	}
	_ = g.Wait()

	discarded := d.queue.Drain()
	werr := sink.Close()

	summary := Summary{
		Lines:     int(d.read.Load()),
		Completed: int(d.completed.Load()),
		Aborted:   int(d.aborted.Load()),
		Halted:    int(d.halted.Load()),
		Discarded: len(discarded),
		Retired:   int(d.retired.Load()),
		Failed:    d.term.Failed(),
	}
	log.Info().
		Int("lines", summary.Lines).
		Int("completed", summary.Completed).
		Int("aborted", summary.Aborted).
		Int("halted", summary.Halted).
		Int("discarded", summary.Discarded).
		Bool("failed", summary.Failed).
		Msg("dispatch: pool drained")
	if werr != nil {
		return summary, fmt.Errorf("%w: %v", ErrWriteOutput, werr)
	}
	return summary, ctx.Err()
}

// serve is one slot's loop: take the next line the policy allows, run it,
// hand it to the sink.
func (d *Dispatcher) serve(ctx context.Context, slot *Slot, sink *Sink) {
	gate := func() bool { return d.policy.AllowDispatch(d.term.Failed()) }
	for {
		line, ok := d.queue.Next(ctx, gate)
		if !ok {
			log.Debug().Str("slot", slot.String()).Msg("dispatch: slot idle for good")
			return
		}
		retire := d.execute(ctx, slot, line)
		d.finish(line)
		sink.Submit(line)
		if retire {
			d.retired.Add(1)
			return
		}
	}
}

func (d *Dispatcher) finish(line *Line) {
	switch line.state {
	case StateCompleted:
		d.completed.Add(1)
	case StateAborted:
		d.aborted.Add(1)
	case StateHalted:
		d.halted.Add(1)
	}
	observability.RecordLine(line.state.String())
}

// fail flips the termination flag. Waiting slots re-check their dispatch
// gate when the policy can refuse work.
func (d *Dispatcher) fail() {
	if !d.term.Fail() {
		return
	}
	observability.RecordFailureObserved()
	log.Debug().Str("halt", d.policy.String()).Msg("dispatch: failure observed")
	if d.policy != HaltNever {
		d.queue.Wake()
	}
}

func (d *Dispatcher) readLines(ctx context.Context, in io.Reader) {
	defer d.queue.Close()
	r := bufio.NewReader(in)
	var seq uint64
	for {
		raw, err := r.ReadString('\n')
		if raw != "" {
			seq++
			if line, ok := ParseLine(seq, raw); ok {
				d.read.Add(1)
				if !d.queue.Push(line) {
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Msg("dispatch: read input")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
