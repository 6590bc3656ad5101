package dispatch

import (
	"context"
	"time"

	"github.com/danmuck/pars/internal/observability"
	"github.com/rs/zerolog/log"
)

// execute drains line through slot's transport. It reports retire=true when
// the transport broke and the slot must not take more lines.
func (d *Dispatcher) execute(ctx context.Context, slot *Slot, line *Line) (retire bool) {
	line.state = StateRunning
	for i, cmd := range line.Commands {
		if !d.policy.AllowContinue(d.term.Failed()) {
			line.state = StateHalted
			break
		}

		start := time.Now()
		res, err := slot.Transport.Execute(ctx, cmd)
		elapsed := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				line.state = StateHalted
				break
			}
			log.Error().
				Err(err).
				Str("slot", slot.String()).
				Uint64("line", line.Seq).
				Int("subcommand", i).
				Msg("dispatch: transport failed, retiring slot")
			observability.RecordSubCommand(slot.Kind.String(), false, elapsed)
			observability.RecordSlotRetired(slot.Kind.String())
			line.state = StateAborted
			d.fail()
			return true
		}
		observability.RecordSubCommand(slot.Kind.String(), res.Success, elapsed)

		line.output = append(line.output, res.Lines()...)
		if !res.Success {
			log.Debug().
				Str("slot", slot.String()).
				Uint64("line", line.Seq).
				Str("command", cmd).
				Int32("exit_code", res.ExitCode).
				Bytes("stderr", res.Stderr).
				Msg("dispatch: sub-command failed")
			line.state = StateAborted
			d.fail()
			break
		}
	}
	if line.state == StateRunning {
		line.state = StateCompleted
	}
	return false
}
