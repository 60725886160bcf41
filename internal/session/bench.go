package session

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// WarmupBudget is the longest warm-up pass after which the timed benchmark
// still runs.
const WarmupBudget = 5 * time.Second

// Parameters of the timed benchmark pass.
const (
	benchPP = 512
	benchTG = 128
	benchPL = 1
	benchNR = 3
)

// WarmupAbortMessage is appended when the warm-up exceeds WarmupBudget.
const WarmupAbortMessage = "Warm up took too long, aborting benchmark"

// Bench runs a warm-up pass with the given parameters, reports its wall
// time, and runs the fixed timed pass unless the warm-up exceeded
// WarmupBudget. All results go to the transcript; a failure is also
// returned.
func (c *Coordinator) Bench(ctx context.Context, pp, tg, pl, nr int) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.cancelTurn()
	if nr <= 0 {
		nr = 1
	}

	start := c.now()
	warm, err := c.router.Bench(ctx, pp, tg, pl, nr)
	if err != nil {
		return c.benchFailed(err)
	}
	elapsed := c.now().Sub(start)
	c.Log(warm)
	c.Log(fmt.Sprintf("Warm up time: %s seconds, please wait...", strconv.FormatFloat(elapsed.Seconds(), 'f', -1, 64)))
	if elapsed > WarmupBudget {
		c.log.Warn().Dur("warmup", elapsed).Msg("benchmark aborted")
		c.Log(WarmupAbortMessage)
		return nil
	}

	res, err := c.router.Bench(ctx, benchPP, benchTG, benchPL, benchNR)
	if err != nil {
		return c.benchFailed(err)
	}
	c.Log(res)
	c.log.Info().Dur("warmup", elapsed).Msg("benchmark finished")
	return nil
}

func (c *Coordinator) benchFailed(err error) error {
	c.log.Error().Err(err).Msg("benchmark failed")
	c.Log(err.Error())
	return err
}
