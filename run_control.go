// run_control.go - Engine run lifecycle and reset sequencing
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import (
	"sync"
	"time"
)

// RunResult describes one finished engine run.
type RunResult struct {
	Cycles  int
	Entries int
	Elapsed time.Duration
	Reason  StopReason
}

// RunController sequences engine runs. It owns the processor reset
// line: a run releases reset after a short hold, services the bus until
// a stop condition, then reasserts reset so the bus stays quiet between
// runs. Runs execute inline via Run or on their own goroutine via
// Start, with Stop/Wait joining the goroutine form.
type RunController struct {
	ec *EngineContext

	execMu     sync.Mutex
	execDone   chan struct{}
	execActive bool
	lastResult RunResult
}

func NewRunController(ec *EngineContext) *RunController {
	return &RunController{ec: ec}
}

// Engine returns the controller's engine context.
func (rc *RunController) Engine() *EngineContext {
	return rc.ec
}

// releaseReset pulses the processor into its run state.
func (rc *RunController) releaseReset() {
	rc.ec.Port.SetReset(true)
	rc.ec.Clock.Sleep(RESET_HOLD)
	rc.ec.Port.SetReset(false)
}

// Run executes one run to completion on the calling goroutine. A
// recording policy clears the trace log first, so the log afterwards
// holds exactly this run; a non-recording run leaves any previous log
// intact for later transfer.
func (rc *RunController) Run(policy LogPolicy, budget int) RunResult {
	rc.ec.clearStop()
	return rc.runPrepared(policy, budget)
}

// runPrepared is Run minus the stop-flag reset. Start clears the flag
// before its goroutine is launched, so a stop requested right after
// Start returns is never lost.
func (rc *RunController) runPrepared(policy LogPolicy, budget int) RunResult {
	if policy.Logging() {
		rc.ec.Trace.Clear()
	}
	rc.releaseReset()
	start := rc.ec.Clock.Now()
	cycles, reason := rc.ec.run(policy, budget)
	elapsed := rc.ec.Clock.Now().Sub(start)
	rc.ec.Port.SetReset(true)
	res := RunResult{
		Cycles:  cycles,
		Entries: rc.ec.Trace.ValidCount(),
		Elapsed: elapsed,
		Reason:  reason,
	}
	rc.execMu.Lock()
	rc.lastResult = res
	rc.execMu.Unlock()
	return res
}

// Start launches a run on its own goroutine. Starting while a run is
// active is a no-op.
func (rc *RunController) Start(policy LogPolicy, budget int) {
	rc.execMu.Lock()
	defer rc.execMu.Unlock()
	if rc.execActive {
		return
	}
	rc.execActive = true
	rc.execDone = make(chan struct{})
	rc.ec.clearStop()
	go func() {
		rc.runPrepared(policy, budget)
		rc.execMu.Lock()
		rc.execActive = false
		close(rc.execDone)
		rc.execMu.Unlock()
	}()
}

// RequestStop asks an active run to finish after its current
// transaction. Safe to call with no run active.
func (rc *RunController) RequestStop() {
	rc.ec.RequestStop()
}

// Wait blocks until no run is active and returns the most recent
// result.
func (rc *RunController) Wait() RunResult {
	rc.execMu.Lock()
	if !rc.execActive {
		res := rc.lastResult
		rc.execMu.Unlock()
		return res
	}
	done := rc.execDone
	rc.execMu.Unlock()
	<-done
	rc.execMu.Lock()
	res := rc.lastResult
	rc.execMu.Unlock()
	return res
}

// Stop requests a stop and waits for the run to finish.
func (rc *RunController) Stop() RunResult {
	rc.ec.RequestStop()
	return rc.Wait()
}

// Active reports whether a run is in progress.
func (rc *RunController) Active() bool {
	rc.execMu.Lock()
	defer rc.execMu.Unlock()
	return rc.execActive
}
