package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Start launches the periodic gossip loop and, when configured, the
// compaction janitor. Rounds fire on a ticker independent of client
// calls; each round's messages go to the Sender without waiting for any
// acknowledgment. Start is not reentrant.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	interval := e.gossip.Config().Interval
	stop, done := e.stop, e.done
	e.mu.Unlock()

	var janitor *cron.Cron
	if e.cfg.CompactionSchedule != "" {
		janitor = cron.New(cron.WithSeconds())
		if _, err := janitor.AddFunc(e.cfg.CompactionSchedule, func() { e.Compact() }); err != nil {
			e.mu.Lock()
			e.started = false
			e.mu.Unlock()
			return err
		}
		janitor.Start()
		slog.Info("compaction janitor started", "schedule", e.cfg.CompactionSchedule)
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		slog.Info("gossip loop started", "node_id", e.cfg.NodeID, "interval", interval)

		for {
			select {
			case <-ctx.Done():
				e.haltJanitor(janitor)
				return
			case <-stop:
				e.haltJanitor(janitor)
				return
			case <-ticker.C:
				e.runRound(ctx)
			}
		}
	}()
	return nil
}

// Stop halts the gossip loop and janitor and waits for them to exit.
// Safe to call once per Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done
	slog.Info("gossip loop stopped", "node_id", e.cfg.NodeID)
}

func (e *Engine) haltJanitor(janitor *cron.Cron) {
	if janitor == nil {
		return
	}
	<-janitor.Stop().Done()
}

// runRound snapshots a round under the lock, then sends outside it so a
// slow peer never stalls the engine. Send outcomes feed peer trust.
func (e *Engine) runRound(ctx context.Context) {
	envs := e.Sync()
	if e.sender == nil {
		return
	}
	for _, env := range envs {
		if err := e.sender.Send(ctx, env); err != nil {
			e.sendErrors.Add(ctx, 1)
			slog.Warn("gossip send failed", "peer_id", env.To, "error", err)
			e.reportSend(env.To, false)
			continue
		}
		e.reportSend(env.To, true)
	}
}

func (e *Engine) reportSend(peer string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ok {
		e.detector.ReportSuccess(peer)
	} else {
		e.detector.ReportFailure(peer)
	}
}
