// Copyright 2025 James Ross
package supervisor

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/juanmitaboada/redismultiplexer/internal/arbiter"
	"github.com/juanmitaboada/redismultiplexer/internal/config"
	"github.com/juanmitaboada/redismultiplexer/internal/obs"
	"github.com/juanmitaboada/redismultiplexer/internal/pipeline"
	"github.com/juanmitaboada/redismultiplexer/internal/stats"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Supervisor owns the arbiter and the worker pool, wiring them together the
// way cmd/job-queue-system/main.go wires producer/worker/reaper, adapted
// from "one goroutine per role" to "one arbiter plus N identical workers."
type Supervisor struct {
	cfg *config.Config
	log *zap.Logger
}

// New constructs a Supervisor for a validated configuration.
func New(cfg *config.Config, log *zap.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, log: log}
}

// Run compiles the shared regexes once (fatal-at-boot on failure per
// spec.md §4.F), spawns the arbiter and the configured number of workers,
// and blocks until ctx is cancelled and every worker has drained and
// exited. It removes the pid file as its last act.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := validateRegexes(s.cfg); err != nil {
		return fmt.Errorf("fatal: malformed regex at boot: %w", err)
	}

	if err := writePidFile(s.cfg.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer removePidFile(s.cfg.Pid)

	bufferTime := time.Duration(s.cfg.Ordering.BufferTime) * time.Second
	sizeCh := make(chan *int, 8)
	arb := arbiter.New(bufferTime, sizeCh, s.log)
	reqCh := arb.Requests()

	agg := stats.New(s.log, s.cfg.Status, time.Duration(config.StatisticsSeconds)*time.Second)
	for _, c := range s.cfg.Clients {
		agg.RegisterDestination(c.Name, c.Channel)
	}

	go arb.Run()
	go func() {
		for n := range sizeCh {
			if n == nil {
				return
			}
			agg.SetBufferSize(*n)
		}
	}()

	statCh := make(chan stats.Delta, s.cfg.Children*4)
	shutdownCh := make(chan struct{})
	workerDone := make(chan int, s.cfg.Children)

	pipelines := make([]*pipeline.Pipeline, 0, s.cfg.Children)
	for i := 0; i < s.cfg.Children; i++ {
		p, err := pipeline.New(i, s.cfg, s.log, reqCh, statCh, shutdownCh)
		if err != nil {
			return fmt.Errorf("fatal: worker %d: %w", i, err)
		}
		pipelines = append(pipelines, p)
	}
	s.log.Info("topology resolved",
		zap.Int("workers", s.cfg.Children),
		zap.Int("destinations", len(s.cfg.Clients)),
		zap.String("mode", s.cfg.Mode),
	)
	if dump, err := yaml.Marshal(s.cfg); err == nil {
		s.log.Debug("resolved configuration", zap.String("yaml", string(dump)))
	}

	obs.WorkersActive.Set(float64(len(pipelines)))
	for i, p := range pipelines {
		id := i
		pp := p
		go func() {
			pp.Run()
			workerDone <- id
		}()
	}

	return s.supervise(ctx, agg, statCh, shutdownCh, workerDone, arb)
}

// supervise drains the statistics channel, periodically rolls up and
// reports statistics, and coordinates the drain-then-exit shutdown
// sequence described in spec.md §4.F.
func (s *Supervisor) supervise(ctx context.Context, agg *stats.Aggregator, statCh <-chan stats.Delta, shutdownCh chan struct{}, workerDone <-chan int, arb *arbiter.Arbiter) error {
	tickerWindow := time.Duration(config.StatisticsSeconds) * time.Second
	ticker := time.NewTicker(tickerWindow)
	defer ticker.Stop()

	children := s.cfg.Children
	joined := make(map[int]bool, children)
	finishedWorkers := make(map[int]bool, children)
	shuttingDown := false
	nudge := time.NewTicker(time.Second)
	defer nudge.Stop()

	ctxDone := ctx.Done()
	beginShutdown := func() {
		if shuttingDown {
			return
		}
		shuttingDown = true
		ctxDone = nil // stop selecting on a channel that stays ready forever
		s.log.Info("shutdown requested, draining")
		arb.Shutdown(true)
		close(shutdownCh)
	}

	for {
		select {
		case <-ctxDone:
			beginShutdown()

		case d, ok := <-statCh:
			if !ok {
				continue
			}
			agg.Apply(d)
			if d.Finished {
				finishedWorkers[d.WorkerID] = true
				if !shuttingDown {
					s.log.Error("worker finished before shutdown was requested, forcing shutdown", zap.Int("worker", d.WorkerID))
					beginShutdown()
				}
			}

		case id, ok := <-workerDone:
			if !ok {
				continue
			}
			joined[id] = true
			obs.WorkersActive.Set(float64(children - len(joined)))
			if !shuttingDown {
				s.log.Error("worker exited unexpectedly, forcing shutdown", zap.Int("worker", id))
			}
			beginShutdown()
			if len(joined) == children {
				arb.Shutdown(false)
				s.log.Info("all workers joined, arbiter exiting")
				return nil
			}

		case <-nudge.C:
			if shuttingDown && len(joined) < children {
				s.log.Info("waiting for workers to finish", zap.Int("remaining", children-len(joined)))
			}

		case <-ticker.C:
			agg.Tick(time.Now())
		}
	}
}

// validateRegexes compiles every regex the configuration names, surfacing
// malformed patterns before any worker goroutine is spawned.
func validateRegexes(cfg *config.Config) error {
	if cfg.Filter.Regex != "" {
		if _, err := regexp.Compile(cfg.Filter.Regex); err != nil {
			return fmt.Errorf("filter: %w", err)
		}
	}
	if cfg.Ordering.Regex != "" {
		if _, err := regexp.Compile(cfg.Ordering.Regex); err != nil {
			return fmt.Errorf("ordering: %w", err)
		}
		if !strings.Contains(cfg.Ordering.Regex, "(?P<ts>") {
			return fmt.Errorf("ordering: regex must contain a named capture \"ts\"")
		}
	}
	for i, c := range cfg.Clients {
		if c.Filter.Regex != "" {
			if _, err := regexp.Compile(c.Filter.Regex); err != nil {
				return fmt.Errorf("clients[%d].filter: %w", i, err)
			}
		}
	}
	return nil
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func removePidFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
