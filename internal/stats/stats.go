// Copyright 2025 James Ross
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/juanmitaboada/redismultiplexer/internal/obs"
	"go.uber.org/zap"
)

// Delta is what a worker pipeline sends to the supervisor every wall-clock
// second, per spec.md §4.E step 4.
type Delta struct {
	WorkerID int
	Incoming uint64
	Outgoing uint64
	Dropped  uint64
	Deleted  uint64
	Stuck    []string // destination names currently in the STUCK state
	Finished bool
}

type totals struct {
	incoming, outgoing, dropped, deleted uint64
}

// Snapshot is the JSON document written to the status file, matching
// spec.md §6's schema exactly.
type Snapshot struct {
	Date         int64   `json:"date"`
	In           float64 `json:"in"`
	Out          float64 `json:"out"`
	Drop         float64 `json:"drop"`
	Deleted      float64 `json:"deleted"`
	TotalIn      uint64  `json:"total_in"`
	TotalOut     uint64  `json:"total_out"`
	TotalDrop    uint64  `json:"total_drop"`
	TotalDeleted uint64  `json:"total_deleted"`
}

// Aggregator rolls up per-worker counters on a tick, grounded on the
// register-then-collect pattern internal/obs/metrics.go uses for
// Prometheus collectors, adapted here into a plain rate-rollup because the
// status file wants rates reset every window rather than monotonic totals.
type Aggregator struct {
	log        *zap.Logger
	statusPath string
	window     time.Duration

	cumulative totals
	sinceLast  totals
	bufferSize int

	destChannel map[string]string
	stuck       map[string]bool
}

// New constructs an Aggregator. statusPath may be empty, in which case
// Tick skips writing the status file.
func New(log *zap.Logger, statusPath string, window time.Duration) *Aggregator {
	return &Aggregator{
		log:         log,
		statusPath:  statusPath,
		window:      window,
		destChannel: make(map[string]string),
		stuck:       make(map[string]bool),
	}
}

// RegisterDestination lets the aggregator render "name:channel" in stuck
// reports.
func (a *Aggregator) RegisterDestination(name, channel string) {
	a.destChannel[name] = channel
}

// Apply folds one worker's delta into the running totals.
func (a *Aggregator) Apply(d Delta) {
	a.cumulative.incoming += d.Incoming
	a.cumulative.outgoing += d.Outgoing
	a.cumulative.dropped += d.Dropped
	a.cumulative.deleted += d.Deleted
	a.sinceLast.incoming += d.Incoming
	a.sinceLast.outgoing += d.Outgoing
	a.sinceLast.dropped += d.Dropped
	a.sinceLast.deleted += d.Deleted

	obs.ItemsIncoming.Add(float64(d.Incoming))
	obs.ItemsOutgoing.Add(float64(d.Outgoing))
	obs.ItemsDropped.Add(float64(d.Dropped))
	obs.ItemsDeleted.Add(float64(d.Deleted))

	for name := range a.stuck {
		a.stuck[name] = false
	}
	for _, name := range d.Stuck {
		a.stuck[name] = true
	}
	for name, isStuck := range a.stuck {
		v := 0.0
		if isStuck {
			v = 1.0
		}
		obs.DestinationStuck.WithLabelValues(name).Set(v)
	}
}

// SetBufferSize records the arbiter's most recently reported buffer size.
func (a *Aggregator) SetBufferSize(n int) {
	a.bufferSize = n
	obs.ArbiterBufferSize.Set(float64(n))
}

// StuckDestinations returns "name:channel" for every destination currently
// marked stuck, sorted for deterministic output.
func (a *Aggregator) StuckDestinations() []string {
	var out []string
	for name, isStuck := range a.stuck {
		if isStuck {
			out = append(out, fmt.Sprintf("%s:%s", name, a.destChannel[name]))
		}
	}
	sort.Strings(out)
	return out
}

// Tick computes rates over the elapsed window, writes the status file
// (when configured) and logs a human-readable line, then resets the
// since-last counters. Call this every STATISTICS_SECONDS.
func (a *Aggregator) Tick(now time.Time) Snapshot {
	secs := a.window.Seconds()
	if secs <= 0 {
		secs = 1
	}
	snap := Snapshot{
		Date:         now.Unix(),
		In:           float64(a.sinceLast.incoming) / secs,
		Out:          float64(a.sinceLast.outgoing) / secs,
		Drop:         float64(a.sinceLast.dropped) / secs,
		Deleted:      float64(a.sinceLast.deleted) / secs,
		TotalIn:      a.cumulative.incoming,
		TotalOut:     a.cumulative.outgoing,
		TotalDrop:    a.cumulative.dropped,
		TotalDeleted: a.cumulative.deleted,
	}
	a.sinceLast = totals{}

	if a.statusPath != "" {
		if err := writeAtomic(a.statusPath, snap); err != nil && a.log != nil {
			a.log.Warn("failed to write status file", zap.Error(err))
		}
	}
	if a.log != nil {
		a.log.Info("statistics",
			zap.Float64("in", snap.In), zap.Float64("out", snap.Out),
			zap.Float64("drop", snap.Drop), zap.Float64("deleted", snap.Deleted),
			zap.Int("buffer", a.bufferSize),
			zap.Strings("stuck", a.StuckDestinations()),
		)
	}
	return snap
}

func writeAtomic(path string, snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".status-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
