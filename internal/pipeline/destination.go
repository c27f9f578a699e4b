// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"regexp"
	"time"

	"github.com/juanmitaboada/redismultiplexer/internal/admission"
	"github.com/juanmitaboada/redismultiplexer/internal/config"
	"github.com/juanmitaboada/redismultiplexer/internal/filter"
	"github.com/juanmitaboada/redismultiplexer/internal/link"
	"github.com/juanmitaboada/redismultiplexer/internal/obs"
	"go.uber.org/zap"
)

// destination bundles one client's connection, filter and admission
// state, the Go equivalent of spec.md §4.B's RedisLink tuple.
type destination struct {
	name        string
	link        *link.Link
	filter      *filter.Spec
	admission   *admission.Controller
	deletedSeen int64
}

// newController builds the admission.Controller for one client, wiring its
// Link in as the Prober.
func newController(c config.ClientConfig, l *link.Link, log *zap.Logger) *admission.Controller {
	return admission.New(c.Name, c.Limits, l, log)
}

func buildFilterSpec(cfg config.FilterConfig) (*filter.Spec, error) {
	if cfg.Regex == "" {
		return nil, nil
	}
	re, err := regexp.Compile(cfg.Regex)
	if err != nil {
		return nil, err
	}
	return &filter.Spec{
		Regex:   re,
		Until:   []byte(cfg.Until),
		Limit:   cfg.Limit,
		Replace: []byte(cfg.Replace),
		HasRepl: cfg.HasRepl,
	}, nil
}

// deletedDelta returns the number of items this destination trimmed since
// the last call, for folding into the worker's per-tick Statistics delta.
func (d *destination) deletedDelta() int64 {
	total := d.admission.DeletedTotal()
	delta := total - d.deletedSeen
	d.deletedSeen = total
	return delta
}

// attempt runs one destination's filter + admission + push for an item
// already accepted by the source-level filter. It reports whether the
// destination ended up accepting the item.
func (d *destination) attempt(ctx context.Context, now time.Time, data []byte) bool {
	res := filter.Apply(d.filter, data)
	if !res.Sent() {
		return false
	}
	allowed, err := d.admission.Allow(ctx, now)
	if err != nil || !allowed {
		return false
	}
	pushStart := time.Now()
	err = d.link.Push(ctx, res.Data)
	obs.PushDuration.Observe(time.Since(pushStart).Seconds())
	if err != nil {
		return false
	}
	return true
}
