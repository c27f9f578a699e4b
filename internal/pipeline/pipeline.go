// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/juanmitaboada/redismultiplexer/internal/arbiter"
	"github.com/juanmitaboada/redismultiplexer/internal/config"
	"github.com/juanmitaboada/redismultiplexer/internal/filter"
	"github.com/juanmitaboada/redismultiplexer/internal/item"
	"github.com/juanmitaboada/redismultiplexer/internal/link"
	"github.com/juanmitaboada/redismultiplexer/internal/stats"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	popTimeout     = 1 * time.Second
	reconnectPause = 1 * time.Second
	statsInterval  = 1 * time.Second
)

// Pipeline is one of the identical, independent worker pipelines described
// in spec.md §4.E, grounded on internal/worker.Worker's per-goroutine loop
// shape but replacing BRPOPLPUSH-into-processing-list semantics with
// BLPOP-from-source-then-fan-out-to-destinations semantics.
type Pipeline struct {
	id     int
	cfg    *config.Config
	log    *zap.Logger
	reqCh  chan<- arbiter.Request
	statCh chan<- stats.Delta

	sourceFilter  *filter.Spec
	orderingRegex *regexp.Regexp
	orderingLimit int

	shutdown <-chan struct{}
	clock    func() time.Time
}

// New constructs a Pipeline. reqCh is the arbiter's shared request
// channel; statCh is the supervisor's MPSC statistics channel; shutdown is
// closed by the supervisor to begin the drain-then-exit sequence.
func New(id int, cfg *config.Config, log *zap.Logger, reqCh chan<- arbiter.Request, statCh chan<- stats.Delta, shutdown <-chan struct{}) (*Pipeline, error) {
	srcFilter, err := buildFilterSpec(cfg.Filter)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		id: id, cfg: cfg, log: log, reqCh: reqCh, statCh: statCh,
		sourceFilter: srcFilter, shutdown: shutdown, clock: time.Now,
	}
	if cfg.Ordering.Regex != "" {
		re, err := regexp.Compile(cfg.Ordering.Regex)
		if err != nil {
			return nil, err
		}
		p.orderingRegex = re
		p.orderingLimit = cfg.Ordering.Limit
	}
	return p, nil
}

// Run executes the worker loop until the shutdown channel closes and the
// arbiter buffer has been fully drained. Redis operations use a background
// context rather than a caller-supplied one: shutdown is purely cooperative
// (the shutdown channel), since BLPOP's own 1-second timeout already bounds
// the loop, and tying this to a cancellable context would abort an
// in-progress drain before the arbiter buffer empties.
func (p *Pipeline) Run() {
	ctx := context.Background()
	for {
		select {
		case <-p.shutdown:
			return
		default:
		}

		src, dests, err := p.connect(ctx)
		if err != nil {
			p.log.Warn("connection failed, retrying", zap.Int("worker", p.id), zap.Error(err))
			time.Sleep(reconnectPause)
			continue
		}

		if p.runCycle(ctx, src, dests) {
			// shutdown requested and fully drained: exit cleanly
			closeAll(src, dests)
			return
		}
		closeAll(src, dests)
	}
}

func (p *Pipeline) connect(ctx context.Context) (*link.Link, []*destination, error) {
	src := link.Dial("source", link.Coordinates{
		Hostname: p.cfg.Source.Hostname, Port: p.cfg.Source.Port,
		Password: p.cfg.Source.Password, SSL: p.cfg.Source.SSL, Channel: p.cfg.Source.Channel,
	})
	if err := src.Ping(ctx); err != nil {
		_ = src.Close()
		return nil, nil, err
	}

	dests := make([]*destination, 0, len(p.cfg.Clients))
	for _, c := range p.cfg.Clients {
		l := link.Dial(c.Name, link.Coordinates{
			Hostname: c.Hostname, Port: c.Port, Password: c.Password, SSL: c.SSL, Channel: c.Channel,
		})
		if err := l.Ping(ctx); err != nil {
			_ = l.Close()
			closeAll(src, dests)
			return nil, nil, err
		}
		fspec, err := buildFilterSpec(c.Filter)
		if err != nil {
			closeAll(src, dests)
			return nil, nil, err
		}
		dests = append(dests, &destination{
			name:      c.Name,
			link:      l,
			filter:    fspec,
			admission: newController(c, l, p.log),
		})
	}
	return src, dests, nil
}

func closeAll(src *link.Link, dests []*destination) {
	if src != nil {
		_ = src.Close()
	}
	for _, d := range dests {
		_ = d.link.Close()
	}
}

// runCycle pops and dispatches items until a fatal I/O error forces a
// reconnect (returns false) or shutdown completes a full drain (returns
// true).
func (p *Pipeline) runCycle(ctx context.Context, src *link.Link, dests []*destination) bool {
	var incoming, outgoing, dropped uint64
	lastTick := p.clock()
	draining := false

	for {
		if !draining {
			select {
			case <-p.shutdown:
				draining = true
			default:
			}
		}

		if draining {
			released := arbiter.Submit(p.reqCh, p.id, nil, nil)
			if len(released) == 0 {
				p.sendDelta(&incoming, &outgoing, &dropped, dests, true)
				return true
			}
			for _, it := range released {
				p.dispatch(ctx, dests, it, &outgoing, &dropped)
			}
			continue
		}

		payload, err := src.BlockingPop(ctx, popTimeout)
		switch {
		case err == redis.Nil:
			released := arbiter.Submit(p.reqCh, p.id, nil, nil)
			for _, it := range released {
				p.dispatch(ctx, dests, it, &outgoing, &dropped)
			}
			for _, d := range dests {
				_ = d.admission.Refresh(ctx, p.clock())
			}
		case err != nil:
			return false
		default:
			incoming++
			data := []byte(payload)
			if !utf8.Valid(data) {
				p.log.Warn("dropping invalid UTF-8 item", zap.Int("worker", p.id))
				dropped++
				break
			}
			var key *item.Key
			if p.orderingRegex != nil {
				if k, ok := item.ExtractKey(p.orderingRegex, p.orderingLimit, data); ok {
					key = &k
				}
			}
			released := arbiter.Submit(p.reqCh, p.id, key, data)
			for _, it := range released {
				p.dispatch(ctx, dests, it, &outgoing, &dropped)
			}
		}

		if p.clock().Sub(lastTick) >= statsInterval {
			p.sendDelta(&incoming, &outgoing, &dropped, dests, false)
			lastTick = p.clock()
		}
	}
}

// dispatch applies the source filter and fans the item out per the
// configured mode.
func (p *Pipeline) dispatch(ctx context.Context, dests []*destination, data []byte, outgoing, dropped *uint64) {
	res := filter.Apply(p.sourceFilter, data)
	if !res.Sent() {
		*dropped++
		return
	}

	var sent bool
	switch p.cfg.Mode {
	case config.ModeSpreader:
		sent = p.spread(ctx, dests, res.Data)
	default:
		sent = p.replicate(ctx, dests, res.Data)
	}
	if sent {
		*outgoing++
	} else {
		*dropped++
	}
}

func (p *Pipeline) replicate(ctx context.Context, dests []*destination, data []byte) bool {
	now := p.clock()
	any := false
	for _, d := range dests {
		if d.attempt(ctx, now, data) {
			any = true
		}
	}
	return any
}

// spread tries destinations in round-robin order, rotating the slice by
// one position after every attempt regardless of outcome, per spec.md §9's
// "do not substitute a sticky-failure policy" open question.
func (p *Pipeline) spread(ctx context.Context, dests []*destination, data []byte) bool {
	now := p.clock()
	n := len(dests)
	for i := 0; i < n; i++ {
		d := dests[0]
		accepted := d.attempt(ctx, now, data)
		rotateLeft(dests)
		if accepted {
			return true
		}
	}
	return false
}

func rotateLeft(dests []*destination) {
	if len(dests) < 2 {
		return
	}
	first := dests[0]
	copy(dests, dests[1:])
	dests[len(dests)-1] = first
}

func (p *Pipeline) sendDelta(incoming, outgoing, dropped *uint64, dests []*destination, finished bool) {
	stuckNames := make([]string, 0)
	var deltaDeleted int64
	for _, d := range dests {
		if d.admission.State().String() == "stuck" {
			stuckNames = append(stuckNames, d.name)
		}
		deltaDeleted += d.deletedDelta()
	}

	p.statCh <- stats.Delta{
		WorkerID: p.id,
		Incoming: *incoming,
		Outgoing: *outgoing,
		Dropped:  *dropped,
		Deleted:  uint64(deltaDeleted),
		Stuck:    stuckNames,
		Finished: finished,
	}
	*incoming, *outgoing, *dropped = 0, 0, 0
}
