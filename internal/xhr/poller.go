package xhr

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5

// Getter is the part of Client the poller needs.
type Getter interface {
	Get(ctx context.Context, method string, params url.Values) (Response, error)
}

// Callback receives each polled answer.
type Callback func(Response, error)

type registration struct {
	interval int
	method   string
	params   url.Values
	cb       Callback
	busy     atomic.Bool
}

// Poller re-issues registered GETs on a one second tick. A registration
// fires when the shared tick is a multiple of its interval and its previous
// request has finished.
type Poller struct {
	client Getter
	period time.Duration

	mu     sync.Mutex
	tick   int
	regs   []*registration
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// inflight counts requests that outlive a Halt.
	inflight sync.WaitGroup
}

type PollerOption func(*Poller)

// WithTickPeriod changes the tick length.
func WithTickPeriod(d time.Duration) PollerOption {
	return func(p *Poller) { p.period = d }
}

func NewPoller(client Getter, opts ...PollerOption) *Poller {
	p := &Poller{client: client, period: time.Second}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Poll registers a request repeated every interval ticks and starts the
// poller if it is not running. Intervals below one become five.
func (p *Poller) Poll(ctx context.Context, interval int, method string, params url.Values, cb Callback) {
	if interval < 1 {
		interval = defaultPollInterval
	}
	p.mu.Lock()
	p.regs = append(p.regs, &registration{interval: interval, method: method, params: params, cb: cb})
	p.mu.Unlock()
	p.Run(ctx)
}

// Run starts ticking. The first round fires immediately. Calling Run on a
// running poller, or one with nothing registered, does nothing. Requests
// use ctx, so cancelling it aborts them; Halt only stops the ticker.
func (p *Poller) Run(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil || len(p.regs) == 0 {
		p.mu.Unlock()
		return
	}
	tickCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.round(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.period)
		defer t.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-t.C:
				p.round(ctx)
			}
		}
	}()
}

// Halt stops ticking. Requests already in flight finish on their own and
// still reach their callbacks; Wait blocks until they have.
func (p *Poller) Halt() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Wait blocks until every request started by the poller has returned and
// its callback has run. Callbacks must not call Wait.
func (p *Poller) Wait() {
	p.inflight.Wait()
}

// Running reports whether the poller is ticking.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) round(ctx context.Context) {
	p.mu.Lock()
	tick := p.tick
	p.tick++
	regs := append([]*registration(nil), p.regs...)
	p.mu.Unlock()

	for _, r := range regs {
		if tick%r.interval != 0 {
			continue
		}
		if !r.busy.CompareAndSwap(false, true) {
			continue
		}
		p.inflight.Add(1)
		go func(r *registration) {
			defer p.inflight.Done()
			defer r.busy.Store(false)
			resp, err := p.client.Get(ctx, r.method, r.params)
			if r.cb != nil {
				r.cb(resp, err)
			}
		}(r)
	}
}
