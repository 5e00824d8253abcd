package payments

import (
	"context"
	"sync"
	"time"

	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/storage"
	"github.com/merryworks/magicledger/internal/app/system"
	"github.com/merryworks/magicledger/pkg/logger"
)

// EntryResolver decides what to do with a pending entry that outlived the
// expiry window.
type EntryResolver interface {
	Resolve(ctx context.Context, e ledger.Entry) (done bool, success bool, retryAfter time.Duration, err error)
}

// ExpireResolver fails every stale entry it is asked about. It is the default
// when no provider-side lookup is available.
type ExpireResolver struct{}

func (ExpireResolver) Resolve(context.Context, ledger.Entry) (bool, bool, time.Duration, error) {
	return true, false, 0, nil
}

// ExpiryPoller watches both ledgers for pending entries older than the expiry
// window and resolves them. Unresolvable entries are retried with a per-entry
// backoff schedule.
type ExpiryPoller struct {
	parents  storage.ParentStore
	children storage.ChildStore
	service  *Service
	resolver EntryResolver
	interval time.Duration
	maxAge   time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*ExpiryPoller)(nil)

// NewExpiryPoller constructs the poller. Zero interval and maxAge default to
// one minute and thirty minutes.
func NewExpiryPoller(parents storage.ParentStore, children storage.ChildStore, service *Service, resolver EntryResolver, interval, maxAge time.Duration, log *logger.Logger) *ExpiryPoller {
	if log == nil {
		log = logger.NewDefault("payment-expiry")
	}
	if resolver == nil {
		resolver = ExpireResolver{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &ExpiryPoller{
		parents:     parents,
		children:    children,
		service:     service,
		resolver:    resolver,
		interval:    interval,
		maxAge:      maxAge,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (p *ExpiryPoller) Name() string { return "payment-expiry" }

func (p *ExpiryPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("payment expiry poller started")
	return nil
}

func (p *ExpiryPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *ExpiryPoller) tick(ctx context.Context) {
	cutoff := time.Now().Add(-p.maxAge)

	wallet, err := p.parents.ListPendingWalletEntries(ctx, cutoff)
	if err != nil {
		p.log.WithError(err).Warn("list pending wallet entries failed")
		return
	}
	neighbor, err := p.children.ListPendingNeighborEntries(ctx, cutoff)
	if err != nil {
		p.log.WithError(err).Warn("list pending neighbor entries failed")
		return
	}

	now := time.Now()
	for _, entry := range append(wallet, neighbor...) {
		if !p.shouldAttempt(entry.ID, now) {
			continue
		}

		done, success, retryAfter, err := p.resolver.Resolve(ctx, entry)
		if err != nil {
			p.log.WithError(err).Warnf("resolver error for entry %s", entry.ID)
			p.scheduleNext(entry.ID, retryAfter)
			continue
		}
		if !done {
			p.scheduleNext(entry.ID, retryAfter)
			continue
		}

		if _, err := p.service.Confirm(ctx, entry.CorrelationID, success); err != nil {
			p.log.WithError(err).Warnf("resolve entry %s failed", entry.ID)
			p.scheduleNext(entry.ID, retryAfter)
			continue
		}
		p.log.Infof("pending entry %s resolved (success=%t)", entry.ID, success)
		p.clearSchedule(entry.ID)
	}
}

func (p *ExpiryPoller) shouldAttempt(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.nextAttempt[id]
	return !ok || now.After(next)
}

func (p *ExpiryPoller) scheduleNext(id string, after time.Duration) {
	if after <= 0 {
		after = p.interval
	}
	p.mu.Lock()
	p.nextAttempt[id] = time.Now().Add(after)
	p.mu.Unlock()
}

func (p *ExpiryPoller) clearSchedule(id string) {
	p.mu.Lock()
	delete(p.nextAttempt, id)
	p.mu.Unlock()
}
