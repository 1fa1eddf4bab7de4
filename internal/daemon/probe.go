package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	intsync "github.com/couriermsg/courier/internal/sync"
)

const (
	defaultProbeInterval = 10 * time.Second
	probeTimeout         = 5 * time.Second
)

// HealthChecker reports whether the remote message service is
// reachable. Satisfied by transport.HTTPClient.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Probe polls the remote health endpoint and feeds the answer to the
// sync engine's connectivity flag. The engine ignores repeated
// answers, so the probe reports every tick without deduping.
type Probe struct {
	checker  HealthChecker
	engine   *intsync.Engine
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewProbe(checker HealthChecker, engine *intsync.Engine, logger *zap.Logger, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &Probe{checker: checker, engine: engine, logger: logger, interval: interval}
}

// Start launches the probe loop. The first probe fires immediately so
// the daemon does not spend a full interval offline after boot.
func (p *Probe) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	p.logger.Info("connectivity probe started", zap.Duration("interval", p.interval))
	go p.loop(ctx)
}

// Stop halts the probe loop. Safe to call more than once.
func (p *Probe) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Probe) loop(ctx context.Context) {
	p.check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Probe) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	p.engine.SetOnline(p.checker.Healthy(probeCtx))
}
