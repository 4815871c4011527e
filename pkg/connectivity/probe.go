package connectivity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/syncq/pkg/logger"
)

// Pinger checks whether the remote authority is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe periodically pings the remote authority and mirrors the result into
// a Flag.
type Probe struct {
	pinger   Pinger
	flag     *Flag
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// NewProbe creates a probe. Non-positive durations fall back to 5s interval
// and 2s timeout.
func NewProbe(p Pinger, flag *Flag, interval, timeout time.Duration) *Probe {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Probe{
		pinger:   p,
		flag:     flag,
		interval: interval,
		timeout:  timeout,
		log:      logger.Named("probe"),
	}
}

// Run checks once immediately, then on every tick until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check pings once and updates the flag.
func (p *Probe) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(pingCtx)
	online := err == nil
	if !online && p.flag.Online() {
		p.log.Debug().Err(err).Msg("Remote unreachable")
	}
	p.flag.Set(online)
	return online
}
