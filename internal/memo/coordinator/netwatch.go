package coordinator

import (
	"context"
	"time"
)

// Pinger reports whether a remote answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MonitorNetwork polls p every interval and calls onChange when reachability flips. The first
// probe always reports. It blocks until ctx is done.
func MonitorNetwork(ctx context.Context, p Pinger, interval time.Duration, onChange func(online bool)) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval / 2

	var known, last bool
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		online := p.Ping(pctx) == nil
		cancel()
		if ctx.Err() != nil {
			return
		}
		if !known || online != last {
			known, last = true, online
			onChange(online)
		}
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// WatchNetwork runs MonitorNetwork against the coordinator's remote, feeding SetOnline, until ctx
// is done. It returns immediately when there is no remote.
func (c *Coordinator) WatchNetwork(ctx context.Context, interval time.Duration) {
	if c.remote == nil {
		return
	}
	MonitorNetwork(ctx, c.remote, interval, c.SetOnline)
}
