package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gps-station/internal/link"
	"gps-station/internal/registry"
)

// PendingSource lists commands waiting for a device.
type PendingSource interface {
	PendingCommands(ctx context.Context, deviceID string) ([]link.Command, error)
}

// Poller periodically pulls pending commands for every connected device.
type Poller struct {
	source     PendingSource
	devices    *registry.Registry
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
}

func NewPoller(source PendingSource, devices *registry.Registry, d *Dispatcher, interval time.Duration, lg *slog.Logger) *Poller {
	return &Poller{
		source:     source,
		devices:    devices,
		dispatcher: d,
		interval:   interval,
		logger:     lg.With("component", "poller"),
	}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.Poll(ctx); n > 0 {
				p.logger.Info("pending commands delivered", "count", n)
			}
		}
	}
}

// Poll runs one round and returns how many commands reached a device.
// Commands that cannot be sent stay pending in the backend for the next round.
func (p *Poller) Poll(ctx context.Context) int {
	if n := p.dispatcher.Prune(); n > 0 {
		p.logger.Debug("rate state dropped for disconnected devices", "count", n)
	}

	var delivered atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, imei := range p.devices.Devices() {
		g.Go(func() error {
			cmds, err := p.source.PendingCommands(gctx, imei)
			if err != nil {
				p.logger.Warn("pending commands unavailable", "imei", imei, "err", err)
				return nil
			}
			for _, c := range cmds {
				err := p.dispatcher.Deliver(gctx, c)
				switch {
				case err == nil:
					delivered.Add(1)
				case errors.Is(err, ErrRateLimited), errors.Is(err, ErrNoLiveConnection):
					p.logger.Debug("command deferred", "imei", imei, "command_id", c.ID, "err", err)
				default:
					p.logger.Warn("command not delivered", "imei", imei, "command_id", c.ID, "err", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}
