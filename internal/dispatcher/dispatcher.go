package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gps-station/internal/link"
	"gps-station/internal/observability"
	"gps-station/internal/registry"
)

var (
	ErrNoLiveConnection = errors.New("device has no live connection")
	ErrRateLimited      = errors.New("command rate exceeded for device")
	ErrDailyLimit       = errors.New("daily command limit reached for device")
	ErrUnknownCommand   = errors.New("unknown command")
)

// Completer acknowledges delivered backend commands.
type Completer interface {
	MarkCommandComplete(ctx context.Context, id link.CommandID) error
}

// Quota counts commands per device per day.
type Quota interface {
	IncDailyCmdCounter(ctx context.Context, imei, cmd string, limit int) (bool, int64, error)
	RefundDailyCmdCounter(ctx context.Context, imei, cmd string) error
}

type Options struct {
	// Rate is the sustained number of commands per second per device.
	Rate  float64
	Burst int
	// DailyLimit is enforced through Quota when both are set.
	DailyLimit int
	Quota      Quota
}

// Dispatcher writes commands to live device sessions. It never waits for a
// device to connect: absent devices fail fast with ErrNoLiveConnection.
type Dispatcher struct {
	devices   *registry.Registry
	completer Completer
	opts      Options
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(devices *registry.Registry, completer Completer, lg *slog.Logger, opts Options) *Dispatcher {
	if opts.Rate <= 0 {
		opts.Rate = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Dispatcher{
		devices:   devices,
		completer: completer,
		opts:      opts,
		logger:    lg.With("component", "dispatcher"),
		now:       time.Now,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (d *Dispatcher) limiter(imei string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[imei]
	if !ok {
		if len(d.limiters) >= 2*d.devices.Len()+16 {
			d.pruneLocked()
		}
		l = rate.NewLimiter(rate.Limit(d.opts.Rate), d.opts.Burst)
		d.limiters[imei] = l
	}
	return l
}

// Prune drops the rate state of devices that are no longer connected.
func (d *Dispatcher) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pruneLocked()
}

func (d *Dispatcher) pruneLocked() int {
	n := 0
	for imei := range d.limiters {
		if _, live := d.devices.Lookup(imei); !live {
			delete(d.limiters, imei)
			n++
		}
	}
	return n
}

// Deliver sends a command handed out by the backend.
func (d *Dispatcher) Deliver(ctx context.Context, c link.Command) error {
	return d.Send(ctx, FromBackend(c))
}

// Send writes cmd to its device and, for backend commands, marks it complete.
func (d *Dispatcher) Send(ctx context.Context, cmd Command) error {
	lg := d.logger.With("imei", cmd.DeviceID, "cmd", cmd.Name())

	downlink, ok := d.devices.Lookup(cmd.DeviceID)
	if !ok {
		return fmt.Errorf("%s: %w", cmd.DeviceID, ErrNoLiveConnection)
	}

	frame, err := cmd.Frame(d.now())
	if err != nil {
		return err
	}

	now := d.now()
	token := d.limiter(cmd.DeviceID).ReserveN(now, 1)
	if !token.OK() || token.DelayFrom(now) > 0 {
		token.CancelAt(now)
		return fmt.Errorf("%s: %w", cmd.DeviceID, ErrRateLimited)
	}

	var daily int64
	counted := false
	if d.opts.Quota != nil && d.opts.DailyLimit > 0 {
		allowed, count, err := d.opts.Quota.IncDailyCmdCounter(ctx, cmd.DeviceID, cmd.Name(), d.opts.DailyLimit)
		if err != nil {
			lg.Warn("daily quota unavailable, sending anyway", "err", err)
		} else if !allowed {
			token.CancelAt(now)
			return fmt.Errorf("%s: %w", cmd.DeviceID, ErrDailyLimit)
		}
		daily, counted = count, err == nil
	}

	if err := downlink.Send(ctx, frame); err != nil {
		lg.Error("command send failed", "remote", downlink.RemoteAddr(), "err", err)
		// nothing reached the device, so it is not charged for the attempt
		token.CancelAt(now)
		if counted {
			if rerr := d.opts.Quota.RefundDailyCmdCounter(ctx, cmd.DeviceID, cmd.Name()); rerr != nil {
				lg.Warn("daily quota refund failed", "err", rerr)
			}
		}
		return err
	}
	observability.CommandsSent.WithLabelValues(cmd.Name()).Inc()
	lg.Info("command sent", "remote", downlink.RemoteAddr(), "command_id", cmd.ID, "daily", daily)

	if cmd.ID == "" || d.completer == nil {
		return nil
	}
	if err := d.completer.MarkCommandComplete(ctx, cmd.ID); err != nil {
		return fmt.Errorf("command %s sent but not marked complete: %w", cmd.ID, err)
	}
	return nil
}
