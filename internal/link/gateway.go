package link

import (
	"context"
	"log/slog"
	"time"

	"gps-station/internal/codec"
	"gps-station/internal/observability"
	"gps-station/internal/pipeline"
)

// Sink receives a copy of every decoded record besides the backend. Sinks are
// best effort: a failing sink is logged and never affects the session.
type Sink interface {
	Name() string
	Publish(ctx context.Context, tr *pipeline.TrackingObject) error
}

// Gateway is the uplink used by sessions: the HTTP backend first, then every sink.
type Gateway struct {
	client *Client
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewGateway(client *Client, lg *slog.Logger, sinks ...Sink) *Gateway {
	return &Gateway{
		client: client,
		sinks:  sinks,
		logger: lg.With("component", "link"),
		now:    time.Now,
	}
}

// Forward stores loc in the backend and fans it out to the sinks. A non-201
// answer is reported to the caller and not retried; the next record is independent.
func (g *Gateway) Forward(ctx context.Context, loc *codec.Location) (*Command, error) {
	cmd, err := g.client.PostLocation(ctx, loc)
	if err != nil {
		observability.UplinkErrors.WithLabelValues("backend").Inc()
		g.logger.Error("backend rejected location",
			"imei", loc.DeviceSerialNumber, "err", err)
	}

	if len(g.sinks) > 0 {
		tr := pipeline.BuildTracking(loc, g.now())
		for _, s := range g.sinks {
			if serr := s.Publish(ctx, tr); serr != nil {
				observability.UplinkErrors.WithLabelValues(s.Name()).Inc()
				g.logger.Warn("sink publish failed", "sink", s.Name(), "imei", tr.IMEI, "err", serr)
			}
		}
	}
	return cmd, err
}

func (g *Gateway) PendingCommands(ctx context.Context, deviceID string) ([]Command, error) {
	return g.client.PendingCommands(ctx, deviceID)
}

func (g *Gateway) MarkCommandComplete(ctx context.Context, id CommandID) error {
	return g.client.MarkCommandComplete(ctx, id)
}
