package link

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"gps-station/internal/pipeline"
)

type natsConn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes tracking objects as JSON on "<subject>.<imei>".
type NATSPublisher struct {
	conn    natsConn
	subject string
	close   func()
}

func DialNATS(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("gps-station"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSPublisher{
		conn:    nc,
		subject: subject,
		close:   func() { _ = nc.Drain() },
	}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Subject(imei string) string {
	return p.subject + "." + imei
}

func (p *NATSPublisher) Publish(_ context.Context, tr *pipeline.TrackingObject) error {
	data, err := pipeline.ToJSON(tr)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(tr.IMEI), data)
}

func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}
