package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gps-station/internal/codec"
	"gps-station/internal/observability"
	"gps-station/internal/protocol"
)

// State is the lifecycle stage of a session.
type State int32

const (
	Identifying State = iota
	Active
	Terminated
)

func (s State) String() string {
	switch s {
	case Identifying:
		return "identifying"
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrSessionClosed is returned by Send once the session is terminated.
var ErrSessionClosed = errors.New("session closed")

// Session owns one identified device connection. The read loop runs on a
// single goroutine; Send may be called from any goroutine.
type Session struct {
	ID string

	srv    *TcpServer
	conn   net.Conn
	reader *bufio.Reader
	proto  protocol.Protocol
	logger *slog.Logger

	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once

	// owned by the read loop
	exceptionCounter int
	threshold        int
	deviceIMEI       string
	totalSent        int
}

func newSession(srv *TcpServer, conn net.Conn, proto protocol.Protocol, r io.Reader) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:        id,
		srv:       srv,
		conn:      conn,
		reader:    bufio.NewReaderSize(r, codec.MaxASCIILen),
		proto:     proto,
		threshold: proto.ExceptionThreshold(),
		logger: srv.logger.With(
			"session", id,
			"remote", conn.RemoteAddr().String(),
			"protocol", proto.Name(),
		),
	}
	s.state.Store(int32(Identifying))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Send writes one frame to the device. Writes from concurrent callers never interleave.
func (s *Session) Send(ctx context.Context, frame []byte) error {
	if s.State() == Terminated {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.srv.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("write to %s: %w", s.RemoteAddr(), err)
	}
	return nil
}

// Run drives the session until the peer leaves, the exception threshold is
// reached, an unexpected error occurs or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	s.state.Store(int32(Active))
	observability.ActiveSessions.Inc()
	s.logger.Info("session started")

	stop := context.AfterFunc(ctx, s.closeConn)
	defer stop()

	reason := s.loop(ctx)
	s.terminate(reason)
}

func (s *Session) loop(ctx context.Context) string {
	for {
		if s.srv.opts.IdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.opts.IdleTimeout))
		}

		frame, err := s.proto.ReadFrame(s.reader)
		if err != nil {
			return s.readFailure(ctx, err)
		}
		s.srv.journal(s.conn, frame)

		if err := s.handleFrame(ctx, frame); err != nil {
			s.exceptionCounter++
			observability.Critical(ctx, s.logger, "unexpected error, closing session",
				"err", err, "exceptions", s.exceptionCounter, "frame", codec.BytesToHex(frame))
			return "unexpected error"
		}

		if s.exceptionCounter >= s.threshold {
			observability.ThresholdTrips.Inc()
			observability.Critical(ctx, s.logger, "exception threshold reached, closing session",
				"imei", s.deviceIMEI, "exceptions", s.exceptionCounter, "threshold", s.threshold)
			return "exception threshold"
		}
	}
}

func (s *Session) readFailure(ctx context.Context, err error) string {
	var netErr net.Error
	switch {
	case ctx.Err() != nil:
		return "shutdown"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "peer closed"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "idle timeout"
	case errors.Is(err, net.ErrClosed):
		return "connection closed"
	default:
		s.logger.Warn("read error", "err", err)
		return "read error"
	}
}

// handleFrame returns an error only for failures that must end the session.
// Protocol-level failures are counted and swallowed.
func (s *Session) handleFrame(ctx context.Context, frame []byte) error {
	start := time.Now()
	loc, err := s.safeDecode(frame)
	observability.ObserveDecodeLatency(start)

	if err != nil {
		if codec.IsRecoverable(err) {
			s.exceptionCounter++
			observability.DecodeErrors.WithLabelValues(errorKind(err)).Inc()
			s.logger.Warn("could not decode record",
				"err", err, "exceptions", s.exceptionCounter, "threshold", s.threshold)
			return nil
		}
		observability.DecodeErrors.WithLabelValues("unexpected").Inc()
		return err
	}

	observability.PacketsDecoded.WithLabelValues(string(loc.Mode)).Inc()
	s.accept(ctx, loc)
	return nil
}

func (s *Session) safeDecode(frame []byte) (loc *codec.Location, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			loc, err = nil, fmt.Errorf("decoder panic: %v", rec)
		}
	}()
	return s.proto.Decode(frame)
}

// accept forwards a decoded record, binds the device to this session and
// answers the device.
func (s *Session) accept(ctx context.Context, loc *codec.Location) {
	cmd, err := s.srv.uplink.Forward(ctx, loc)
	if err == nil {
		s.totalSent++
		observability.RecordsForwarded.Inc()
	}

	switch {
	case s.deviceIMEI == "":
		s.deviceIMEI = loc.DeviceSerialNumber
		s.logger = s.logger.With("imei", s.deviceIMEI)
	case s.deviceIMEI != loc.DeviceSerialNumber:
		s.logger.Warn("record from another serial on this connection", "serial", loc.DeviceSerialNumber)
	}
	s.srv.devices.Register(s.deviceIMEI, s)

	if ack := s.proto.Ack(loc); ack != nil {
		if err := s.Send(ctx, ack); err != nil {
			s.logger.Warn("ack write failed", "err", err)
		}
	}

	s.logger.Debug("record processed", "mode", loc.Mode, "total_sent", s.totalSent)

	if cmd == nil {
		return
	}
	if s.srv.commands == nil {
		s.logger.Info("backend returned a command but no dispatcher is configured", "command_id", cmd.ID)
		return
	}
	if err := s.srv.commands.Deliver(ctx, *cmd); err != nil {
		s.logger.Warn("pending command not delivered", "command_id", cmd.ID, "err", err)
	}
}

// closeConn closes the socket exactly once: write side first so the device
// sees a FIN, then the descriptor.
func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Terminated))
		if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		_ = s.conn.Close()
	})
}

func (s *Session) terminate(reason string) {
	s.closeConn()
	if s.deviceIMEI != "" {
		s.srv.devices.Remove(s.deviceIMEI, s)
	}
	observability.ActiveSessions.Dec()
	s.logger.Info("session closed",
		"reason", reason, "total_sent", s.totalSent, "exceptions", s.exceptionCounter)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, codec.ErrBadProtocol):
		return "bad_protocol"
	case errors.Is(err, codec.ErrEncoding):
		return "encoding"
	default:
		return "decode"
	}
}
