package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"gps-station/internal/codec"
	"gps-station/internal/link"
	"gps-station/internal/observability"
	"gps-station/internal/protocol"
	"gps-station/internal/registry"
)

// Uplink receives every decoded record.
type Uplink interface {
	Forward(ctx context.Context, loc *codec.Location) (*link.Command, error)
}

// Commands delivers a command the backend handed back with an upload.
type Commands interface {
	Deliver(ctx context.Context, cmd link.Command) error
}

type Options struct {
	// IdentifyTimeout bounds the wait for the first bytes of a connection.
	IdentifyTimeout time.Duration
	// IdleTimeout closes a session that sends nothing for this long. Zero disables it.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	// RawLogDir enables the raw traffic journal when set.
	RawLogDir string
}

func (o Options) withDefaults() Options {
	if o.IdentifyTimeout <= 0 {
		o.IdentifyTimeout = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

type TcpServer struct {
	protocols *protocol.Registry
	devices   *registry.Registry
	uplink    Uplink
	commands  Commands
	logger    *slog.Logger
	opts      Options

	wg sync.WaitGroup
}

// New builds a server. commands may be nil, in which case commands returned
// by the backend are only logged.
func New(protocols *protocol.Registry, devices *registry.Registry, uplink Uplink, commands Commands, lg *slog.Logger, opts Options) *TcpServer {
	return &TcpServer{
		protocols: protocols,
		devices:   devices,
		uplink:    uplink,
		commands:  commands,
		logger:    lg.With("component", "tcp"),
		opts:      opts.withDefaults(),
	}
}

func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("error starting TCP server: %w", err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is cancelled, then waits for every
// session to close. A failing connection never stops the accept loop.
func (srv *TcpServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	srv.logger.Info("TCP server listening", "addr", ln.Addr().String(), "protocols", srv.protocols.Names())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				srv.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				srv.wg.Wait()
				return err
			}
			srv.logger.Error("accept error", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		observability.TCPConnections.Inc()
		srv.wg.Add(1)
		go func(c net.Conn) {
			defer srv.wg.Done()
			srv.HandleConnection(ctx, c)
		}(conn)
	}
}

// HandleConnection identifies the protocol spoken on conn and runs a session
// for it. Unidentified connections are closed without creating a session.
func (srv *TcpServer) HandleConnection(ctx context.Context, conn net.Conn) {
	lg := srv.logger.With("remote", conn.RemoteAddr().String())
	defer func() {
		if rec := recover(); rec != nil {
			observability.Critical(ctx, lg, "connection handler panicked", "panic", fmt.Sprint(rec))
			_ = conn.Close()
		}
	}()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sample, err := srv.readSample(conn)
	if !stop() {
		return
	}
	if err != nil {
		if !errors.Is(err, io.EOF) {
			lg.Warn("no initial bytes", "err", err)
		}
		observability.IdentifyFailures.Inc()
		_ = conn.Close()
		return
	}
	proto, ok := srv.protocols.Match(sample)
	if !ok {
		srv.journal(conn, sample)
		lg.Warn("unidentified connection closed", "sample", codec.BytesToHex(sample))
		observability.IdentifyFailures.Inc()
		_ = conn.Close()
		return
	}

	sess := newSession(srv, conn, proto, io.MultiReader(bytes.NewReader(sample), conn))
	sess.Run(ctx)
}

// readSample performs the single identification read.
func (srv *TcpServer) readSample(conn net.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(srv.opts.IdentifyTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	buf := make([]byte, protocol.SampleSize)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}
