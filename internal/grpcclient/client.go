package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"gps-station/internal/pipeline"
)

// SendDataMethod is the forwarder RPC. Request and response are google.protobuf.Struct.
const SendDataMethod = "/forwarder.Forwarder/SendData"

// ErrRejected is returned when the forwarder answers without success=true.
var ErrRejected = errors.New("forwarder rejected record")

// GRPCClient forwards tracking objects to a downstream gRPC service.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func NewGRPCClient(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, timeout: 5 * time.Second}, nil
}

func (g *GRPCClient) Close() error {
	return g.conn.Close()
}

func (g *GRPCClient) Name() string { return "grpc" }

func (g *GRPCClient) Publish(ctx context.Context, tr *pipeline.TrackingObject) error {
	req, err := pipeline.ToStruct(tr)
	if err != nil {
		return fmt.Errorf("forwarder request: %w", err)
	}
	return g.SendData(ctx, req)
}

func (g *GRPCClient) SendData(ctx context.Context, req *structpb.Struct) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, SendDataMethod, req, res); err != nil {
		return err
	}
	if !res.GetFields()["success"].GetBoolValue() {
		return ErrRejected
	}
	return nil
}
