package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"folio/internal/gather/history"
)

// Client calls folio.v1.PriceSync.
type Client struct {
	conn grpc.ClientConnInterface
	own  *grpc.ClientConn
}

// Dial creates a client for the service at addr over an insecure channel.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn, own: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.own == nil {
		return nil
	}
	return c.own.Close()
}

// RunSync triggers a sync on the server and returns its summary.
func (c *Client) RunSync(ctx context.Context) (*history.Summary, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, RunSyncMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var sum history.Summary
	if err := fromStruct(out, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// SyncStatus returns per-ticker coverage and the last run.
func (c *Client) SyncStatus(ctx context.Context) (*StatusReply, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, SyncStatusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var reply StatusReply
	if err := fromStruct(out, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
