// Package rpc exposes price sync control over gRPC as the unary service
// folio.v1.PriceSync. Messages are google.protobuf.Empty requests and
// google.protobuf.Struct replies, so no generated code is required.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"folio/internal/gather/history"
	"folio/internal/provider"
)

// Full method names.
const (
	ServiceName      = "folio.v1.PriceSync"
	RunSyncMethod    = "/" + ServiceName + "/RunSync"
	SyncStatusMethod = "/" + ServiceName + "/SyncStatus"
)

// PriceSyncServer is the server API for folio.v1.PriceSync.
type PriceSyncServer interface {
	RunSync(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SyncStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Syncer runs and reports price-history syncs.
type Syncer interface {
	Sync(ctx context.Context) (*history.Summary, error)
	Status(ctx context.Context) ([]history.TickerStatus, error)
	Last() *history.LastRun
}

// StatusReply is the SyncStatus payload.
type StatusReply struct {
	Tickers []history.TickerStatus `json:"tickers"`
	LastRun *history.LastRun       `json:"last_run,omitempty"`
}

// Server implements PriceSyncServer over a Syncer.
type Server struct {
	syncer Syncer
	log    *slog.Logger
}

var _ PriceSyncServer = (*Server)(nil)

// NewServer creates a gRPC service backed by syncer.
func NewServer(syncer Syncer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{syncer: syncer, log: log.With("component", "rpc")}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// RunSync runs one sync and returns its summary.
func (s *Server) RunSync(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	sum, err := s.syncer.Sync(ctx)
	if err != nil {
		s.log.Error("sync failed", "error", err)
		return nil, toStatus(err)
	}
	return toStruct(sum)
}

// SyncStatus reports per-ticker coverage and the last run.
func (s *Server) SyncStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	tickers, err := s.syncer.Status(ctx)
	if err != nil {
		s.log.Error("sync status", "error", err)
		return nil, status.Error(codes.Internal, "failed to compute sync status")
	}
	return toStruct(StatusReply{Tickers: tickers, LastRun: s.syncer.Last()})
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, provider.ErrMissingCredentials):
		return status.Error(codes.FailedPrecondition, "market data credentials are not configured")
	case errors.Is(err, history.ErrSyncInProgress):
		return status.Error(codes.Aborted, "a price sync is already running")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "price sync timed out; it is safe to retry")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "price sync was cancelled")
	default:
		return status.Error(codes.Internal, "price sync failed")
	}
}

// toStruct converts a JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding reply: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding reply: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding reply: %v", err)
	}
	return out, nil
}

// fromStruct decodes a protobuf Struct into a JSON-tagged value.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PriceSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunSync", Handler: runSyncHandler},
		{MethodName: "SyncStatus", Handler: syncStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "folio/v1/price_sync.proto",
}

func runSyncHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PriceSyncServer).RunSync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunSyncMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PriceSyncServer).RunSync(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func syncStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PriceSyncServer).SyncStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SyncStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PriceSyncServer).SyncStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
