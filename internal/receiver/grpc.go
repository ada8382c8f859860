package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/fidde/log_anomaly_detector/internal/ingest"
	"github.com/fidde/log_anomaly_detector/internal/metrics"
	"github.com/fidde/log_anomaly_detector/internal/storage"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCReceiver handles OTLP gRPC requests.
type GRPCReceiver struct {
	collogspb.UnimplementedLogsServiceServer
	store     storage.Storage
	converter *ingest.LogsConverter
	logger    *slog.Logger
	server    *grpc.Server
	addr      string
}

// NewGRPCReceiver creates a new gRPC receiver.
func NewGRPCReceiver(addr string, store storage.Storage, logger *slog.Logger) *GRPCReceiver {
	if logger == nil {
		logger = slog.Default()
	}

	r := &GRPCReceiver{
		store:     store,
		converter: ingest.NewLogsConverter(),
		logger:    logger.With("receiver", "otlp_grpc"),
		addr:      addr,
	}

	r.server = grpc.NewServer()
	collogspb.RegisterLogsServiceServer(r.server, r)

	// Register reflection service for debugging with grpcurl
	reflection.Register(r.server)

	return r
}

// Start starts the gRPC server.
func (r *GRPCReceiver) Start() error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return r.Serve(lis)
}

// Serve accepts connections on lis until Shutdown is called.
func (r *GRPCReceiver) Serve(lis net.Listener) error {
	r.logger.Info("OTLP gRPC receiver listening", "addr", lis.Addr().String())
	return r.server.Serve(lis)
}

// Shutdown gracefully shuts down the gRPC server.
func (r *GRPCReceiver) Shutdown(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		r.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		r.server.Stop()
		return ctx.Err()
	}
}

// Export implements the LogsService Export RPC.
func (r *GRPCReceiver) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	events, err := r.converter.Convert(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "failed to convert logs: %v", err)
	}

	if err := r.store.StoreEvents(ctx, events); err != nil {
		r.logger.Error("storing events failed", "error", err)
		return nil, status.Errorf(codes.Internal, "failed to store events: %v", err)
	}
	metrics.RecordIngest(metrics.SourceOTLPGRPC, len(events))

	return &collogspb.ExportLogsServiceResponse{
		PartialSuccess: &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: 0,
		},
	}, nil
}
