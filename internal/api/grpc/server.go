package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/arkilian/bulkindex/internal/bulk"
	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/internal/observability"
	"github.com/arkilian/bulkindex/internal/server"
)

// ShardServer serves a local shard store over gRPC.
type ShardServer struct {
	cluster   bulk.Cluster
	admission *server.AdmissionController
	logger    *zap.Logger
}

var _ ShardServiceServer = (*ShardServer)(nil)

// NewShardServer creates a server for cluster. A nil admission controller
// admits every request.
func NewShardServer(cluster bulk.Cluster, admission *server.AdmissionController, logger *zap.Logger) *ShardServer {
	return &ShardServer{
		cluster:   cluster,
		admission: admission,
		logger:    observability.OrNop(logger),
	}
}

// BulkWrite handles one bulk write. Requests over the node's admission
// limit are rejected with ResourceExhausted and a retry delay.
func (s *ShardServer) BulkWrite(ctx context.Context, req *bulk.Request) (*BulkWriteResponse, error) {
	if req.Partition == "" {
		return nil, status.Error(codes.InvalidArgument, "partition is required")
	}

	if s.admission != nil {
		if !s.admission.TryAcquire() {
			return nil, retryStatus(codes.ResourceExhausted, "node is at its bulk write limit", s.admission.RetryAfter())
		}
	}

	results, err := s.cluster.BulkWrite(ctx, req)
	if s.admission != nil {
		s.admission.Release(err == nil)
	}
	if err != nil {
		s.logger.Warn("bulk write failed",
			zap.String("request_id", extractRequestID(ctx)),
			zap.String("partition", req.Partition),
			zap.Int("items", len(req.Items)),
			zap.Error(err))
		return nil, toStatus(err)
	}

	return &BulkWriteResponse{Results: results}, nil
}

// CreatePartitions creates partitions of a table.
func (s *ShardServer) CreatePartitions(ctx context.Context, req *CreatePartitionsRequest) (*CreatePartitionsResponse, error) {
	if req.Table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}
	if len(req.Names) == 0 {
		return nil, status.Error(codes.InvalidArgument, "names must not be empty")
	}

	if err := s.cluster.CreatePartitions(ctx, req.Table, req.Names); err != nil {
		s.logger.Warn("partition creation failed",
			zap.String("request_id", extractRequestID(ctx)),
			zap.String("table", req.Table),
			zap.Strings("partitions", req.Names),
			zap.Error(err))
		return nil, toStatus(err)
	}
	return &CreatePartitionsResponse{}, nil
}

// ShutdownInterceptor rejects requests once shutdown has begun and tracks
// in-flight ones so shutdown can drain them.
func ShutdownInterceptor(sm *server.ShutdownManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !sm.TrackRequest() {
			return nil, status.Error(codes.Unavailable, "node is shutting down")
		}
		defer sm.UntrackRequest()
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call at debug level.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = observability.OrNop(logger)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.String("request_id", extractRequestID(ctx)),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("elapsed", time.Since(start)))
		return resp, err
	}
}

// toStatus maps a store error to a gRPC status. Retryable write errors
// become Unavailable so clients retry them.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case bulkerr.IsRetryable(err):
		return retryStatus(codes.Unavailable, err.Error(), bulkerr.RetryAfter(err))
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func retryStatus(code codes.Code, msg string, delay time.Duration) error {
	st := status.New(code, msg)
	if delay <= 0 {
		return st.Err()
	}
	detailed, err := st.WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(delay)})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(requestIDMetadataKey); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
