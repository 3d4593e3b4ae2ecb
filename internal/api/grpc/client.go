package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arkilian/bulkindex/internal/bulk"
	bulkerr "github.com/arkilian/bulkindex/internal/errors"
)

// ClientConfig configures a shard node client.
type ClientConfig struct {
	// Target is the node address, e.g. "localhost:9090".
	Target string `json:"target" yaml:"target"`

	// CallTimeout bounds every call that has no earlier deadline (default: 30s).
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

// Client talks to a remote shard node. It implements bulk.Cluster.
type Client struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
}

var _ bulk.Cluster = (*Client)(nil)

// NewClient creates a client for cfg.Target. Extra dial options are applied
// after the defaults.
func NewClient(cfg ClientConfig, opts ...grpc.DialOption) (*Client, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("grpc client: target is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client: failed to create connection to %s: %w", cfg.Target, err)
	}
	return &Client{conn: conn, callTimeout: cfg.CallTimeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// BulkWrite sends one bulk request to the node.
func (c *Client) BulkWrite(ctx context.Context, req *bulk.Request) ([]bulk.ItemResult, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	var resp BulkWriteResponse
	if err := c.conn.Invoke(callCtx, bulkWriteMethod, req, &resp); err != nil {
		return nil, fromStatus(ctx, err, "bulk write")
	}
	if len(resp.Results) != len(req.Items) {
		return nil, bulkerr.NewInternalError(
			fmt.Sprintf("node returned %d results for %d items", len(resp.Results), len(req.Items)), nil)
	}
	return resp.Results, nil
}

// CreatePartitions asks the node to create partitions of table.
func (c *Client) CreatePartitions(ctx context.Context, table string, names []string) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req := &CreatePartitionsRequest{Table: table, Names: names}
	if err := c.conn.Invoke(callCtx, createPartitionsMethod, req, &CreatePartitionsResponse{}); err != nil {
		return fromStatus(ctx, err, "create partitions")
	}
	return nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, uuid.NewString())
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// fromStatus maps a call error onto the write path taxonomy. Overload and
// unavailability are retryable and carry the server's retry delay. A
// timeout or cancellation of the caller's context is returned as its error.
func fromStatus(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	st, ok := status.FromError(err)
	if !ok {
		return bulkerr.NewRetryableWriteError(bulkerr.CodeUnavailable, op+" failed", err)
	}

	switch st.Code() {
	case codes.ResourceExhausted:
		return bulkerr.NewRetryableWriteError(bulkerr.CodeRejected, op+" rejected by node", err).
			WithRetryAfter(retryDelay(st))
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return bulkerr.NewRetryableWriteError(bulkerr.CodeUnavailable, op+" failed: node unavailable", err).
			WithRetryAfter(retryDelay(st))
	default:
		return bulkerr.NewInternalError(op+" failed", err)
	}
}

func retryDelay(st *status.Status) time.Duration {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.RetryInfo); ok && info.GetRetryDelay() != nil {
			return info.GetRetryDelay().AsDuration()
		}
	}
	return 0
}
