// Package grpc exposes a shard node over gRPC and provides a client that
// implements the bulk write boundaries against a remote node. Messages are
// plain Go structs encoded with MessagePack.
package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/arkilian/bulkindex/internal/bulk"
)

const (
	serviceName            = "bulkindex.v1.ShardService"
	bulkWriteMethod        = "/" + serviceName + "/BulkWrite"
	createPartitionsMethod = "/" + serviceName + "/CreatePartitions"
	requestIDMetadataKey   = "x-request-id"
)

// BulkWriteResponse carries one result per request item.
type BulkWriteResponse struct {
	Results []bulk.ItemResult `msgpack:"results"`
}

// CreatePartitionsRequest names partitions to create for a table.
type CreatePartitionsRequest struct {
	Table string   `msgpack:"table"`
	Names []string `msgpack:"names"`
}

// CreatePartitionsResponse is empty on success.
type CreatePartitionsResponse struct{}

// ShardServiceServer is the server API of the shard service.
type ShardServiceServer interface {
	BulkWrite(context.Context, *bulk.Request) (*BulkWriteResponse, error)
	CreatePartitions(context.Context, *CreatePartitionsRequest) (*CreatePartitionsResponse, error)
}

// RegisterShardServiceServer registers srv on s.
func RegisterShardServiceServer(s grpc.ServiceRegistrar, srv ShardServiceServer) {
	s.RegisterService(&shardServiceDesc, srv)
}

var shardServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ShardServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "BulkWrite", Handler: bulkWriteHandler},
		{MethodName: "CreatePartitions", Handler: createPartitionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bulkindex/v1/shard.msgpack",
}

func bulkWriteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(bulk.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardServiceServer).BulkWrite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: bulkWriteMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ShardServiceServer).BulkWrite(ctx, req.(*bulk.Request))
	}
	return interceptor(ctx, in, info, handler)
}

func createPartitionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreatePartitionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardServiceServer).CreatePartitions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: createPartitionsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ShardServiceServer).CreatePartitions(ctx, req.(*CreatePartitionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}
