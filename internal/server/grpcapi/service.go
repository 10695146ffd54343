// Package grpcapi exposes the lifecycle service over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nzila.lifecycle.v1.LifecycleService"

// Full method names.
const (
	MethodAttemptTransition    = "/" + ServiceName + "/AttemptTransition"
	MethodAvailableTransitions = "/" + ServiceName + "/AvailableTransitions"
	MethodVerifySeal           = "/" + ServiceName + "/VerifySeal"
)

// LifecycleServer is the server API of the lifecycle service.
type LifecycleServer interface {
	AttemptTransition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AvailableTransitions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifySeal(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(LifecycleServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LifecycleServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LifecycleServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the lifecycle service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LifecycleServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AttemptTransition",
			Handler:    unaryHandler(MethodAttemptTransition, LifecycleServer.AttemptTransition),
		},
		{
			MethodName: "AvailableTransitions",
			Handler:    unaryHandler(MethodAvailableTransitions, LifecycleServer.AvailableTransitions),
		},
		{
			MethodName: "VerifySeal",
			Handler:    unaryHandler(MethodVerifySeal, LifecycleServer.VerifySeal),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nzila/lifecycle/v1/lifecycle.proto",
}

// RegisterLifecycleServer registers srv on s.
func RegisterLifecycleServer(s grpc.ServiceRegistrar, srv LifecycleServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the lifecycle service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a Client on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AttemptTransition calls LifecycleService.AttemptTransition.
func (c *Client) AttemptTransition(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodAttemptTransition, in, opts...)
}

// AvailableTransitions calls LifecycleService.AvailableTransitions.
func (c *Client) AvailableTransitions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodAvailableTransitions, in, opts...)
}

// VerifySeal calls LifecycleService.VerifySeal.
func (c *Client) VerifySeal(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodVerifySeal, in, opts...)
}
