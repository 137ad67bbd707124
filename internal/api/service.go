// Package api exposes the live caches over gRPC on the profile socket. The
// service is described by hand and carries protobuf well-known types, so no
// generated code is needed on either side.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "jamisync.v1.Inspector"

// InspectorServer is the server side of the inspector service.
type InspectorServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAccounts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SmartList(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcceptRequest(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	DiscardRequest(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ShareQR(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

func unary[Resp any](method string, fn func(InspectorServer, context.Context, *structpb.Struct) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				resp, err := fn(srv.(InspectorServer), ctx, req.(*structpb.Struct))
				if err != nil {
					return nil, err
				}
				return resp, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, call)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(InspectorServer).Watch(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InspectorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", InspectorServer.Status),
		unary("ListAccounts", InspectorServer.ListAccounts),
		unary("SmartList", InspectorServer.SmartList),
		unary("LoadHistory", InspectorServer.LoadHistory),
		unary("Search", InspectorServer.Search),
		unary("StartConversation", InspectorServer.StartConversation),
		unary("SendText", InspectorServer.SendText),
		unary("AcceptRequest", InspectorServer.AcceptRequest),
		unary("DiscardRequest", InspectorServer.DiscardRequest),
		unary("ShareQR", InspectorServer.ShareQR),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "jamisync/v1/inspector.proto",
}

// RegisterInspectorServer registers srv on s.
func RegisterInspectorServer(s grpc.ServiceRegistrar, srv InspectorServer) {
	s.RegisterService(&serviceDesc, srv)
}
