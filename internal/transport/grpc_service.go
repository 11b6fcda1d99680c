package transport

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The IDService messages are protobuf well-known types:
//
//	service IDService {
//	  rpc NextID(google.protobuf.Empty) returns (google.protobuf.Int64Value);
//	  rpc NextIDs(google.protobuf.UInt32Value) returns (stream google.protobuf.Int64Value);
//	  rpc Decode(google.protobuf.Int64Value) returns (google.protobuf.Struct);
//	}
const (
	IDServiceName = "flakeid.v1.IDService"

	methodNextID  = "/" + IDServiceName + "/NextID"
	methodNextIDs = "/" + IDServiceName + "/NextIDs"
	methodDecode  = "/" + IDServiceName + "/Decode"
)

type IDServiceServer interface {
	NextID(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	NextIDs(*wrapperspb.UInt32Value, NextIDsStream) error
	Decode(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
}

// NextIDsStream is the server side of the NextIDs stream.
type NextIDsStream interface {
	Send(*wrapperspb.Int64Value) error
	grpc.ServerStream
}

func RegisterIDServiceServer(s grpc.ServiceRegistrar, srv IDServiceServer) {
	s.RegisterService(&idServiceDesc, srv)
}

var idServiceDesc = grpc.ServiceDesc{
	ServiceName: IDServiceName,
	HandlerType: (*IDServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "NextID", Handler: nextIDHandler},
		{MethodName: "Decode", Handler: decodeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "NextIDs", Handler: nextIDsHandler, ServerStreams: true},
	},
	Metadata: "flakeid/v1/id_service.proto",
}

func nextIDHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IDServiceServer).NextID(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodNextID}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IDServiceServer).NextID(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func decodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IDServiceServer).Decode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDecode}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IDServiceServer).Decode(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func nextIDsHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.UInt32Value)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(IDServiceServer).NextIDs(in, &nextIDsServerStream{stream})
}

type nextIDsServerStream struct {
	grpc.ServerStream
}

func (x *nextIDsServerStream) Send(m *wrapperspb.Int64Value) error {
	return x.ServerStream.SendMsg(m)
}

// IDServiceClient is the client side of IDService.
type IDServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewIDServiceClient(cc grpc.ClientConnInterface) *IDServiceClient {
	return &IDServiceClient{cc: cc}
}

func (c *IDServiceClient) NextID(ctx context.Context, opts ...grpc.CallOption) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, methodNextID, &emptypb.Empty{}, out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

func (c *IDServiceClient) NextIDs(ctx context.Context, n uint32, opts ...grpc.CallOption) ([]int64, error) {
	stream, err := c.cc.NewStream(ctx, &idServiceDesc.Streams[0], methodNextIDs, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.UInt32(n)); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close send: %w", err)
	}

	ids := make([]int64, 0, n)
	for {
		m := new(wrapperspb.Int64Value)
		if err := stream.RecvMsg(m); err != nil {
			if err == io.EOF {
				return ids, nil
			}
			return nil, err
		}
		ids = append(ids, m.GetValue())
	}
}

func (c *IDServiceClient) Decode(ctx context.Context, id int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodDecode, wrapperspb.Int64(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
