package proto

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service name clients dial against.
const ServiceName = "gpuagent.v1.GpuAgent"

// GpuAgentServer is the interface pkg/rpcfront implements and registers
// against a grpc.Server via RegisterGpuAgentServer.
type GpuAgentServer interface {
	ListGPUs(context.Context, *ListGPUsRequest) (*ListGPUsReply, error)
	GetGPU(context.Context, *GetGPURequest) (*GetGPUReply, error)
	GpuUpdate(context.Context, *GpuUpdateRequest) (*GpuUpdateReply, error)
	GpuReset(context.Context, *GpuResetRequest) (*GpuResetReply, error)
	GpuComputePartitionGet(context.Context, *GpuComputePartitionGetRequest) (*GpuComputePartitionGetReply, error)
	TopologyGet(context.Context, *TopologyGetRequest) (*TopologyGetReply, error)

	WatchCreate(context.Context, *WatchCreateRequest) (*WatchCreateReply, error)
	WatchDelete(context.Context, *WatchDeleteRequest) (*WatchDeleteReply, error)
	WatchGet(context.Context, *WatchGetRequest) (*WatchGetReply, error)
	WatchStream(*WatchStreamRequest, GpuAgent_WatchStreamServer) error

	EventGet(context.Context, *EventGetRequest) (*EventGetReply, error)
	EventGen(context.Context, *EventGenRequest) (*EventGenReply, error)
	EventStream(*EventStreamRequest, GpuAgent_EventStreamServer) error

	TraceUpdate(context.Context, *TraceUpdateRequest) (*TraceUpdateReply, error)
	TraceGet(context.Context, *TraceGetRequest) (*TraceGetReply, error)
	TraceFlush(context.Context, *TraceFlushRequest) (*TraceFlushReply, error)
}

// GpuAgent_WatchStreamServer is the server-side stream handle WatchStream
// writes samples to.
type GpuAgent_WatchStreamServer interface {
	Send(*WatchSample) error
	grpc.ServerStream
}

type watchStreamServer struct {
	grpc.ServerStream
}

func (s *watchStreamServer) Send(m *WatchSample) error {
	return s.ServerStream.SendMsg(m)
}

// GpuAgent_EventStreamServer is the server-side stream handle EventStream
// writes events to.
type GpuAgent_EventStreamServer interface {
	Send(*GpuEvent) error
	grpc.ServerStream
}

type eventStreamServer struct {
	grpc.ServerStream
}

func (s *eventStreamServer) Send(m *GpuEvent) error {
	return s.ServerStream.SendMsg(m)
}

func unaryHandlerListGPUs(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListGPUsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).ListGPUs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/ListGPUs"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).ListGPUs(ctx, req.(*ListGPUsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerGetGPU(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetGPURequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).GetGPU(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetGPU"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).GetGPU(ctx, req.(*GetGPURequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerGpuUpdate(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GpuUpdateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).GpuUpdate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GpuUpdate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).GpuUpdate(ctx, req.(*GpuUpdateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerGpuComputePartitionGet(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GpuComputePartitionGetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).GpuComputePartitionGet(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GpuComputePartitionGet"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).GpuComputePartitionGet(ctx, req.(*GpuComputePartitionGetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerTopologyGet(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TopologyGetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).TopologyGet(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/TopologyGet"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).TopologyGet(ctx, req.(*TopologyGetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerWatchGet(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(WatchGetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).WatchGet(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/WatchGet"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).WatchGet(ctx, req.(*WatchGetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerEventGet(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EventGetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).EventGet(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/EventGet"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).EventGet(ctx, req.(*EventGetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerEventGen(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EventGenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).EventGen(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/EventGen"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).EventGen(ctx, req.(*EventGenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerTraceGet(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TraceGetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).TraceGet(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/TraceGet"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).TraceGet(ctx, req.(*TraceGetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerTraceFlush(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TraceFlushRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).TraceFlush(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/TraceFlush"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).TraceFlush(ctx, req.(*TraceFlushRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerGpuReset(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GpuResetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).GpuReset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GpuReset"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).GpuReset(ctx, req.(*GpuResetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerWatchCreate(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(WatchCreateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).WatchCreate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/WatchCreate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).WatchCreate(ctx, req.(*WatchCreateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerWatchDelete(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(WatchDeleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).WatchDelete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/WatchDelete"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).WatchDelete(ctx, req.(*WatchDeleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryHandlerTraceUpdate(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TraceUpdateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GpuAgentServer).TraceUpdate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/TraceUpdate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GpuAgentServer).TraceUpdate(ctx, req.(*TraceUpdateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamHandlerWatchStream(srv any, stream grpc.ServerStream) error {
	in := new(WatchStreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GpuAgentServer).WatchStream(in, &watchStreamServer{stream})
}

func streamHandlerEventStream(srv any, stream grpc.ServerStream) error {
	in := new(EventStreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GpuAgentServer).EventStream(in, &eventStreamServer{stream})
}

// ServiceDesc is the gRPC service descriptor pkg/rpcfront registers
// against a *grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GpuAgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListGPUs", Handler: unaryHandlerListGPUs},
		{MethodName: "GetGPU", Handler: unaryHandlerGetGPU},
		{MethodName: "GpuUpdate", Handler: unaryHandlerGpuUpdate},
		{MethodName: "GpuReset", Handler: unaryHandlerGpuReset},
		{MethodName: "GpuComputePartitionGet", Handler: unaryHandlerGpuComputePartitionGet},
		{MethodName: "TopologyGet", Handler: unaryHandlerTopologyGet},
		{MethodName: "WatchCreate", Handler: unaryHandlerWatchCreate},
		{MethodName: "WatchDelete", Handler: unaryHandlerWatchDelete},
		{MethodName: "WatchGet", Handler: unaryHandlerWatchGet},
		{MethodName: "EventGet", Handler: unaryHandlerEventGet},
		{MethodName: "EventGen", Handler: unaryHandlerEventGen},
		{MethodName: "TraceUpdate", Handler: unaryHandlerTraceUpdate},
		{MethodName: "TraceGet", Handler: unaryHandlerTraceGet},
		{MethodName: "TraceFlush", Handler: unaryHandlerTraceFlush},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchStream", Handler: streamHandlerWatchStream, ServerStreams: true},
		{StreamName: "EventStream", Handler: streamHandlerEventStream, ServerStreams: true},
	},
	Metadata: "gpuagent.proto",
}

// RegisterGpuAgentServer registers srv's implementation against s.
func RegisterGpuAgentServer(s grpc.ServiceRegistrar, srv GpuAgentServer) {
	s.RegisterService(&ServiceDesc, srv)
}
