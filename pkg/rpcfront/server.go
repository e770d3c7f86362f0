// Package rpcfront implements the RPC frontend (C10): a gRPC service that
// translates unary calls into either a direct store read or a blocking
// request to the API engine, and translates the two streaming calls into
// a parked client context registered as a listener on pkg/eventmon or
// pkg/watchmon — released the moment the stream's context is done.
package rpcfront

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rocm/gpuagent/api/proto"
	"github.com/rocm/gpuagent/pkg/apiengine"
	"github.com/rocm/gpuagent/pkg/bus"
	"github.com/rocm/gpuagent/pkg/eventmon"
	"github.com/rocm/gpuagent/pkg/objkey"
	"github.com/rocm/gpuagent/pkg/smi"
	"github.com/rocm/gpuagent/pkg/store"
	"github.com/rocm/gpuagent/pkg/trace"
	"github.com/rocm/gpuagent/pkg/watchmon"
)

// Server implements proto.GpuAgentServer.
type Server struct {
	b        *bus.Bus
	gpus     *store.Store[apiengine.GPU]
	watches  *store.Store[apiengine.Watch]
	eventmon *eventmon.Monitor
	watchmon *watchmon.Monitor
	timeout  time.Duration
}

// New creates an rpcfront Server. timeout bounds every blocking request
// issued to the API engine (config.Config.RPCRequestTimeout).
func New(b *bus.Bus, gpus *store.Store[apiengine.GPU], watches *store.Store[apiengine.Watch], em *eventmon.Monitor, wm *watchmon.Monitor, timeout time.Duration) *Server {
	return &Server{b: b, gpus: gpus, watches: watches, eventmon: em, watchmon: wm, timeout: timeout}
}

func (s *Server) ListGPUs(ctx context.Context, _ *proto.ListGPUsRequest) (*proto.ListGPUsReply, error) {
	values := s.gpus.Values()
	reply := &proto.ListGPUsReply{GPUs: make([]proto.GPUInfo, len(values))}
	for i, g := range values {
		reply.GPUs[i] = gpuToWire(g)
	}
	return reply, nil
}

func (s *Server) GetGPU(ctx context.Context, req *proto.GetGPURequest) (*proto.GetGPUReply, error) {
	key, err := objkey.ParseString(req.GPUKey)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	entry, ok := s.gpus.Locate(key)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "gpu %s not found", req.GPUKey)
	}
	wire := gpuToWire(entry.Get())
	return &proto.GetGPUReply{GPU: wire}, nil
}

func (s *Server) GpuReset(ctx context.Context, req *proto.GpuResetRequest) (*proto.GpuResetReply, error) {
	key, err := parseKeyOrZero(req.GPUKey)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.b.BlockingRequest("rpcfront", apiengine.EndpointID, apiengine.MsgGpuReset,
		apiengine.GpuResetRequest{Key: key}, s.timeout)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	reply := result.(apiengine.GpuResetReply)
	if reply.Err != nil {
		trace.API("rpcfront", "GpuReset", reply.Err)
		return nil, engineStatusErr(reply.Err)
	}
	return &proto.GpuResetReply{Success: reply.Result.Success, Message: reply.Result.Message}, nil
}

// GpuUpdate applies each requested Spec mutation independently and
// reports one GpuUpdateResult per entry, so one rejected GPU in a batch
// doesn't abort the others (§4.8 "GpuUpdate(specs[])->result").
func (s *Server) GpuUpdate(ctx context.Context, req *proto.GpuUpdateRequest) (*proto.GpuUpdateReply, error) {
	reply := &proto.GpuUpdateReply{Results: make([]proto.GpuUpdateResult, len(req.Specs))}
	for i, ws := range req.Specs {
		reply.Results[i] = s.applyGpuUpdate(ws)
	}
	return reply, nil
}

func (s *Server) applyGpuUpdate(ws proto.GpuUpdateSpec) proto.GpuUpdateResult {
	key, err := objkey.ParseString(ws.GPUKey)
	if err != nil {
		return proto.GpuUpdateResult{GPUKey: ws.GPUKey, Status: string(apiengine.StatusInvalidArg), Message: err.Error()}
	}

	spec, mask := specFromWire(ws)
	result, err := s.b.BlockingRequest("rpcfront", apiengine.EndpointID, apiengine.MsgGpuUpdate,
		apiengine.GpuUpdateRequest{Key: key, Spec: spec, Mask: mask}, s.timeout)
	if err != nil {
		return proto.GpuUpdateResult{GPUKey: ws.GPUKey, Status: string(apiengine.StatusErr), Message: err.Error()}
	}
	reply := result.(apiengine.GpuUpdateReply)
	if reply.Err != nil {
		trace.API("rpcfront", "GpuUpdate", reply.Err)
		ee, _ := reply.Err.(*apiengine.EngineError)
		out := proto.GpuUpdateResult{GPUKey: ws.GPUKey, Status: string(apiengine.StatusErr), Message: reply.Err.Error()}
		if ee != nil {
			out.Status = string(ee.Status)
			out.Detail = string(ee.Detail)
		}
		return out
	}
	return proto.GpuUpdateResult{GPUKey: ws.GPUKey, Status: string(apiengine.StatusOK), GPU: gpuToWire(reply.GPU)}
}

func (s *Server) GpuComputePartitionGet(ctx context.Context, req *proto.GpuComputePartitionGetRequest) (*proto.GpuComputePartitionGetReply, error) {
	keys, err := resolveGPUKeys(s.gpus, req.GPUKeys)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	reply := &proto.GpuComputePartitionGetReply{}
	for _, key := range keys {
		entry, ok := s.gpus.Locate(key)
		if !ok {
			continue
		}
		g := entry.Get()
		reply.Infos = append(reply.Infos, proto.ComputePartitionInfo{
			GPUKey:           key.String(),
			ComputePartition: string(g.Status.ComputePartition),
			PartitionID:      g.Status.PartitionID,
		})
	}
	return reply, nil
}

func (s *Server) TopologyGet(ctx context.Context, _ *proto.TopologyGetRequest) (*proto.TopologyGetReply, error) {
	result, err := s.b.BlockingRequest("rpcfront", apiengine.EndpointID, apiengine.MsgTopologyGet,
		apiengine.TopologyGetRequest{}, s.timeout)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	reply := result.(apiengine.TopologyGetReply)
	if reply.Err != nil {
		return nil, engineStatusErr(reply.Err)
	}

	indexToKey := make(map[int]objkey.Key)
	for _, key := range s.gpus.Keys() {
		entry, ok := s.gpus.Locate(key)
		if !ok {
			continue
		}
		indexToKey[entry.Get().Info.Index] = key
	}

	out := &proto.TopologyGetReply{Links: make([]proto.TopologyLink, len(reply.Topology.Links))}
	for i, link := range reply.Topology.Links {
		out.Links[i] = proto.TopologyLink{
			GPUKeyA:   indexToKey[link.GPUIndexA].String(),
			GPUKeyB:   indexToKey[link.GPUIndexB].String(),
			LinkType:  link.LinkType,
			HopCount:  int32(link.HopCount),
			WeightMBs: link.WeightMBs,
		}
	}
	return out, nil
}

func (s *Server) WatchCreate(ctx context.Context, req *proto.WatchCreateRequest) (*proto.WatchCreateReply, error) {
	gpuKeys := make([]objkey.Key, len(req.GPUKeys))
	for i, ks := range req.GPUKeys {
		key, err := objkey.ParseString(ks)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		gpuKeys[i] = key
	}

	result, err := s.b.BlockingRequest("rpcfront", apiengine.EndpointID, apiengine.MsgWatchCreate,
		apiengine.WatchCreateRequest{GPUKeys: gpuKeys, Attributes: req.Attributes, IntervalMS: req.IntervalMS}, s.timeout)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	reply := result.(apiengine.WatchCreateReply)
	if reply.Err != nil {
		return nil, engineStatusErr(reply.Err)
	}
	return &proto.WatchCreateReply{WatchKey: reply.WatchKey.String()}, nil
}

func (s *Server) WatchDelete(ctx context.Context, req *proto.WatchDeleteRequest) (*proto.WatchDeleteReply, error) {
	key, err := objkey.ParseString(req.WatchKey)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.b.BlockingRequest("rpcfront", apiengine.EndpointID, apiengine.MsgWatchDelete,
		apiengine.WatchDeleteRequest{WatchKey: key}, s.timeout)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	reply := result.(apiengine.WatchDeleteReply)
	if reply.Err != nil {
		return nil, engineStatusErr(reply.Err)
	}
	return &proto.WatchDeleteReply{}, nil
}

func (s *Server) WatchGet(ctx context.Context, req *proto.WatchGetRequest) (*proto.WatchGetReply, error) {
	var keys []objkey.Key
	if len(req.WatchKeys) == 0 {
		keys = s.watches.Keys()
	} else {
		for _, ks := range req.WatchKeys {
			key, err := objkey.ParseString(ks)
			if err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			keys = append(keys, key)
		}
	}

	reply := &proto.WatchGetReply{}
	for _, key := range keys {
		entry, ok := s.watches.Locate(key)
		if !ok {
			continue
		}
		reply.Watches = append(reply.Watches, watchInfoToWire(entry.Get()))
	}
	return reply, nil
}

func (s *Server) WatchStream(req *proto.WatchStreamRequest, stream proto.GpuAgent_WatchStreamServer) error {
	key, err := objkey.ParseString(req.WatchKey)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if _, ok := s.watches.Locate(key); !ok {
		return status.Errorf(codes.NotFound, "watch %s not found", req.WatchKey)
	}

	// refcount this stream for the lifetime of the call, per DESIGN.md's
	// watch-refcount resolution: a streaming client counts the same as
	// any other subscriber of the watch.
	_, _ = s.b.BlockingRequest("rpcfront", apiengine.EndpointID, apiengine.MsgWatchRef,
		apiengine.WatchRefRequest{WatchKey: key, Delta: 1}, s.timeout)
	defer func() {
		_, _ = s.b.BlockingRequest("rpcfront", apiengine.EndpointID, apiengine.MsgWatchRef,
			apiengine.WatchRefRequest{WatchKey: key, Delta: -1}, s.timeout)
	}()

	sendErr := make(chan error, 1)
	id := s.watchmon.AddListener(key, func(sample watchmon.Sample) error {
		err := stream.Send(&proto.WatchSample{
			WatchKey:   sample.WatchKey.String(),
			Attrs:      attrSamplesToWire(sample.Attrs),
			TimeUnixMs: sample.Time.UnixMilli(),
		})
		if err != nil {
			select {
			case sendErr <- err:
			default:
			}
		}
		return err
	})
	defer s.watchmon.RemoveListener(id)

	select {
	case <-stream.Context().Done():
		return stream.Context().Err()
	case err := <-sendErr:
		return status.Error(codes.Unavailable, fmt.Sprintf("watch stream send failed: %v", err))
	}
}

func (s *Server) EventGet(ctx context.Context, req *proto.EventGetRequest) (*proto.EventGetReply, error) {
	filter, err := eventFilterFromWire(req.Filter)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	events := s.eventmon.Snapshot(filter)
	reply := &proto.EventGetReply{Events: make([]proto.EventRecordWire, len(events))}
	for i, ev := range events {
		reply.Events[i] = proto.EventRecordWire{
			GPUKey:     ev.GPUKey.String(),
			EventID:    string(ev.Kind),
			Detail:     ev.Detail,
			TimeUnixMs: ev.Time.UnixMilli(),
		}
	}
	return reply, nil
}

// EventGen synthesizes one hardware event as if the backend had raised
// it, backing §4.6's test-injection hook.
func (s *Server) EventGen(ctx context.Context, req *proto.EventGenRequest) (*proto.EventGenReply, error) {
	key, err := objkey.ParseString(req.GPUKey)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	entry, ok := s.gpus.Locate(key)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "gpu %s not found", req.GPUKey)
	}

	severity := smi.Severity(req.Severity)
	switch severity {
	case smi.SeverityDebug, smi.SeverityInfo, smi.SeverityWarn, smi.SeverityCritical:
	case "":
		severity = smi.SeverityInfo
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown severity %q", req.Severity)
	}

	s.eventmon.Generate(smi.Event{
		GPUIndex: entry.Get().Info.Index,
		Kind:     smi.EventKind(req.EventID),
		Severity: severity,
		Detail:   req.Detail,
	})
	return &proto.EventGenReply{}, nil
}

func (s *Server) EventStream(req *proto.EventStreamRequest, stream proto.GpuAgent_EventStreamServer) error {
	filter, err := eventFilterFromWire(req.Filter)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	sendErr := make(chan error, 1)
	id := s.eventmon.AddListener(filter, func(ev eventmon.GPUEvent) error {
		err := stream.Send(ptrGpuEvent(gpuEventToWire(ev)))
		if err != nil {
			select {
			case sendErr <- err:
			default:
			}
		}
		return err
	})
	defer s.eventmon.RemoveListener(id)

	select {
	case <-stream.Context().Done():
		return stream.Context().Err()
	case err := <-sendErr:
		return status.Error(codes.Unavailable, fmt.Sprintf("event stream send failed: %v", err))
	}
}

func ptrGpuEvent(ev proto.GpuEvent) *proto.GpuEvent { return &ev }

func (s *Server) TraceUpdate(ctx context.Context, req *proto.TraceUpdateRequest) (*proto.TraceUpdateReply, error) {
	lvl := trace.Level(req.Level)
	switch lvl {
	case trace.Debug, trace.Info, trace.Warn, trace.Error:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown trace level %q", req.Level)
	}
	trace.SetLevel(lvl)
	return &proto.TraceUpdateReply{Level: string(trace.CurrentLevel())}, nil
}

func (s *Server) TraceGet(ctx context.Context, _ *proto.TraceGetRequest) (*proto.TraceGetReply, error) {
	return &proto.TraceGetReply{Level: string(trace.CurrentLevel())}, nil
}

func (s *Server) TraceFlush(ctx context.Context, _ *proto.TraceFlushRequest) (*proto.TraceFlushReply, error) {
	if err := trace.Flush(); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &proto.TraceFlushReply{}, nil
}

func parseKeyOrZero(s string) (objkey.Key, error) {
	if s == "" {
		return objkey.Zero, nil
	}
	return objkey.ParseString(s)
}

func resolveGPUKeys(gpus *store.Store[apiengine.GPU], raw []string) ([]objkey.Key, error) {
	if len(raw) == 0 {
		return gpus.Keys(), nil
	}
	keys := make([]objkey.Key, len(raw))
	for i, s := range raw {
		key, err := objkey.ParseString(s)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

// engineStatusErr maps an *apiengine.EngineError's closed StatusCode to
// the matching gRPC status code (§6.1).
func engineStatusErr(err error) error {
	ee, ok := err.(*apiengine.EngineError)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	switch ee.Status {
	case apiengine.StatusNotFound:
		return status.Error(codes.NotFound, ee.Message)
	case apiengine.StatusInUse:
		return status.Error(codes.FailedPrecondition, ee.Message)
	case apiengine.StatusInvalidArg:
		return status.Error(codes.InvalidArgument, ee.Message)
	case apiengine.StatusNotAllowed:
		return status.Error(codes.PermissionDenied, ee.Message)
	case apiengine.StatusNotSupported:
		return status.Error(codes.Unimplemented, ee.Message)
	case apiengine.StatusExists:
		return status.Error(codes.AlreadyExists, ee.Message)
	case apiengine.StatusOOM:
		return status.Error(codes.ResourceExhausted, ee.Message)
	default:
		return status.Error(codes.Internal, ee.Message)
	}
}
