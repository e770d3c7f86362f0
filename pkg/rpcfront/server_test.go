package rpcfront

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/rocm/gpuagent/api/proto"
	"github.com/rocm/gpuagent/pkg/apiengine"
	"github.com/rocm/gpuagent/pkg/bus"
	"github.com/rocm/gpuagent/pkg/eventmon"
	"github.com/rocm/gpuagent/pkg/objkey"
	"github.com/rocm/gpuagent/pkg/smi"
	"github.com/rocm/gpuagent/pkg/watchmon"
)

type testRig struct {
	srv  *Server
	eng  *apiengine.Engine
	b    *bus.Bus
	back *smi.MockBackend
}

func newRig(t *testing.T, n int) *testRig {
	t.Helper()
	b := bus.New()
	backend := smi.NewMockBackend(n)

	eng := apiengine.New(b, backend, 1)
	require.NoError(t, eng.Start(context.Background()))
	go eng.Worker().Run()
	t.Cleanup(eng.Worker().Stop)

	em := eventmon.New(b, backend, eng.GPUs(), 30*time.Millisecond, 0)
	go em.Worker().Run()
	t.Cleanup(em.Worker().Stop)

	wm := watchmon.New(b, backend, eng.GPUs(), eng.Watches(), 30*time.Millisecond)
	go wm.Worker().Run()
	t.Cleanup(wm.Worker().Stop)

	srv := New(b, eng.GPUs(), eng.Watches(), em, wm, time.Second)
	return &testRig{srv: srv, eng: eng, b: b, back: backend}
}

func TestListAndGetGPU(t *testing.T) {
	rig := newRig(t, 2)

	listReply, err := rig.srv.ListGPUs(context.Background(), &proto.ListGPUsRequest{})
	require.NoError(t, err)
	assert.Len(t, listReply.GPUs, 2)

	key := listReply.GPUs[0].GPUKey
	getReply, err := rig.srv.GetGPU(context.Background(), &proto.GetGPURequest{GPUKey: key})
	require.NoError(t, err)
	assert.Equal(t, key, getReply.GPU.GPUKey)

	_, err = rig.srv.GetGPU(context.Background(), &proto.GetGPURequest{GPUKey: "not-a-key"})
	assert.Error(t, err)
}

func TestGpuResetViaRPC(t *testing.T) {
	rig := newRig(t, 1)
	listReply, err := rig.srv.ListGPUs(context.Background(), &proto.ListGPUsRequest{})
	require.NoError(t, err)

	reply, err := rig.srv.GpuReset(context.Background(), &proto.GpuResetRequest{GPUKey: listReply.GPUs[0].GPUKey})
	require.NoError(t, err)
	assert.True(t, reply.Success)

	reply, err = rig.srv.GpuReset(context.Background(), &proto.GpuResetRequest{})
	require.NoError(t, err)
	assert.True(t, reply.Success)
}

func TestGpuUpdateViaRPC(t *testing.T) {
	rig := newRig(t, 1)
	listReply, err := rig.srv.ListGPUs(context.Background(), &proto.ListGPUsRequest{})
	require.NoError(t, err)
	key := listReply.GPUs[0].GPUKey

	overdrive := uint32(5)
	reply, err := rig.srv.GpuUpdate(context.Background(), &proto.GpuUpdateRequest{
		Specs: []proto.GpuUpdateSpec{{GPUKey: key, OverdriveLevel: &overdrive}},
	})
	require.NoError(t, err)
	require.Len(t, reply.Results, 1)
	assert.Equal(t, string(apiengine.StatusOK), reply.Results[0].Status)
	assert.EqualValues(t, 5, reply.Results[0].GPU.Spec.OverdriveLevel)

	getReply, err := rig.srv.GetGPU(context.Background(), &proto.GetGPURequest{GPUKey: key})
	require.NoError(t, err)
	assert.EqualValues(t, 5, getReply.GPU.Spec.OverdriveLevel)

	tooHigh := uint32(99)
	reply, err = rig.srv.GpuUpdate(context.Background(), &proto.GpuUpdateRequest{
		Specs: []proto.GpuUpdateSpec{{GPUKey: key, OverdriveLevel: &tooHigh}},
	})
	require.NoError(t, err)
	require.Len(t, reply.Results, 1)
	assert.Equal(t, string(apiengine.StatusInvalidArg), reply.Results[0].Status)
	assert.Equal(t, string(apiengine.DetailOverdriveOutOfRange), reply.Results[0].Detail)
}

func TestTopologyGetViaRPC(t *testing.T) {
	rig := newRig(t, 3)
	reply, err := rig.srv.TopologyGet(context.Background(), &proto.TopologyGetRequest{})
	require.NoError(t, err)
	assert.Len(t, reply.Links, 3) // 3-choose-2 all-to-all mesh
	for _, link := range reply.Links {
		assert.NotEmpty(t, link.GPUKeyA)
		assert.NotEmpty(t, link.GPUKeyB)
	}
}

func TestGpuComputePartitionGetViaRPC(t *testing.T) {
	rig := newRig(t, 2)
	reply, err := rig.srv.GpuComputePartitionGet(context.Background(), &proto.GpuComputePartitionGetRequest{})
	require.NoError(t, err)
	assert.Len(t, reply.Infos, 2)
	for _, info := range reply.Infos {
		assert.Equal(t, "spx", info.ComputePartition)
	}
}

func TestWatchCreateAndDeleteViaRPC(t *testing.T) {
	rig := newRig(t, 1)
	listReply, err := rig.srv.ListGPUs(context.Background(), &proto.ListGPUsRequest{})
	require.NoError(t, err)

	createReply, err := rig.srv.WatchCreate(context.Background(), &proto.WatchCreateRequest{
		GPUKeys: []string{listReply.GPUs[0].GPUKey}, Attributes: []string{"gfx"}, IntervalMS: 100,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, createReply.WatchKey)

	getReply, err := rig.srv.WatchGet(context.Background(), &proto.WatchGetRequest{})
	require.NoError(t, err)
	require.Len(t, getReply.Watches, 1)
	assert.Equal(t, createReply.WatchKey, getReply.Watches[0].WatchKey)

	_, err = rig.srv.WatchDelete(context.Background(), &proto.WatchDeleteRequest{WatchKey: createReply.WatchKey})
	require.NoError(t, err)

	_, err = rig.srv.WatchDelete(context.Background(), &proto.WatchDeleteRequest{WatchKey: createReply.WatchKey})
	assert.Error(t, err, "deleting an already-deleted watch must error")
}

func TestWatchDeleteRefusesWhileSubscribed(t *testing.T) {
	rig := newRig(t, 1)
	listReply, err := rig.srv.ListGPUs(context.Background(), &proto.ListGPUsRequest{})
	require.NoError(t, err)

	createReply, err := rig.srv.WatchCreate(context.Background(), &proto.WatchCreateRequest{
		GPUKeys: []string{listReply.GPUs[0].GPUKey}, Attributes: []string{"gfx"}, IntervalMS: 30,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeWatchStream{&fakeServerStream{ctx: ctx}}
	done := make(chan error, 1)
	go func() {
		done <- rig.srv.WatchStream(&proto.WatchStreamRequest{WatchKey: createReply.WatchKey}, stream)
	}()

	require.Eventually(t, func() bool {
		return stream.count() > 0
	}, time.Second, time.Millisecond)

	_, err = rig.srv.WatchDelete(context.Background(), &proto.WatchDeleteRequest{WatchKey: createReply.WatchKey})
	assert.Error(t, err, "deleting a watch with a live streaming subscriber must fail")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchStream did not return after context cancel")
	}
}

func TestTraceUpdateRejectsUnknownLevel(t *testing.T) {
	rig := newRig(t, 1)
	_, err := rig.srv.TraceUpdate(context.Background(), &proto.TraceUpdateRequest{Level: "verbose"})
	assert.Error(t, err)

	reply, err := rig.srv.TraceUpdate(context.Background(), &proto.TraceUpdateRequest{Level: "warn"})
	require.NoError(t, err)
	assert.Equal(t, "warn", reply.Level)

	getReply, err := rig.srv.TraceGet(context.Background(), &proto.TraceGetRequest{})
	require.NoError(t, err)
	assert.Equal(t, "warn", getReply.Level)

	_, err = rig.srv.TraceFlush(context.Background(), &proto.TraceFlushRequest{})
	require.NoError(t, err)
}

// fakeServerStream is a minimal grpc.ServerStream for exercising
// WatchStream/EventStream without a real network transport.
type fakeServerStream struct {
	ctx context.Context
	mu  sync.Mutex
	out []any
}

func (f *fakeServerStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeServerStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeServerStream) SetTrailer(metadata.MD)       {}
func (f *fakeServerStream) Context() context.Context     { return f.ctx }
func (f *fakeServerStream) SendMsg(m any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, m)
	return nil
}
func (f *fakeServerStream) RecvMsg(m any) error { return nil }

func (f *fakeServerStream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

type fakeWatchStream struct {
	*fakeServerStream
}

func (f *fakeWatchStream) Send(m *proto.WatchSample) error { return f.SendMsg(m) }

type fakeEventStream struct {
	*fakeServerStream
}

func (f *fakeEventStream) Send(m *proto.GpuEvent) error { return f.SendMsg(m) }

func TestWatchStreamDeliversSamplesUntilCancel(t *testing.T) {
	rig := newRig(t, 1)
	listReply, err := rig.srv.ListGPUs(context.Background(), &proto.ListGPUsRequest{})
	require.NoError(t, err)

	createReply, err := rig.srv.WatchCreate(context.Background(), &proto.WatchCreateRequest{
		GPUKeys: []string{listReply.GPUs[0].GPUKey}, Attributes: []string{"gfx"}, IntervalMS: 30,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeWatchStream{&fakeServerStream{ctx: ctx}}

	done := make(chan error, 1)
	go func() {
		done <- rig.srv.WatchStream(&proto.WatchStreamRequest{WatchKey: createReply.WatchKey}, stream)
	}()

	require.Eventually(t, func() bool {
		return stream.count() > 0
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("WatchStream did not return after context cancel")
	}
}

func TestWatchStreamUnknownWatch(t *testing.T) {
	rig := newRig(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := &fakeWatchStream{&fakeServerStream{ctx: ctx}}

	var unknown objkey.Key
	err := rig.srv.WatchStream(&proto.WatchStreamRequest{WatchKey: unknown.String()}, stream)
	assert.Error(t, err)
}

func TestEventStreamDeliversUntilCancel(t *testing.T) {
	rig := newRig(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeEventStream{&fakeServerStream{ctx: ctx}}

	done := make(chan error, 1)
	go func() {
		done <- rig.srv.EventStream(&proto.EventStreamRequest{}, stream)
	}()

	time.Sleep(20 * time.Millisecond)
	rig.back.InjectThermalThrottle(0)

	require.Eventually(t, func() bool {
		return stream.count() > 0
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("EventStream did not return after context cancel")
	}
}

func TestEventStreamFilterExcludesNonMatchingGPU(t *testing.T) {
	rig := newRig(t, 2)
	listReply, err := rig.srv.ListGPUs(context.Background(), &proto.ListGPUsRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := &fakeEventStream{&fakeServerStream{ctx: ctx}}

	done := make(chan error, 1)
	go func() {
		done <- rig.srv.EventStream(&proto.EventStreamRequest{
			Filter: proto.EventFilter{GPUKeys: []string{listReply.GPUs[0].GPUKey}},
		}, stream)
	}()

	time.Sleep(20 * time.Millisecond)
	rig.back.InjectThermalThrottle(1) // other GPU, should not be delivered
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, stream.count())

	rig.back.InjectThermalThrottle(0)
	require.Eventually(t, func() bool {
		return stream.count() > 0
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestEventGenAndEventGet(t *testing.T) {
	rig := newRig(t, 1)
	listReply, err := rig.srv.ListGPUs(context.Background(), &proto.ListGPUsRequest{})
	require.NoError(t, err)
	key := listReply.GPUs[0].GPUKey

	_, err = rig.srv.EventGen(context.Background(), &proto.EventGenRequest{
		GPUKey: key, EventID: "ring-hang", Severity: "critical", Detail: "ring 2 hung",
	})
	require.NoError(t, err)

	getReply, err := rig.srv.EventGet(context.Background(), &proto.EventGetRequest{})
	require.NoError(t, err)
	require.Len(t, getReply.Events, 1)
	assert.Equal(t, "ring-hang", getReply.Events[0].EventID)
	assert.Equal(t, key, getReply.Events[0].GPUKey)
}
