package apiengine

import (
	"context"
	"fmt"
	"time"

	"github.com/rocm/gpuagent/pkg/bus"
	"github.com/rocm/gpuagent/pkg/evloop"
	"github.com/rocm/gpuagent/pkg/objkey"
	"github.com/rocm/gpuagent/pkg/smi"
	"github.com/rocm/gpuagent/pkg/store"
	"github.com/rocm/gpuagent/pkg/trace"
)

// Engine is the API engine worker: one evloop.Worker bound to a
// serialized bus endpoint, fronting the GPU and watch stores.
type Engine struct {
	worker  *evloop.Worker
	b       *bus.Bus
	backend smi.Backend
	hostID  uint32

	gpus    *store.Store[GPU]
	watches *store.Store[Watch]
}

// New creates an Engine and registers it on b under EndpointID. Call
// Start to discover the backend's GPU fleet and populate the store, then
// run Worker().Run() on its own goroutine.
func New(b *bus.Bus, backend smi.Backend, hostID uint32) *Engine {
	eng := &Engine{
		b:       b,
		backend: backend,
		hostID:  hostID,
		gpus:    store.New[GPU](),
		watches: store.New[Watch](),
	}
	eng.worker = evloop.New(b, EndpointID, eng.handle, true)
	return eng
}

// Worker returns the engine's evloop.Worker so cmd/gpuagentd can run and
// stop it alongside the other workers.
func (eng *Engine) Worker() *evloop.Worker { return eng.worker }

// GPUs exposes the GPU store for read-only consumers (pkg/rpcfront).
func (eng *Engine) GPUs() *store.Store[GPU] { return eng.gpus }

// Watches exposes the watch store for read-only consumers.
func (eng *Engine) Watches() *store.Store[Watch] { return eng.watches }

// KeyForIndex resolves a GPU's discovery index to its object key, used at
// startup to wire a watch-seed file (indexed by GPU index, since the key
// is not known until after Start runs) to an actual WatchCreateRequest.
func (eng *Engine) KeyForIndex(index int) (objkey.Key, bool) {
	for _, key := range eng.gpus.Keys() {
		entry, ok := eng.gpus.Locate(key)
		if ok && entry.Get().Info.Index == index {
			return key, true
		}
	}
	return objkey.Key{}, false
}

// Start discovers the backend's GPU fleet and inserts one record per
// device. Must be called before Worker().Run().
func (eng *Engine) Start(ctx context.Context) error {
	infos, err := eng.backend.Discover(ctx)
	if err != nil {
		return fmt.Errorf("apiengine: discover: %w", err)
	}
	for _, info := range infos {
		key := objkey.DeriveGPUKey(eng.hostID, uint8(info.Index), info.UniqueID)
		gpu, err := eng.sample(ctx, key, info)
		if err != nil {
			return fmt.Errorf("apiengine: initial read for GPU %d: %w", info.Index, err)
		}
		if err := eng.gpus.Insert(key, gpu); err != nil {
			return err
		}
	}
	return nil
}

func (eng *Engine) sample(ctx context.Context, key objkey.Key, info smi.GPUInfo) (GPU, error) {
	spec, err := eng.backend.FillSpec(ctx, info.Index)
	if err != nil {
		return GPU{}, err
	}
	status, err := eng.backend.FillStatus(ctx, info.Index)
	if err != nil {
		return GPU{}, err
	}
	stats, err := eng.backend.FillStats(ctx, info.Index)
	if err != nil {
		return GPU{}, err
	}
	return GPU{Key: key, Info: info, Spec: spec, Status: status, Stats: stats, LastUpdated: time.Now()}, nil
}

func (eng *Engine) handle(e *bus.Envelope) {
	switch bus.MsgID(e.MsgID) {
	case MsgGpuUpdate:
		eng.handleGpuUpdate(e)
	case MsgGpuReset:
		eng.handleGpuReset(e)
	case MsgWatchCreate:
		eng.handleWatchCreate(e)
	case MsgWatchDelete:
		eng.handleWatchDelete(e)
	case MsgWatchRef:
		eng.handleWatchRef(e)
	case MsgTopologyGet:
		eng.handleTopologyGet(e)
	default:
		trace.API(EndpointID, string(e.MsgID), fmt.Errorf("apiengine: unknown message %q", e.MsgID))
		eng.b.Done(e)
	}
}

// handleGpuUpdate applies req.Mask's selected Spec fields to req.Key's
// device (§3.1 Spec, §4.4, §4.5 update) and republishes the GPU record
// with the committed Spec, satisfying S2 ("GpuUpdate({key=K,
// overdrive=5}) returns OK, then GpuGet([K]).spec.overdrive == 5").
func (eng *Engine) handleGpuUpdate(e *bus.Envelope) {
	req := e.Payload.(GpuUpdateRequest)

	entry, ok := eng.gpus.Locate(req.Key)
	if !ok {
		eng.b.Respond(e, GpuUpdateReply{Err: notFoundErr("apiengine: unknown GPU %s", req.Key)})
		return
	}
	if !entry.Latch() {
		eng.b.Respond(e, GpuUpdateReply{Err: inUseErr("apiengine: GPU %s is already being updated", req.Key)})
		return
	}

	current := entry.Get()
	committed, err := eng.backend.Update(context.Background(), current.Info.Index, req.Spec, req.Mask)
	if err != nil {
		entry.Release()
		trace.API(EndpointID, MsgGpuUpdate, err)
		eng.b.Respond(e, GpuUpdateReply{Err: invalidArgErr(smiUpdateDetail(err), "apiengine: update GPU %s: %v", req.Key, err)})
		return
	}

	stats, err := eng.backend.FillStats(context.Background(), current.Info.Index)
	if err != nil {
		entry.Release()
		trace.API(EndpointID, MsgGpuUpdate, err)
		eng.b.Respond(e, GpuUpdateReply{Err: errEngine("apiengine: resample GPU %s after update: %v", req.Key, err)})
		return
	}

	updated := current
	updated.Spec = committed
	updated.Stats = stats
	updated.LastUpdated = time.Now()
	entry.Unlatch(updated)

	trace.API(EndpointID, MsgGpuUpdate, nil)
	eng.b.Respond(e, GpuUpdateReply{GPU: updated})
}

func (eng *Engine) handleGpuReset(e *bus.Envelope) {
	req := e.Payload.(GpuResetRequest)

	if req.Key.IsZero() {
		result, err := eng.backend.Reset(context.Background(), -1)
		if err == nil {
			for _, key := range eng.gpus.Keys() {
				eng.resampleAfterReset(key)
			}
		}
		trace.API(EndpointID, MsgGpuReset, err)
		eng.b.Respond(e, GpuResetReply{Result: result, Err: wrapResetErr(err)})
		return
	}

	entry, ok := eng.gpus.Locate(req.Key)
	if !ok {
		eng.b.Respond(e, GpuResetReply{Err: invalidArgErr(DetailUnknown, "apiengine: unknown GPU %s", req.Key)})
		return
	}
	result, err := eng.backend.Reset(context.Background(), entry.Get().Info.Index)
	if err == nil {
		eng.resampleAfterReset(req.Key)
	}
	trace.API(EndpointID, MsgGpuReset, err)
	eng.b.Respond(e, GpuResetReply{Result: result, Err: wrapResetErr(err)})
}

func wrapResetErr(err error) error {
	if err == nil {
		return nil
	}
	return errEngine("apiengine: reset: %v", err)
}

// resampleAfterReset re-reads a GPU's status/stats post-reset under its
// own latch, independent of the caller's own possibly-already-held latch.
func (eng *Engine) resampleAfterReset(key objkey.Key) {
	entry, ok := eng.gpus.Locate(key)
	if !ok || !entry.Latch() {
		return
	}
	current := entry.Get()
	ctx := context.Background()
	status, err := eng.backend.FillStatus(ctx, current.Info.Index)
	if err != nil {
		entry.Release()
		return
	}
	stats, err := eng.backend.FillStats(ctx, current.Info.Index)
	if err != nil {
		entry.Release()
		return
	}
	current.Status = status
	current.Stats = stats
	current.LastUpdated = time.Now()
	entry.Unlatch(current)
}

func (eng *Engine) handleWatchCreate(e *bus.Envelope) {
	req := e.Payload.(WatchCreateRequest)

	if len(req.GPUKeys) == 0 {
		eng.b.Respond(e, WatchCreateReply{Err: invalidArgErr(DetailUnknown, "apiengine: watch requires at least one GPU key")})
		return
	}
	for _, k := range req.GPUKeys {
		if _, ok := eng.gpus.Locate(k); !ok {
			eng.b.Respond(e, WatchCreateReply{Err: notFoundErr("apiengine: unknown GPU %s", k)})
			return
		}
	}

	if existing, ok := eng.findEquivalentWatch(req); ok {
		entry, _ := eng.watches.Locate(existing)
		if entry.Latch() {
			w := entry.Get()
			w.Subscribers++
			entry.Unlatch(w)
		}
		eng.b.Respond(e, WatchCreateReply{WatchKey: existing})
		return
	}

	key := objkey.NewRandom()
	gpuKeys := append([]objkey.Key(nil), req.GPUKeys...)
	w := Watch{Key: key, GPUKeys: gpuKeys, Attributes: req.Attributes, IntervalMS: req.IntervalMS, Subscribers: 1}
	if err := eng.watches.Insert(key, w); err != nil {
		eng.b.Respond(e, WatchCreateReply{Err: errEngine("apiengine: %v", err)})
		return
	}
	trace.API(EndpointID, MsgWatchCreate, nil)
	eng.b.Respond(e, WatchCreateReply{WatchKey: key})
}

func (eng *Engine) findEquivalentWatch(req WatchCreateRequest) (objkey.Key, bool) {
	for _, key := range eng.watches.Keys() {
		entry, ok := eng.watches.Locate(key)
		if !ok {
			continue
		}
		w := entry.Get()
		if w.IntervalMS != req.IntervalMS {
			continue
		}
		if !sameGPUKeySet(w.GPUKeys, req.GPUKeys) {
			continue
		}
		if sameAttributes(w.Attributes, req.Attributes) {
			return key, true
		}
	}
	return objkey.Key{}, false
}

// handleWatchDelete drops a watch only if it currently has no
// subscribers (§3.2 invariant 4, §8 invariant 4, S6): "For all Watch
// entries with subscriber count > 0, WatchDelete returns IN_USE and the
// entry remains in the store."
func (eng *Engine) handleWatchDelete(e *bus.Envelope) {
	req := e.Payload.(WatchDeleteRequest)

	entry, ok := eng.watches.Locate(req.WatchKey)
	if !ok {
		eng.b.Respond(e, WatchDeleteReply{Err: notFoundErr("apiengine: unknown watch %s", req.WatchKey)})
		return
	}
	if !entry.Latch() {
		eng.b.Respond(e, WatchDeleteReply{Err: inUseErr("apiengine: watch %s is busy", req.WatchKey)})
		return
	}
	subscribers := entry.Get().Subscribers
	entry.Release()
	if subscribers > 0 {
		trace.API(EndpointID, MsgWatchDelete, nil)
		eng.b.Respond(e, WatchDeleteReply{Err: inUseErr("apiengine: watch %s has %d active subscriber(s)", req.WatchKey, subscribers)})
		return
	}

	if err := eng.watches.Delete(req.WatchKey); err != nil {
		eng.b.Respond(e, WatchDeleteReply{Err: errEngine("apiengine: %v", err)})
		return
	}
	trace.API(EndpointID, MsgWatchDelete, nil)
	eng.b.Respond(e, WatchDeleteReply{})
}

func (eng *Engine) handleWatchRef(e *bus.Envelope) {
	req := e.Payload.(WatchRefRequest)
	entry, ok := eng.watches.Locate(req.WatchKey)
	if !ok {
		eng.b.Respond(e, WatchRefReply{Err: notFoundErr("apiengine: unknown watch %s", req.WatchKey)})
		return
	}
	if !entry.Latch() {
		eng.b.Respond(e, WatchRefReply{Err: inUseErr("apiengine: watch %s is busy", req.WatchKey)})
		return
	}
	w := entry.Get()
	w.Subscribers += req.Delta
	if w.Subscribers < 0 {
		w.Subscribers = 0
	}
	entry.Unlatch(w)
	eng.b.Respond(e, WatchRefReply{Refs: w.Subscribers})
}

func (eng *Engine) handleTopologyGet(e *bus.Envelope) {
	topo, err := eng.backend.FillTopology(context.Background())
	if err != nil {
		trace.API(EndpointID, MsgTopologyGet, err)
		eng.b.Respond(e, TopologyGetReply{Err: errEngine("apiengine: fill topology: %v", err)})
		return
	}
	eng.b.Respond(e, TopologyGetReply{Topology: topo})
}
