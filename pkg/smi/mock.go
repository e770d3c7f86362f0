package smi

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// MockBackend is the in-memory Backend used whenever no real GPU/driver
// is present (GPUAGENT_MOCK_GPU_COUNT controls the fleet size). It
// produces plausible, mildly jittered telemetry and supports fault
// injection so pkg/eventmon's tests (and operators running the agent
// against no hardware) can exercise the event-fanout path end to end.
type MockBackend struct {
	mu     sync.Mutex
	gpus   []GPUInfo
	specs  map[int]Spec
	status map[int]Status
	rng    *rand.Rand

	pending []Event
	wake    chan struct{}

	closeMu sync.Mutex
	closed  bool
}

var _ Backend = (*MockBackend)(nil)
var _ EventNotifier = (*MockBackend)(nil)

// NewMockBackend creates a mock fleet of n GPUs, each with a stable,
// distinct uniqueID derived from its index.
func NewMockBackend(n int) *MockBackend {
	b := &MockBackend{
		specs:  make(map[int]Spec, n),
		status: make(map[int]Status, n),
		rng:    rand.New(rand.NewSource(1)),
		wake:   make(chan struct{}, 1),
	}
	for i := 0; i < n; i++ {
		b.gpus = append(b.gpus, GPUInfo{
			Index:    i,
			UniqueID: uint64(0xA000000000000000) | uint64(i),
			Name:     fmt.Sprintf("mock-gpu-%d", i),
		})
		b.specs[i] = Spec{
			OverdriveLevel: 0,
			PerfLevel:      "auto",
			ClockRanges: map[ClockType]ClockRange{
				ClockGfx: {MinMHz: 500, MaxMHz: 2100},
				ClockMem: {MinMHz: 900, MaxMHz: 1200},
			},
			ComputePartition: PartitionSPX,
			PowerCapW:        700,
		}
		b.status[i] = Status{
			Serial:        fmt.Sprintf("SN-%05d", i),
			CardSeries:    "Instinct",
			CardModel:     "MI300X",
			CardVendor:    "AMD",
			DriverVersion: "6.2.1",
			VBIOSVersion:  "113-D673",
			Firmware: map[string]string{
				"smu": "78.10", "vcn": "04.12", "sos": "17.06",
			},
			MemoryVendor: "Samsung",
			Clocks: map[ClockType]ClockStatus{
				ClockGfx:  {CurrentMHz: 1200},
				ClockMem:  {CurrentMHz: 1000},
				ClockSoc:  {CurrentMHz: 900},
				ClockVclk: {CurrentMHz: 700},
				ClockDclk: {CurrentMHz: 700},
			},
			PCIe:             PCIeStatus{LinkWidth: 16, LinkGen: 4, ReplayCount: 0},
			VRAMTotalMB:      65536,
			ComputePartition: PartitionSPX,
			PartitionID:      fmt.Sprintf("part-%d-0", i),
		}
	}
	return b
}

// Discover returns the fixed mock fleet.
func (b *MockBackend) Discover(ctx context.Context) ([]GPUInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]GPUInfo, len(b.gpus))
	copy(out, b.gpus)
	return out, nil
}

// FillSpec returns the current configurable Spec for index.
func (b *MockBackend) FillSpec(ctx context.Context, index int) (Spec, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.specs[index]
	if !ok {
		return Spec{}, fmt.Errorf("smi: no such GPU index %d", index)
	}
	return cloneSpec(s), nil
}

// FillStatus returns the mostly-static identity/firmware Status for index.
func (b *MockBackend) FillStatus(ctx context.Context, index int) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.status[index]
	if !ok {
		return Status{}, fmt.Errorf("smi: no such GPU index %d", index)
	}
	return st, nil
}

// FillStats returns jittered live counters for index, simulating telemetry
// sampled off the device each call.
func (b *MockBackend) FillStats(ctx context.Context, index int) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.gpus) {
		return Stats{}, fmt.Errorf("smi: no such GPU index %d", index)
	}
	jitter := func(base float32, spread float32) float32 {
		return base + (b.rng.Float32()-0.5)*spread
	}
	return Stats{
		PowerAverageW:  jitter(180, 15),
		PowerInstantW:  jitter(190, 20),
		GfxActivityPct: clampPct(jitter(20, 10)),
		MemActivityPct: clampPct(jitter(15, 10)),
		VRAMUsedMB:     2048,
		EnergyJoules:   b.rng.Float64() * 1e8,
		ECC: map[string]ECCCounts{
			"umc": {}, "sdma": {}, "gfx": {}, "mmhub": {},
			"pcie_bif": {}, "hdp": {}, "xgmi_wafl": {},
		},
		TempEdgeC:        jitter(45, 4),
		TempJunctionC:    jitter(55, 4),
		TempMemoryC:      jitter(50, 4),
		TempHBMC:         [4]float32{jitter(50, 4), jitter(50, 4), jitter(50, 4), jitter(50, 4)},
		PCIeBandwidthMBs: jitter(8000, 500),
	}, nil
}

func clampPct(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Reset clears the simulated PCIe replay counter for index (or every GPU
// when index < 0) and reports success. A single-GPU reset also queues the
// pre/post-reset event pair; a reset of every GPU queues no events.
func (b *MockBackend) Reset(ctx context.Context, index int) (ResetResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 {
		for i, st := range b.status {
			st.PCIe.ReplayCount = 0
			b.status[i] = st
		}
		return ResetResult{Success: true, Message: "reset all GPUs"}, nil
	}
	st, ok := b.status[index]
	if !ok {
		return ResetResult{}, fmt.Errorf("smi: no such GPU index %d", index)
	}
	st.PCIe.ReplayCount = 0
	b.status[index] = st
	b.queueLocked(Event{GPUIndex: index, Kind: EventGPUPreReset, Severity: SeverityInfo, Detail: "reset requested"})
	b.queueLocked(Event{GPUIndex: index, Kind: EventGPUPostReset, Severity: SeverityInfo, Detail: "reset complete"})
	return ResetResult{Success: true, Message: fmt.Sprintf("reset GPU %d", index)}, nil
}

// Update applies the mask-selected fields of spec and returns the Spec
// actually committed. Out-of-range values are rejected with a sentinel
// error pkg/apiengine maps to the §6.1 detail-code taxonomy.
func (b *MockBackend) Update(ctx context.Context, index int, spec Spec, mask SpecMask) (Spec, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.specs[index]
	if !ok {
		return Spec{}, fmt.Errorf("smi: no such GPU index %d", index)
	}

	if mask.OverdriveLevel {
		if spec.OverdriveLevel > 20 {
			return cloneSpec(cur), errOverdriveRange
		}
		cur.OverdriveLevel = spec.OverdriveLevel
	}
	if mask.PerfLevel {
		cur.PerfLevel = spec.PerfLevel
	}
	if mask.ComputePartition {
		cur.ComputePartition = spec.ComputePartition
	}
	if mask.PowerCapW {
		if spec.PowerCapW == 0 || spec.PowerCapW > 1200 {
			return cloneSpec(cur), errPowerCapRange
		}
		cur.PowerCapW = spec.PowerCapW
	}
	if len(mask.ClockRanges) > 0 {
		if len(mask.ClockRanges) > 5 {
			return cloneSpec(cur), errTooManyClockRanges
		}
		if cur.ClockRanges == nil {
			cur.ClockRanges = make(map[ClockType]ClockRange)
		}
		for ct, apply := range mask.ClockRanges {
			if !apply {
				continue
			}
			rng, ok := spec.ClockRanges[ct]
			if !ok {
				continue
			}
			if rng.MinMHz > rng.MaxMHz {
				return cloneSpec(cur), errClockRangeInvalid
			}
			cur.ClockRanges[ct] = rng
		}
	}

	b.specs[index] = cur
	if st, ok := b.status[index]; ok {
		st.ComputePartition = cur.ComputePartition
		b.status[index] = st
	}
	return cloneSpec(cur), nil
}

// FillTopology returns an all-to-all XGMI mesh across the mock fleet.
func (b *MockBackend) FillTopology(ctx context.Context) (Topology, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var links []TopologyLink
	for i := 0; i < len(b.gpus); i++ {
		for j := i + 1; j < len(b.gpus); j++ {
			links = append(links, TopologyLink{
				GPUIndexA: i, GPUIndexB: j,
				LinkType: "xgmi", HopCount: 1, WeightMBs: 50000,
			})
		}
	}
	return Topology{Links: links}, nil
}

// PartitionID returns index's current compute-partition id.
func (b *MockBackend) PartitionID(ctx context.Context, index int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.status[index]
	if !ok {
		return "", fmt.Errorf("smi: no such GPU index %d", index)
	}
	return st.PartitionID, nil
}

// BadPages reports the retired/pending memory pages for index; the mock
// fleet never develops any.
func (b *MockBackend) BadPages(ctx context.Context, index int) ([]BadPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.gpus) {
		return nil, fmt.Errorf("smi: no such GPU index %d", index)
	}
	return nil, nil
}

// AttrRead samples one watch attribute by id, the closed enumeration
// SPEC_FULL.md §3 defines.
func (b *MockBackend) AttrRead(ctx context.Context, index int, attrID string) (AttrValue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.status[index]
	if !ok {
		return AttrValue{}, fmt.Errorf("smi: no such GPU index %d", index)
	}

	jitter := func(base float64, spread float64) float32 {
		return float32(base + (b.rng.Float64()*2-1)*spread)
	}

	switch attrID {
	case "gfx", "mem", "soc", "vclk", "dclk":
		base := float64(st.Clocks[ClockType(attrID)].CurrentMHz)
		return AttrValue{Kind: AttrFloat, F: jitter(base, base*0.03)}, nil
	case "edge":
		return AttrValue{Kind: AttrFloat, F: jitter(45, 4)}, nil
	case "junction":
		return AttrValue{Kind: AttrFloat, F: jitter(55, 4)}, nil
	case "memory":
		return AttrValue{Kind: AttrFloat, F: jitter(50, 4)}, nil
	case "hbm0", "hbm1", "hbm2", "hbm3":
		return AttrValue{Kind: AttrFloat, F: jitter(50, 4)}, nil
	case "average_socket":
		return AttrValue{Kind: AttrFloat, F: jitter(180, 15)}, nil
	case "instant_socket":
		return AttrValue{Kind: AttrFloat, F: jitter(190, 20)}, nil
	case "vram_used":
		return AttrValue{Kind: AttrUint, U: 2048}, nil
	case "vram_total":
		return AttrValue{Kind: AttrUint, U: st.VRAMTotalMB}, nil
	case "gfx_activity":
		return AttrValue{Kind: AttrFloat, F: clampPct(jitter(20, 10))}, nil
	case "mem_activity":
		return AttrValue{Kind: AttrFloat, F: clampPct(jitter(15, 10))}, nil
	case "pcie_replay_count":
		return AttrValue{Kind: AttrUint, U: st.PCIe.ReplayCount}, nil
	case "pcie_bandwidth":
		return AttrValue{Kind: AttrFloat, F: jitter(8000, 500)}, nil
	}

	if block, suffix, ok := splitECCAttr(attrID); ok {
		_ = block
		if suffix == "ce" {
			return AttrValue{Kind: AttrUint, U: 0}, nil
		}
		return AttrValue{Kind: AttrUint, U: 0}, nil
	}
	if n, field, ok := splitXGMIAttr(attrID); ok && n >= 0 && n < len(st.XGMI) {
		link := st.XGMI[n]
		if field == "error_count" {
			return AttrValue{Kind: AttrUint, U: link.ErrorCount}, nil
		}
		return AttrValue{Kind: AttrFloat, F: float32(link.ThroughputMBs)}, nil
	}

	return AttrValue{}, fmt.Errorf("smi: unknown attribute %q", attrID)
}

func splitECCAttr(attrID string) (block, suffix string, ok bool) {
	for _, blk := range []string{"umc", "sdma", "gfx", "mmhub", "pcie_bif", "hdp", "xgmi_wafl"} {
		if attrID == blk+"_ce" {
			return blk, "ce", true
		}
		if attrID == blk+"_ue" {
			return blk, "ue", true
		}
	}
	return "", "", false
}

func splitXGMIAttr(attrID string) (n int, field string, ok bool) {
	for i := 0; i < 8; i++ {
		if attrID == fmt.Sprintf("xgmi_link%d_error_count", i) {
			return i, "error_count", true
		}
		if attrID == fmt.Sprintf("xgmi_link%d_throughput", i) {
			return i, "throughput", true
		}
	}
	return 0, "", false
}

// EventPoll drains and returns every event queued by Reset or an Inject*
// helper since the last call.
func (b *MockBackend) EventPoll(ctx context.Context) ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out, nil
}

// Wakeup implements EventNotifier: it receives a value whenever EventPoll
// would return a non-empty batch.
func (b *MockBackend) Wakeup() <-chan struct{} {
	return b.wake
}

func (b *MockBackend) queueLocked(e Event) {
	b.closeMu.Lock()
	closed := b.closed
	b.closeMu.Unlock()
	if closed {
		return
	}
	b.pending = append(b.pending, e)
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// InjectVMPageFault raises a vm-page-fault event for index, simulating an
// invalid GPU virtual-memory access.
func (b *MockBackend) InjectVMPageFault(index int, addr uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueLocked(Event{GPUIndex: index, Kind: EventVMPageFault, Severity: SeverityWarn,
		Detail: fmt.Sprintf("page fault at 0x%x", addr)})
}

// InjectThermalThrottle raises a thermal-throttle event for index.
func (b *MockBackend) InjectThermalThrottle(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueLocked(Event{GPUIndex: index, Kind: EventThermalThrottle, Severity: SeverityInfo,
		Detail: "junction temperature exceeded throttle threshold"})
}

// InjectRingHang raises a ring-hang event for index.
func (b *MockBackend) InjectRingHang(index int, ring string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueLocked(Event{GPUIndex: index, Kind: EventRingHang, Severity: SeverityCritical,
		Detail: fmt.Sprintf("ring %s hung", ring)})
}

// InjectGPUReset raises the pre/post-reset event pair for index without
// going through Reset, simulating an externally triggered reset.
func (b *MockBackend) InjectGPUReset(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueLocked(Event{GPUIndex: index, Kind: EventGPUPreReset, Severity: SeverityInfo, Detail: "reset requested"})
	b.queueLocked(Event{GPUIndex: index, Kind: EventGPUPostReset, Severity: SeverityInfo, Detail: "reset complete"})
}

// Close marks the backend closed; subsequent Inject* calls become no-ops.
// Safe to call more than once.
func (b *MockBackend) Close() {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	b.closed = true
}

func cloneSpec(s Spec) Spec {
	out := s
	if s.ClockRanges != nil {
		out.ClockRanges = make(map[ClockType]ClockRange, len(s.ClockRanges))
		for k, v := range s.ClockRanges {
			out.ClockRanges[k] = v
		}
	}
	return out
}

// EventSource adapts a Backend's EventNotifier wakeup signal to
// evloop.Source so pkg/eventmon's worker can select on it alongside its
// poll timer; a backend with no EventNotifier still gets correct
// behavior, discovering events on the next tick instead of immediately.
type EventSource struct {
	woke <-chan struct{}
}

// NewEventSource wraps backend's wakeup channel, if it implements
// EventNotifier; otherwise it returns a Source that never fires, and the
// caller's timer-driven poll tick is the only way events surface.
func NewEventSource(backend Backend) *EventSource {
	if n, ok := backend.(EventNotifier); ok {
		return &EventSource{woke: n.Wakeup()}
	}
	return &EventSource{woke: make(chan struct{})}
}

// C implements evloop.Source.
func (s *EventSource) C() <-chan struct{} { return s.woke }
