// Package smi defines the vendor-neutral hardware abstraction (C7) every
// other worker in the agent talks to instead of a specific vendor's SMI
// library. Backend is the capability interface; pkg/smi/mock.go provides
// the in-memory implementation used when no real GPU is present.
package smi

import "context"

// GPUInfo is the static identity of one discovered GPU.
type GPUInfo struct {
	Index    int
	UniqueID uint64
	Name     string
}

// ClockType names one of the five clock domains a Spec/Status can carry a
// range or current value for (§3.1).
type ClockType string

const (
	ClockGfx  ClockType = "gfx"
	ClockMem  ClockType = "mem"
	ClockSoc  ClockType = "soc"
	ClockVclk ClockType = "vclk"
	ClockDclk ClockType = "dclk"
)

// ClockRange is an inclusive frequency range for one clock domain.
type ClockRange struct {
	MinMHz uint32
	MaxMHz uint32
}

// ComputePartitionType is one of the compute-partition modes a GPU can be
// placed into (GpuComputePartitionGet, §4.8).
type ComputePartitionType string

const (
	PartitionSPX ComputePartitionType = "spx"
	PartitionDPX ComputePartitionType = "dpx"
	PartitionQPX ComputePartitionType = "qpx"
	PartitionCPX ComputePartitionType = "cpx"
)

// Spec is the configurable side of a GpuEntry (§3.1): overdrive level,
// performance level, per-clock-type frequency ranges, and compute
// partition. GpuUpdate mutates a Spec through a mask selecting which
// fields apply.
type Spec struct {
	OverdriveLevel   uint32
	PerfLevel        string
	ClockRanges      map[ClockType]ClockRange
	ComputePartition ComputePartitionType
	PowerCapW        uint32
}

// SpecMask selects which Spec fields an Update call should apply; unset
// fields in Spec are left untouched on the device (§4.5 "mask selects
// which spec fields to apply").
type SpecMask struct {
	OverdriveLevel   bool
	PerfLevel        bool
	ClockRanges      map[ClockType]bool
	ComputePartition bool
	PowerCapW        bool
}

// ECCCounts is a correctable/uncorrectable error tally for one IP block.
type ECCCounts struct {
	CE uint64
	UE uint64
}

// XGMILink is the per-link counters for one of up to 8 XGMI links.
type XGMILink struct {
	ErrorCount    uint64
	ThroughputMBs float64
}

// ClockStatus is a clock domain's live, read-only state.
type ClockStatus struct {
	CurrentMHz uint32
	Locked     bool
}

// PCIeStatus is the live PCIe link state.
type PCIeStatus struct {
	LinkWidth   int
	LinkGen     int
	ReplayCount uint64
}

// Status is the read-only side of a GpuEntry (§3.1): identity strings,
// firmware, per-clock live state, PCIe/VRAM/XGMI status, and partition id.
type Status struct {
	Serial          string
	CardSeries      string
	CardModel       string
	CardVendor      string
	DriverVersion   string
	VBIOSVersion    string
	Firmware        map[string]string // component name -> version
	MemoryVendor    string
	Clocks          map[ClockType]ClockStatus
	PCIe            PCIeStatus
	VRAMTotalMB     uint64
	XGMI            [8]XGMILink
	ComputePartition ComputePartitionType
	PartitionID     string
}

// Stats is the live counter side of a GpuEntry (§3.1): power, usage
// counters, VRAM usage, and energy.
type Stats struct {
	PowerAverageW  float32
	PowerInstantW  float32
	GfxActivityPct float32
	MemActivityPct float32
	VRAMUsedMB     uint64
	EnergyJoules   float64

	// ECC is keyed by IP block: "umc", "sdma", "gfx", "mmhub",
	// "pcie_bif", "hdp", "xgmi_wafl".
	ECC map[string]ECCCounts

	TempEdgeC     float32
	TempJunctionC float32
	TempMemoryC   float32
	TempHBMC      [4]float32

	PCIeBandwidthMBs float64
}

// ResetResult is the outcome of a GPU reset operation.
type ResetResult struct {
	Success bool
	Message string
}

// TopologyLink describes one peer-to-peer hop in FillTopology's result.
type TopologyLink struct {
	GPUIndexA int
	GPUIndexB int
	LinkType  string // "xgmi" or "pcie"
	HopCount  int
	WeightMBs float64
}

// Topology is the full peer-to-peer interconnect map (§4.5 fill_topology).
type Topology struct {
	Links []TopologyLink
}

// BadPage is one retired or pending-retirement memory page (§4.5
// bad_pages).
type BadPage struct {
	Address uint64
	Size    uint64
	Status  string // "retired", "pending", "unreservable"
}

// AttrKind tags the value carried by an AttrValue (§9 "C-style union in
// AttrValue": modeled as a tagged variant over {f32, u64, string}).
type AttrKind int

const (
	AttrFloat AttrKind = iota
	AttrUint
	AttrString
)

// AttrValue is one typed watch-attribute sample, as returned by AttrRead.
type AttrValue struct {
	Kind AttrKind
	F    float32
	U    uint64
	S    string
}

// EventKind is one of the closed set of asynchronous hardware event ids
// (§4.5).
type EventKind string

const (
	EventVMPageFault    EventKind = "vm-page-fault"
	EventThermalThrottle EventKind = "thermal-throttle"
	EventGPUPreReset    EventKind = "gpu-pre-reset"
	EventGPUPostReset   EventKind = "gpu-post-reset"
	EventRingHang       EventKind = "ring-hang"
)

// Severity is a streamed event's urgency (§6.1: debug/info/warn/critical).
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Event is one asynchronous hardware event for a specific GPU index, as
// returned in an EventPoll batch.
type Event struct {
	GPUIndex int
	Kind     EventKind
	Severity Severity
	Detail   string
}

// Backend is the capability interface pkg/apiengine, pkg/eventmon, and
// pkg/watchmon program against. A real vendor SMI library and the mock
// backend in mock.go both satisfy it.
type Backend interface {
	// Discover enumerates all GPUs visible on this host.
	Discover(ctx context.Context) ([]GPUInfo, error)

	// FillSpec, FillStatus, and FillStats sample the three facets of one
	// GPU's entry (§3.1/§4.5).
	FillSpec(ctx context.Context, index int) (Spec, error)
	FillStatus(ctx context.Context, index int) (Status, error)
	FillStats(ctx context.Context, index int) (Stats, error)

	// Reset issues a GPU reset. index < 0 means "reset every GPU"
	// (objkey.Zero target, see pkg/rpcfront's GpuReset).
	Reset(ctx context.Context, index int) (ResetResult, error)

	// Update applies the fields of spec selected by mask and returns the
	// Spec actually committed to the device.
	Update(ctx context.Context, index int, spec Spec, mask SpecMask) (Spec, error)

	// FillTopology returns the full peer-to-peer interconnect map.
	FillTopology(ctx context.Context) (Topology, error)

	// PartitionID returns the current compute-partition id for index.
	PartitionID(ctx context.Context, index int) (string, error)

	// BadPages returns the retired/pending memory pages for index.
	BadPages(ctx context.Context, index int) ([]BadPage, error)

	// EventPoll returns the batch of events observed since the last
	// call; it may return an empty batch and must never block.
	EventPoll(ctx context.Context) ([]Event, error)

	// AttrRead returns one typed watch-attribute value (§3.1 enumeration)
	// for the given GPU.
	AttrRead(ctx context.Context, index int, attrID string) (AttrValue, error)
}

// EventNotifier is optionally implemented by backends that can wake the
// event monitor as soon as an event is queued, rather than making it wait
// for its next poll tick. It is a latency optimization only: a Backend
// with no EventNotifier still works correctly, just only discovers events
// on the tick boundary (§4.6).
type EventNotifier interface {
	// Wakeup returns a channel that receives a value whenever EventPoll
	// would return a non-empty batch.
	Wakeup() <-chan struct{}
}
