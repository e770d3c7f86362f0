// Package proto holds the GPU agent's gRPC message types. They are
// hand-authored plain Go structs rather than protoc-gen-go output — see
// gpuagent.proto's header comment and codec.go for why — but carry the
// same field shape and JSON names a generated client would expect.
package proto

// ListGPUsRequest has no fields.
type ListGPUsRequest struct{}

// ListGPUsReply lists every discovered GPU.
type ListGPUsReply struct {
	GPUs []GPUInfo `json:"gpus"`
}

// GetGPURequest identifies a single GPU by its canonical key string.
type GetGPURequest struct {
	GPUKey string `json:"gpu_key"`
}

// GetGPUReply carries one GPU's current record.
type GetGPUReply struct {
	GPU GPUInfo `json:"gpu"`
}

// GPUInfo is the wire representation of one GPU object (§3.1 GpuEntry:
// identity, configurable Spec, read-only Status, live Stats).
type GPUInfo struct {
	GPUKey            string   `json:"gpu_key"`
	Index             int32    `json:"index"`
	Name              string   `json:"name"`
	Spec              GPUSpec  `json:"spec"`
	Status            GPUStatus `json:"status"`
	Stats             GPUStats `json:"stats"`
	LastUpdatedUnixMs int64    `json:"last_updated_unix_ms"`
}

// ClockRange is one clock domain's frequency range, on either a Spec
// (requested range) or a Status (the device's configured range).
type ClockRange struct {
	ClockType string `json:"clock_type"`
	MinMHz    uint32 `json:"min_mhz"`
	MaxMHz    uint32 `json:"max_mhz"`
}

// GPUSpec is the wire representation of §3.1's Spec.
type GPUSpec struct {
	OverdriveLevel   uint32       `json:"overdrive_level"`
	PerfLevel        string       `json:"perf_level"`
	ClockRanges      []ClockRange `json:"clock_ranges"`
	ComputePartition string       `json:"compute_partition"`
	PowerCapW        uint32       `json:"power_cap_w"`
}

// ClockStatus is one clock domain's live current value.
type ClockStatus struct {
	ClockType  string `json:"clock_type"`
	CurrentMHz uint32 `json:"current_mhz"`
	Locked     bool   `json:"locked"`
}

// GPUStatus is the wire representation of §3.1's Status.
type GPUStatus struct {
	Serial           string            `json:"serial"`
	CardSeries       string            `json:"card_series"`
	CardModel        string            `json:"card_model"`
	CardVendor       string            `json:"card_vendor"`
	DriverVersion    string            `json:"driver_version"`
	VBIOSVersion     string            `json:"vbios_version"`
	MemoryVendor     string            `json:"memory_vendor"`
	Firmware         map[string]string `json:"firmware"`
	Clocks           []ClockStatus     `json:"clocks"`
	PCIeLinkWidth    int32             `json:"pcie_link_width"`
	PCIeLinkGen      int32             `json:"pcie_link_gen"`
	PCIeReplayCount  uint64            `json:"pcie_replay_count"`
	VRAMTotalMB      uint64            `json:"vram_total_mb"`
	XGMI             []XGMILink        `json:"xgmi"`
	ComputePartition string            `json:"compute_partition"`
	PartitionID      string            `json:"partition_id"`
}

// GPUStats is the wire representation of §3.1's Stats.
type GPUStats struct {
	PowerAverageW  float32 `json:"power_average_w"`
	PowerInstantW  float32 `json:"power_instant_w"`
	GfxActivityPct float32 `json:"gfx_activity_pct"`
	MemActivityPct float32 `json:"mem_activity_pct"`

	VRAMUsedMB   uint64  `json:"vram_used_mb"`
	EnergyJoules float64 `json:"energy_joules"`

	TempEdgeC     float32   `json:"temp_edge_c"`
	TempJunctionC float32   `json:"temp_junction_c"`
	TempMemoryC   float32   `json:"temp_memory_c"`
	TempHBMC      []float32 `json:"temp_hbm_c"`

	PCIeBandwidthMBs float64 `json:"pcie_bandwidth_mbs"`

	ECC map[string]ECCCounts `json:"ecc"`
}

// ECCCounts is the wire representation of one IP block's ECC tally.
type ECCCounts struct {
	CE uint64 `json:"ce"`
	UE uint64 `json:"ue"`
}

// XGMILink is the wire representation of one XGMI link's counters.
type XGMILink struct {
	ErrorCount    uint64  `json:"error_count"`
	ThroughputMBs float64 `json:"throughput_mbs"`
}

// GpuResetRequest targets one GPU by key, or every GPU when GPUKey is
// empty.
type GpuResetRequest struct {
	GPUKey string `json:"gpu_key"`
}

// GpuResetReply carries the reset outcome.
type GpuResetReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GpuUpdateSpec is one GPU's requested Spec mutation; a nil pointer field
// means "leave this field alone" (the mask, flattened onto the wire
// message rather than carried as a separate bitmask, §4.5 update).
type GpuUpdateSpec struct {
	GPUKey           string       `json:"gpu_key"`
	OverdriveLevel   *uint32      `json:"overdrive_level,omitempty"`
	PerfLevel        *string      `json:"perf_level,omitempty"`
	ClockRanges      []ClockRange `json:"clock_ranges,omitempty"`
	ComputePartition *string      `json:"compute_partition,omitempty"`
	PowerCapW        *uint32      `json:"power_cap_w,omitempty"`
}

// GpuUpdateRequest batches a Spec mutation across one or more GPUs
// (§4.8 "GpuUpdate(specs[])→result").
type GpuUpdateRequest struct {
	Specs []GpuUpdateSpec `json:"specs"`
}

// GpuUpdateResult is one GPU's outcome within a GpuUpdateReply.
type GpuUpdateResult struct {
	GPUKey  string `json:"gpu_key"`
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message,omitempty"`
	GPU     GPUInfo `json:"gpu"`
}

// GpuUpdateReply carries one outcome per requested Spec.
type GpuUpdateReply struct {
	Results []GpuUpdateResult `json:"results"`
}

// GpuComputePartitionGetRequest asks for the compute-partition state of
// the named GPUs, or every GPU when GPUKeys is empty.
type GpuComputePartitionGetRequest struct {
	GPUKeys []string `json:"gpu_keys"`
}

// ComputePartitionInfo is one GPU's compute-partition state.
type ComputePartitionInfo struct {
	GPUKey           string `json:"gpu_key"`
	ComputePartition string `json:"compute_partition"`
	PartitionID      string `json:"partition_id"`
}

// GpuComputePartitionGetReply lists the requested partition info.
type GpuComputePartitionGetReply struct {
	Infos []ComputePartitionInfo `json:"infos"`
}

// TopologyGetRequest has no fields; topology is node-wide.
type TopologyGetRequest struct{}

// TopologyLink is one peer-to-peer interconnect hop.
type TopologyLink struct {
	GPUKeyA   string  `json:"gpu_key_a"`
	GPUKeyB   string  `json:"gpu_key_b"`
	LinkType  string  `json:"link_type"`
	HopCount  int32   `json:"hop_count"`
	WeightMBs float64 `json:"weight_mbs"`
}

// TopologyGetReply carries the node's full interconnect map.
type TopologyGetReply struct {
	Links []TopologyLink `json:"links"`
}

// WatchCreateRequest asks for a standing sample across an ordered set of
// GPUs' attributes (§3.1 "ordered set of GPU keys to watch").
type WatchCreateRequest struct {
	GPUKeys    []string `json:"gpu_keys"`
	Attributes []string `json:"attributes"`
	IntervalMS uint32   `json:"interval_ms"`
}

// WatchCreateReply carries the new (or reused) watch's key.
type WatchCreateReply struct {
	WatchKey string `json:"watch_key"`
}

// WatchDeleteRequest drops a watch, provided it has no active
// subscribers (§8 invariant 4).
type WatchDeleteRequest struct {
	WatchKey string `json:"watch_key"`
}

// WatchDeleteReply is empty; success is the absence of an RPC error.
type WatchDeleteReply struct{}

// WatchGetRequest asks for the current Spec/subscriber-count of one or
// more watches, or every watch when WatchKeys is empty (§8 invariant 5,
// S5: "WatchCreate followed by WatchGet(key) observes the same Spec").
type WatchGetRequest struct {
	WatchKeys []string `json:"watch_keys"`
}

// WatchInfo is one watch's current definition and subscriber count.
type WatchInfo struct {
	WatchKey    string   `json:"watch_key"`
	GPUKeys     []string `json:"gpu_keys"`
	Attributes  []string `json:"attributes"`
	IntervalMS  uint32   `json:"interval_ms"`
	Subscribers int32    `json:"subscribers"`
}

// WatchGetReply lists the requested watches.
type WatchGetReply struct {
	Watches []WatchInfo `json:"watches"`
}

// WatchStreamRequest opens a streaming subscription to one watch's
// samples.
type WatchStreamRequest struct {
	WatchKey string `json:"watch_key"`
}

// AttrValue is the tagged-union wire representation of one sampled watch
// attribute (§9 design note).
type AttrValue struct {
	Kind string  `json:"kind"` // "float", "uint", "string"
	F    float32 `json:"f,omitempty"`
	U    uint64  `json:"u,omitempty"`
	S    string  `json:"s,omitempty"`
	Unit string  `json:"unit"`
}

// WatchAttrSample is one (GPU, attribute, value, units) tuple (§4.7,
// §6.1).
type WatchAttrSample struct {
	GPUKey string    `json:"gpu_key"`
	Attr   string    `json:"attr"`
	Value  AttrValue `json:"value"`
}

// WatchSample is one streamed tick of a watch's sampled attributes
// across every GPU in its set.
type WatchSample struct {
	WatchKey   string            `json:"watch_key"`
	Attrs      []WatchAttrSample `json:"attrs"`
	TimeUnixMs int64             `json:"time_unix_ms"`
}

// EventFilter selects which (GPU, event-id) combinations EventGet and
// EventStream deliver; an empty slice means "no restriction on that
// axis".
type EventFilter struct {
	GPUKeys  []string `json:"gpu_keys"`
	EventIDs []string `json:"event_ids"`
}

// EventStreamRequest opens a streaming subscription to hardware fault
// events matching Filter.
type EventStreamRequest struct {
	Filter EventFilter `json:"filter"`
}

// GpuEvent is one streamed hardware fault (§6.1: event-id, category,
// severity, timestamp, GPU key, description).
type GpuEvent struct {
	GPUKey     string `json:"gpu_key"`
	GPUIndex   int32  `json:"gpu_index"`
	EventID    string `json:"event_id"`
	Category   string `json:"category"`
	Severity   string `json:"severity"`
	Detail     string `json:"detail"`
	TimeUnixMs int64  `json:"time_unix_ms"`
}

// EventGetRequest asks for the current EventRecord snapshot matching
// Filter (§4.8 "EventGet(filter)→events[]").
type EventGetRequest struct {
	Filter EventFilter `json:"filter"`
}

// EventRecordWire is one (GPU, event-id) pair's last-observed state.
type EventRecordWire struct {
	GPUKey     string `json:"gpu_key"`
	EventID    string `json:"event_id"`
	Detail     string `json:"detail"`
	TimeUnixMs int64  `json:"time_unix_ms"`
}

// EventGetReply lists every EventRecord matching the request's filter.
type EventGetReply struct {
	Events []EventRecordWire `json:"events"`
}

// EventGenRequest synthesizes one event as if the backend had raised it
// (§4.6's test-injection hook, "EventGen(spec)→result").
type EventGenRequest struct {
	GPUKey   string `json:"gpu_key"`
	EventID  string `json:"event_id"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// EventGenReply is empty; success is the absence of an RPC error.
type EventGenReply struct{}

// TraceUpdateRequest changes the agent's runtime trace level.
type TraceUpdateRequest struct {
	Level string `json:"level"`
}

// TraceUpdateReply echoes the level now in effect.
type TraceUpdateReply struct {
	Level string `json:"level"`
}

// TraceGetRequest has no fields.
type TraceGetRequest struct{}

// TraceGetReply reports the agent's current trace level.
type TraceGetReply struct {
	Level string `json:"level"`
}

// TraceFlushRequest has no fields.
type TraceFlushRequest struct{}

// TraceFlushReply is empty; success is the absence of an RPC error.
type TraceFlushReply struct{}
