package rpcfront

import (
	"strings"

	"github.com/rocm/gpuagent/api/proto"
	"github.com/rocm/gpuagent/pkg/apiengine"
	"github.com/rocm/gpuagent/pkg/eventmon"
	"github.com/rocm/gpuagent/pkg/objkey"
	"github.com/rocm/gpuagent/pkg/smi"
	"github.com/rocm/gpuagent/pkg/watchmon"
)

func gpuToWire(g apiengine.GPU) proto.GPUInfo {
	return proto.GPUInfo{
		GPUKey:            g.Key.String(),
		Index:             int32(g.Info.Index),
		Name:              g.Info.Name,
		Spec:              specToWire(g.Spec),
		Status:            statusToWire(g.Status),
		Stats:             statsToWire(g.Stats),
		LastUpdatedUnixMs: g.LastUpdated.UnixMilli(),
	}
}

func specToWire(s smi.Spec) proto.GPUSpec {
	return proto.GPUSpec{
		OverdriveLevel:   s.OverdriveLevel,
		PerfLevel:        s.PerfLevel,
		ClockRanges:      clockRangesToWire(s.ClockRanges),
		ComputePartition: string(s.ComputePartition),
		PowerCapW:        s.PowerCapW,
	}
}

func clockRangesToWire(m map[smi.ClockType]smi.ClockRange) []proto.ClockRange {
	out := make([]proto.ClockRange, 0, len(m))
	for ct, r := range m {
		out = append(out, proto.ClockRange{ClockType: string(ct), MinMHz: r.MinMHz, MaxMHz: r.MaxMHz})
	}
	return out
}

func statusToWire(s smi.Status) proto.GPUStatus {
	out := proto.GPUStatus{
		Serial:           s.Serial,
		CardSeries:       s.CardSeries,
		CardModel:        s.CardModel,
		CardVendor:       s.CardVendor,
		DriverVersion:    s.DriverVersion,
		VBIOSVersion:     s.VBIOSVersion,
		MemoryVendor:     s.MemoryVendor,
		Firmware:         s.Firmware,
		PCIeLinkWidth:    int32(s.PCIe.LinkWidth),
		PCIeLinkGen:      int32(s.PCIe.LinkGen),
		PCIeReplayCount:  s.PCIe.ReplayCount,
		VRAMTotalMB:      s.VRAMTotalMB,
		ComputePartition: string(s.ComputePartition),
		PartitionID:      s.PartitionID,
	}
	for ct, cs := range s.Clocks {
		out.Clocks = append(out.Clocks, proto.ClockStatus{ClockType: string(ct), CurrentMHz: cs.CurrentMHz, Locked: cs.Locked})
	}
	for _, link := range s.XGMI {
		out.XGMI = append(out.XGMI, proto.XGMILink{ErrorCount: link.ErrorCount, ThroughputMBs: link.ThroughputMBs})
	}
	return out
}

func statsToWire(s smi.Stats) proto.GPUStats {
	out := proto.GPUStats{
		PowerAverageW:    s.PowerAverageW,
		PowerInstantW:    s.PowerInstantW,
		GfxActivityPct:   s.GfxActivityPct,
		MemActivityPct:   s.MemActivityPct,
		VRAMUsedMB:       s.VRAMUsedMB,
		EnergyJoules:     s.EnergyJoules,
		TempEdgeC:        s.TempEdgeC,
		TempJunctionC:    s.TempJunctionC,
		TempMemoryC:      s.TempMemoryC,
		TempHBMC:         append([]float32(nil), s.TempHBMC[:]...),
		PCIeBandwidthMBs: s.PCIeBandwidthMBs,
		ECC:              make(map[string]proto.ECCCounts, len(s.ECC)),
	}
	for block, c := range s.ECC {
		out.ECC[block] = proto.ECCCounts{CE: c.CE, UE: c.UE}
	}
	return out
}

// specFromWire applies one GpuUpdateSpec's optional fields onto a zero
// smi.Spec/SpecMask pair (§4.5: the mask is flattened onto the wire
// message as presence rather than carried as a separate bitmask).
func specFromWire(w proto.GpuUpdateSpec) (smi.Spec, smi.SpecMask) {
	var spec smi.Spec
	var mask smi.SpecMask

	if w.OverdriveLevel != nil {
		spec.OverdriveLevel = *w.OverdriveLevel
		mask.OverdriveLevel = true
	}
	if w.PerfLevel != nil {
		spec.PerfLevel = *w.PerfLevel
		mask.PerfLevel = true
	}
	if len(w.ClockRanges) > 0 {
		spec.ClockRanges = make(map[smi.ClockType]smi.ClockRange, len(w.ClockRanges))
		mask.ClockRanges = make(map[smi.ClockType]bool, len(w.ClockRanges))
		for _, cr := range w.ClockRanges {
			ct := smi.ClockType(cr.ClockType)
			spec.ClockRanges[ct] = smi.ClockRange{MinMHz: cr.MinMHz, MaxMHz: cr.MaxMHz}
			mask.ClockRanges[ct] = true
		}
	}
	if w.ComputePartition != nil {
		spec.ComputePartition = smi.ComputePartitionType(*w.ComputePartition)
		mask.ComputePartition = true
	}
	if w.PowerCapW != nil {
		spec.PowerCapW = *w.PowerCapW
		mask.PowerCapW = true
	}
	return spec, mask
}

func watchInfoToWire(w apiengine.Watch) proto.WatchInfo {
	keys := make([]string, len(w.GPUKeys))
	for i, k := range w.GPUKeys {
		keys[i] = k.String()
	}
	return proto.WatchInfo{
		WatchKey:    w.Key.String(),
		GPUKeys:     keys,
		Attributes:  append([]string(nil), w.Attributes...),
		IntervalMS:  w.IntervalMS,
		Subscribers: int32(w.Subscribers),
	}
}

func attrSamplesToWire(attrs []watchmon.AttrSample) []proto.WatchAttrSample {
	out := make([]proto.WatchAttrSample, len(attrs))
	for i, a := range attrs {
		out[i] = proto.WatchAttrSample{
			GPUKey: a.GPUKey.String(),
			Attr:   a.Attr,
			Value:  attrValueToWire(a.Value, a.Attr),
		}
	}
	return out
}

func attrValueToWire(v smi.AttrValue, attr string) proto.AttrValue {
	out := proto.AttrValue{Unit: attrUnit(attr)}
	switch v.Kind {
	case smi.AttrUint:
		out.Kind = "uint"
		out.U = v.U
	case smi.AttrString:
		out.Kind = "string"
		out.S = v.S
	default:
		out.Kind = "float"
		out.F = v.F
	}
	return out
}

// attrUnit reports the physical unit of a watch attribute id, for display
// purposes only (§3 watch attribute enumeration).
func attrUnit(attr string) string {
	switch {
	case attr == "gfx" || attr == "mem" || attr == "soc" || attr == "vclk" || attr == "dclk":
		return "MHz"
	case attr == "edge" || attr == "junction" || attr == "memory" ||
		strings.HasPrefix(attr, "hbm"):
		return "C"
	case attr == "average_socket" || attr == "instant_socket":
		return "W"
	case attr == "vram_used" || attr == "vram_total":
		return "MB"
	case attr == "gfx_activity" || attr == "mem_activity":
		return "%"
	case attr == "pcie_replay_count":
		return "count"
	case attr == "pcie_bandwidth":
		return "MB/s"
	case strings.HasSuffix(attr, "_ce") || strings.HasSuffix(attr, "_ue"):
		return "count"
	case strings.HasSuffix(attr, "_error_count"):
		return "count"
	case strings.HasSuffix(attr, "_throughput"):
		return "MB/s"
	default:
		return ""
	}
}

// eventCategory groups a closed event id into a coarse category for
// display and EventGet/EventStream filtering convenience (§4.5/§6.1).
func eventCategory(kind smi.EventKind) string {
	switch kind {
	case smi.EventVMPageFault:
		return "memory"
	case smi.EventThermalThrottle:
		return "thermal"
	case smi.EventGPUPreReset, smi.EventGPUPostReset:
		return "reset"
	case smi.EventRingHang:
		return "compute"
	default:
		return "unknown"
	}
}

func gpuEventToWire(ev eventmon.GPUEvent) proto.GpuEvent {
	return proto.GpuEvent{
		GPUKey:     ev.GPUKey.String(),
		GPUIndex:   int32(ev.Index),
		EventID:    string(ev.Kind),
		Category:   eventCategory(ev.Kind),
		Severity:   string(ev.Severity),
		Detail:     ev.Detail,
		TimeUnixMs: ev.Time.UnixMilli(),
	}
}

func eventFilterFromWire(f proto.EventFilter) (eventmon.Filter, error) {
	var out eventmon.Filter
	if len(f.GPUKeys) > 0 {
		out.GPUKeys = make(map[objkey.Key]struct{}, len(f.GPUKeys))
		for _, s := range f.GPUKeys {
			k, err := objkey.ParseString(s)
			if err != nil {
				return eventmon.Filter{}, err
			}
			out.GPUKeys[k] = struct{}{}
		}
	}
	if len(f.EventIDs) > 0 {
		out.EventKinds = make(map[smi.EventKind]struct{}, len(f.EventIDs))
		for _, id := range f.EventIDs {
			out.EventKinds[smi.EventKind(id)] = struct{}{}
		}
	}
	return out, nil
}
