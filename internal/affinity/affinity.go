// Package affinity computes how to pin I/O shard workers to logical
// processors. It mirrors the Windows processor-group model (a group index
// plus a bitmask of CPUs within that group) on top of whatever the host
// actually exposes; on Linux there is exactly one group, so "group" is
// always 0 and the mask ranges over every online CPU.
package affinity

import (
	"fmt"
	"math/bits"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sys/unix"
)

// Policy selects how shard_count shards are mapped onto logical
// processors.
type Policy int

const (
	// None leaves every shard unbound.
	None Policy = iota
	// PerCpu round-robins shards over every logical processor.
	PerCpu
	// PerGroup round-robins shards over processor groups, giving each
	// shard the full mask of its group.
	PerGroup
	// RssAligned is dispatched identically to PerCpu; see the open
	// question recorded in SPEC_FULL.md about whether it should instead
	// consult NIC RSS tables.
	RssAligned
	// Manual means the caller supplies its own mapping; the planner
	// returns Absent.
	Manual
)

func (p Policy) String() string {
	switch p {
	case None:
		return "none"
	case PerCpu:
		return "per-cpu"
	case PerGroup:
		return "per-group"
	case RssAligned:
		return "rss-aligned"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// Entry is one shard's computed affinity: a processor group and a bitmask
// of CPUs within that group. An Entry with a zero Mask and Bound=false
// means "no binding" (policy None).
type Entry struct {
	Group uint16
	Mask  uint64
	Bound bool
}

// Plan is the result of ComputeShardAffinities: either a concrete list of
// shard_count entries, or Absent when the caller must supply its own
// mapping (Manual, or shard_count == 0).
type Plan struct {
	Entries []Entry
	Absent  bool
}

// group models one processor group's logical-CPU count, as gopsutil
// reports it. On Linux there is always exactly one group spanning every
// online CPU.
type group struct {
	index uint16
	cpus  int
}

// topology lists the processor groups a host exposes, most CPU count
// first (least-surprising order when there is only one group). Real
// multi-group hosts (e.g. Windows NUMA nodes) aren't reachable through
// gopsutil; this collapses to a single group of cpu.Counts(true) CPUs on
// every platform gopsutil runs on.
func topology() ([]group, error) {
	n, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("affinity: enumerate logical processors: %w", err)
	}
	if n <= 0 {
		n = 1
	}
	return []group{{index: 0, cpus: n}}, nil
}

// ComputeShardAffinities returns exactly shardCount entries for PerCpu,
// PerGroup, and RssAligned, or Absent for shardCount == 0 or policy ==
// Manual, per the planner's contract.
func ComputeShardAffinities(shardCount int, policy Policy) (Plan, error) {
	if shardCount == 0 || policy == Manual {
		return Plan{Absent: true}, nil
	}
	if shardCount < 0 {
		return Plan{}, fmt.Errorf("affinity: negative shard count %d", shardCount)
	}

	groups, err := topology()
	if err != nil {
		return Plan{}, err
	}

	switch policy {
	case None:
		entries := make([]Entry, shardCount)
		return Plan{Entries: entries}, nil

	case PerCpu, RssAligned:
		total := 0
		for _, g := range groups {
			total += g.cpus
		}
		if total == 0 {
			return Plan{}, fmt.Errorf("affinity: no logical processors reported")
		}
		entries := make([]Entry, shardCount)
		for i := 0; i < shardCount; i++ {
			globalCPU := i % total
			g, local := locateCPU(groups, globalCPU)
			entries[i] = Entry{Group: g, Mask: uint64(1) << uint(local), Bound: true}
		}
		return Plan{Entries: entries}, nil

	case PerGroup:
		if len(groups) == 0 {
			return Plan{}, fmt.Errorf("affinity: no processor groups reported")
		}
		entries := make([]Entry, shardCount)
		for i := 0; i < shardCount; i++ {
			g := groups[i%len(groups)]
			entries[i] = Entry{Group: g.index, Mask: fullMask(g.cpus), Bound: true}
		}
		return Plan{Entries: entries}, nil

	default:
		return Plan{}, fmt.Errorf("affinity: unknown policy %v", policy)
	}
}

// locateCPU maps a global logical-CPU index to (group, local index within
// that group) by prefix-summing per-group counts, per the planner's
// contract for PerCpu/RssAligned.
func locateCPU(groups []group, globalCPU int) (uint16, int) {
	offset := 0
	for _, g := range groups {
		if globalCPU < offset+g.cpus {
			return g.index, globalCPU - offset
		}
		offset += g.cpus
	}
	last := groups[len(groups)-1]
	return last.index, globalCPU - offset + last.cpus
}

// fullMask returns a mask with the low n bits set, clamped to 64 bits
// (the platform's native mask width for this implementation).
func fullMask(n int) uint64 {
	if n <= 0 {
		return 0
	}
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}

// Apply pins the calling OS thread to the CPUs named by e, via
// sched_setaffinity. Callers must have already called
// runtime.LockOSThread. It is a no-op for an unbound entry (policy None).
// Linux has no processor-group concept, so e.Group is ignored here; it
// exists purely to carry a multi-group mapping through to platforms that
// do have one.
func Apply(e Entry) error {
	if !e.Bound || e.Mask == 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	for e.Mask != 0 {
		bit := bits.TrailingZeros64(e.Mask)
		set.Set(bit)
		e.Mask &^= uint64(1) << uint(bit)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity: %w", err)
	}
	return nil
}
