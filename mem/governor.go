// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package mem classifies current heap usage against a
// memory ceiling into four coarse pressure levels and
// offers a best-effort release valve. The query
// executor consults the governor between chunks to
// decide whether to downgrade its strategy.
package mem

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Pressure is the coarse heap-usage classification.
type Pressure uint8

const (
	Low      Pressure = iota // < 50% of ceiling
	Medium                   // 50–75%
	High                     // 75–90%
	Critical                 // >= 90%
)

func (p Pressure) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return "unknown"
}

// Governor observes heap usage against a fixed ceiling.
// Pressure recomputes the level; Last is a single atomic
// read for hot paths. All methods are safe for
// concurrent use.
type Governor struct {
	ceiling int64
	usage   func() int64 // overridable for tests
	last    atomic.Uint32

	mu    sync.Mutex
	hooks []func(old, new Pressure)
}

// NewGovernor returns a governor with the given ceiling
// in bytes. A non-positive ceiling autodetects: the
// cgroup2 memory limit if one applies, otherwise total
// system DRAM, otherwise 8 GiB.
func NewGovernor(ceiling int64) *Governor {
	if ceiling <= 0 {
		ceiling = DetectCeiling()
	}
	if ceiling <= 0 {
		ceiling = 8 << 30
	}
	return &Governor{ceiling: ceiling, usage: heapInUse}
}

// Ceiling returns the configured ceiling in bytes.
func (g *Governor) Ceiling() int64 { return g.ceiling }

// HeapInUse returns the bytes the governor currently
// counts against the ceiling.
func (g *Governor) HeapInUse() int64 { return g.usage() }

// Pressure recomputes the current level from live heap
// usage, stores it for Last, and fires the threshold
// hooks on a level change.
func (g *Governor) Pressure() Pressure {
	p := classify(g.usage(), g.ceiling)
	old := Pressure(g.last.Swap(uint32(p)))
	if old != p {
		g.mu.Lock()
		hooks := g.hooks
		g.mu.Unlock()
		for _, fn := range hooks {
			fn(old, p)
		}
	}
	return p
}

// Last returns the level of the most recent Pressure
// call without recomputing.
func (g *Governor) Last() Pressure {
	return Pressure(g.last.Load())
}

// OnThreshold registers fn to run whenever Pressure
// observes a level change. fn runs on the caller of
// Pressure and must be cheap.
func (g *Governor) OnThreshold(fn func(old, new Pressure)) {
	g.mu.Lock()
	g.hooks = append(g.hooks, fn)
	g.mu.Unlock()
}

// ForceRelease triggers a collection and returns
// freed pages to the OS. Best effort; the caller is
// expected to have dropped its own references first.
func (g *Governor) ForceRelease() {
	runtime.GC()
	debug.FreeOSMemory()
}

// SetUsageFunc replaces the heap-usage probe.
// Tests use this to drive deterministic transitions.
func (g *Governor) SetUsageFunc(fn func() int64) {
	g.usage = fn
}

func classify(used, ceiling int64) Pressure {
	// integer math; used*100 cannot overflow for any
	// realistic heap size
	pct := used * 100 / ceiling
	switch {
	case pct < 50:
		return Low
	case pct < 75:
		return Medium
	case pct < 90:
		return High
	}
	return Critical
}

func heapInUse() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapInuse)
}
