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

// Package index materializes per-value row bitsets
// over a frozen columnar store.
//
// For every indexed column, each distinct value maps
// to a bitset with one bit per offer row, set iff that
// row holds the value. The planner ANDs these to narrow
// a query's candidate rows before residual filtering.
// Indexes reference the store's row set at build time;
// after a re-load they are rebuilt, never patched.
package index

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/offertrove/trove/bitset"
	"github.com/offertrove/trove/date"
	"github.com/offertrove/trove/store"
)

// Column identifies one indexed column.
type Column uint8

const (
	HotelID Column = iota
	OutDepAirport
	InDepAirport
	OutArrAirport
	InArrAirport
	// Passengers indexes the (adults, children)
	// pair under PairKey.
	Passengers
	Duration
	Meal
	Room
	// DepartureMonth buckets outbound departure by
	// calendar month (date.MonthKey). Exact timestamps
	// would fan out into near-unique keys; month keys
	// keep the fan-out at twelve per year and let a
	// range predicate OR a handful of bitsets.
	DepartureMonth

	numColumns
)

var colNames = [numColumns]string{
	"hotel_id",
	"outbound_departure_airport",
	"inbound_departure_airport",
	"outbound_arrival_airport",
	"inbound_arrival_airport",
	"passengers",
	"duration",
	"meal_type",
	"room_type",
	"departure_month",
}

func (c Column) String() string {
	if int(c) < len(colNames) {
		return colNames[c]
	}
	return "unknown"
}

// PairKey packs an (adults, children) pair into
// one index key.
func PairKey(adults, children uint8) uint32 {
	return uint32(adults)<<8 | uint32(children)
}

// Options configures Build.
type Options struct {
	// KeyCap is the per-column distinct-key budget.
	// A column exceeding it is skipped with a warning
	// rather than failing the load. Zero means
	// DefaultKeyCap.
	KeyCap int
	// Parallel bounds the build fan-out; zero means
	// GOMAXPROCS, negative means single-threaded.
	Parallel int
}

// DefaultKeyCap comfortably fits the realistic
// cardinalities (300k hotels, tens of airports,
// a few hundred months) with headroom.
const DefaultKeyCap = 1 << 20

type colIndex map[uint32]*bitset.Set

// Set holds the built indexes for one store.
type Set struct {
	rows    int
	cols    [numColumns]colIndex
	skipped []Column
	mem     int64
}

// Rows returns the row count the indexes cover.
func (s *Set) Rows() int { return s.rows }

// Skipped lists columns dropped for exceeding the
// key budget.
func (s *Set) Skipped() []Column { return s.skipped }

// MemSize returns the approximate bitset payload bytes.
func (s *Set) MemSize() int64 { return s.mem }

// Has reports whether column c was built.
func (s *Set) Has(c Column) bool { return s.cols[c] != nil }

// Lookup returns the row bitset for (c, key).
// ok is false when the column was not built or the
// key never occurs; an absent key means an empty
// candidate set, which the planner short-circuits on.
func (s *Set) Lookup(c Column, key uint32) (*bitset.Set, bool) {
	m := s.cols[c]
	if m == nil {
		return nil, false
	}
	bs, ok := m[key]
	return bs, ok
}

// Keys returns the number of distinct keys in column c.
func (s *Set) Keys(c Column) int { return len(s.cols[c]) }

// UnionOf ORs the bitsets of the given keys in column c
// into a fresh set. Keys that never occur contribute
// nothing. ok is false when the column was not built.
func (s *Set) UnionOf(c Column, keys []uint32) (*bitset.Set, bool) {
	m := s.cols[c]
	if m == nil {
		return nil, false
	}
	out := bitset.New(s.rows)
	for _, k := range keys {
		if bs, ok := m[k]; ok {
			out.OrWith(bs)
		}
	}
	return out, true
}

// UnionRange ORs the bitsets of every key k in column c
// with lo <= k <= hi. ok is false when the column was
// not built. The month-bucket index answers date-range
// predicates this way: a range touches O(months) keys.
func (s *Set) UnionRange(c Column, lo, hi uint32) (*bitset.Set, bool) {
	m := s.cols[c]
	if m == nil {
		return nil, false
	}
	out := bitset.New(s.rows)
	for k, bs := range m {
		if k >= lo && k <= hi {
			out.OrWith(bs)
		}
	}
	return out, true
}

// Build constructs indexes over every indexable column
// of o. Columns build in parallel; the returned Set is
// published only after all workers have synchronized.
func Build(o *store.Offers, opts Options) *Set {
	keyCap := opts.KeyCap
	if keyCap <= 0 {
		keyCap = DefaultKeyCap
	}
	par := opts.Parallel
	if par == 0 {
		par = runtime.GOMAXPROCS(0)
	}
	if par < 1 {
		par = 1
	}

	s := &Set{rows: o.Len()}
	keyFns := keyFuncs(o)

	var g errgroup.Group
	g.SetLimit(par)
	results := make([]colIndex, numColumns)
	for c := Column(0); c < numColumns; c++ {
		c := c
		g.Go(func() error {
			results[c] = buildColumn(o.Len(), keyFns[c], keyCap)
			return nil
		})
	}
	g.Wait()

	for c := Column(0); c < numColumns; c++ {
		if results[c] == nil {
			s.skipped = append(s.skipped, c)
			continue
		}
		s.cols[c] = results[c]
		for _, bs := range results[c] {
			s.mem += int64(bs.MemSize())
		}
	}
	return s
}

// buildColumn materializes one column's value bitsets.
// It returns nil when the distinct-key budget is blown.
func buildColumn(rows int, key func(i int) uint32, keyCap int) colIndex {
	m := make(colIndex)
	for i := 0; i < rows; i++ {
		k := key(i)
		bs, ok := m[k]
		if !ok {
			if len(m) >= keyCap {
				return nil
			}
			bs = bitset.New(rows)
			m[k] = bs
		}
		bs.SetBit(i)
	}
	return m
}

func keyFuncs(o *store.Offers) [numColumns]func(i int) uint32 {
	hotels := o.HotelIDs()
	outAp := o.OutDepAirports()
	inAp := o.InDepAirports()
	outArrAp := o.OutArrAirports()
	inArrAp := o.InArrAirports()
	adults := o.AdultCounts()
	children := o.ChildCounts()
	dur := o.Durations()
	meal := o.Meals()
	room := o.Rooms()
	outDep := o.OutDepartures()

	var fns [numColumns]func(i int) uint32
	fns[HotelID] = func(i int) uint32 { return hotels[i] }
	fns[OutDepAirport] = func(i int) uint32 { return uint32(outAp[i]) }
	fns[InDepAirport] = func(i int) uint32 { return uint32(inAp[i]) }
	fns[OutArrAirport] = func(i int) uint32 { return uint32(outArrAp[i]) }
	fns[InArrAirport] = func(i int) uint32 { return uint32(inArrAp[i]) }
	fns[Passengers] = func(i int) uint32 { return PairKey(adults[i], children[i]) }
	fns[Duration] = func(i int) uint32 { return uint32(dur[i]) }
	fns[Meal] = func(i int) uint32 { return uint32(meal[i]) }
	fns[Room] = func(i int) uint32 { return uint32(room[i]) }
	fns[DepartureMonth] = func(i int) uint32 { return date.Millis(outDep[i]).MonthKey() }
	return fns
}
