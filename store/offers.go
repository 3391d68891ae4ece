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

// Package store holds the materialized dataset: the
// hotel table and the columnar offer store.
//
// Offers live as a structure-of-arrays: one contiguous
// typed array per column. Row i is the i-th element of
// every column. Categorical columns hold uint16 ids
// from an intern.Table owned by the engine; the store
// itself never touches strings.
package store

import (
	"fmt"

	"github.com/offertrove/trove/bitset"
	"github.com/offertrove/trove/date"
)

// scanBlock is the row granularity of Scan; visiting
// rows in contiguous blocks keeps the per-column
// cache lines hot across predicate evaluations.
const scanBlock = 1024

// ErrCapacity is returned by Append on a full store.
type ErrCapacity struct {
	Cap int
}

func (e *ErrCapacity) Error() string {
	return fmt.Sprintf("store: capacity %d exceeded", e.Cap)
}

// ErrOutOfBounds is returned by Get for rows that
// were never appended.
type ErrOutOfBounds struct {
	Row, Len int
}

func (e *ErrOutOfBounds) Error() string {
	return fmt.Sprintf("store: row %d out of bounds (len %d)", e.Row, e.Len)
}

// Offer is one materialized offer row. Categorical
// fields are interned ids; timestamps are UTC millis.
type Offer struct {
	HotelID       uint32
	Price         float32
	Adults        uint8
	Children      uint8
	OutDeparture  date.Millis
	OutArrival    date.Millis
	InDeparture   date.Millis
	InArrival     date.Millis
	OutDepAirport uint16
	OutArrAirport uint16
	InDepAirport  uint16
	InArrAirport  uint16
	Meal          uint16
	Room          uint16
	Duration      uint16
	OceanView     bool
}

// Offers is the columnar offer store. Capacity is
// fixed at construction; rows are append-only during
// load and immutable afterwards, so row indices are
// stable and every index built over the store stays
// consistent with exactly this row set.
type Offers struct {
	capacity int
	n        int

	hotelID  []uint32
	price    []float32
	adults   []uint8
	children []uint8
	outDep   []int64
	outArr   []int64
	inDep    []int64
	inArr    []int64
	outDepAp []uint16
	outArrAp []uint16
	inDepAp  []uint16
	inArrAp  []uint16
	meal     []uint16
	room     []uint16
	duration []uint16
	ocean    []uint64 // bit-packed
}

// NewOffers returns an empty store with room for
// capacity rows. All column arrays are allocated
// up front; a failed allocation here is preferable
// to one halfway through a 100M-row ingest.
func NewOffers(capacity int) *Offers {
	return &Offers{
		capacity: capacity,
		hotelID:  make([]uint32, 0, capacity),
		price:    make([]float32, 0, capacity),
		adults:   make([]uint8, 0, capacity),
		children: make([]uint8, 0, capacity),
		outDep:   make([]int64, 0, capacity),
		outArr:   make([]int64, 0, capacity),
		inDep:    make([]int64, 0, capacity),
		inArr:    make([]int64, 0, capacity),
		outDepAp: make([]uint16, 0, capacity),
		outArrAp: make([]uint16, 0, capacity),
		inDepAp:  make([]uint16, 0, capacity),
		inArrAp:  make([]uint16, 0, capacity),
		meal:     make([]uint16, 0, capacity),
		room:     make([]uint16, 0, capacity),
		duration: make([]uint16, 0, capacity),
		ocean:    make([]uint64, (capacity+63)/64),
	}
}

// Len returns the current row count.
func (o *Offers) Len() int { return o.n }

// Cap returns the fixed capacity.
func (o *Offers) Cap() int { return o.capacity }

// Append writes r at row index Len and increments
// the row count.
func (o *Offers) Append(r *Offer) error {
	if o.n == o.capacity {
		return &ErrCapacity{Cap: o.capacity}
	}
	o.hotelID = append(o.hotelID, r.HotelID)
	o.price = append(o.price, r.Price)
	o.adults = append(o.adults, r.Adults)
	o.children = append(o.children, r.Children)
	o.outDep = append(o.outDep, int64(r.OutDeparture))
	o.outArr = append(o.outArr, int64(r.OutArrival))
	o.inDep = append(o.inDep, int64(r.InDeparture))
	o.inArr = append(o.inArr, int64(r.InArrival))
	o.outDepAp = append(o.outDepAp, r.OutDepAirport)
	o.outArrAp = append(o.outArrAp, r.OutArrAirport)
	o.inDepAp = append(o.inDepAp, r.InDepAirport)
	o.inArrAp = append(o.inArrAp, r.InArrAirport)
	o.meal = append(o.meal, r.Meal)
	o.room = append(o.room, r.Room)
	o.duration = append(o.duration, r.Duration)
	if r.OceanView {
		o.ocean[o.n/64] |= 1 << (uint(o.n) % 64)
	}
	o.n++
	return nil
}

// Get reconstructs row i from the column arrays.
func (o *Offers) Get(i int) (Offer, error) {
	if i < 0 || i >= o.n {
		return Offer{}, &ErrOutOfBounds{Row: i, Len: o.n}
	}
	return Offer{
		HotelID:       o.hotelID[i],
		Price:         o.price[i],
		Adults:        o.adults[i],
		Children:      o.children[i],
		OutDeparture:  date.Millis(o.outDep[i]),
		OutArrival:    date.Millis(o.outArr[i]),
		InDeparture:   date.Millis(o.inDep[i]),
		InArrival:     date.Millis(o.inArr[i]),
		OutDepAirport: o.outDepAp[i],
		OutArrAirport: o.outArrAp[i],
		InDepAirport:  o.inDepAp[i],
		InArrAirport:  o.inArrAp[i],
		Meal:          o.meal[i],
		Room:          o.room[i],
		Duration:      o.duration[i],
		OceanView:     o.OceanView(i),
	}, nil
}

// Scan evaluates pred over every row and returns the
// matching row set. Rows are visited in contiguous
// blocks of 1024 in ascending order.
func (o *Offers) Scan(pred func(i int) bool) *bitset.Set {
	out := bitset.New(o.n)
	for lo := 0; lo < o.n; lo += scanBlock {
		hi := lo + scanBlock
		if hi > o.n {
			hi = o.n
		}
		for i := lo; i < hi; i++ {
			if pred(i) {
				out.SetBit(i)
			}
		}
	}
	return out
}

// Column accessors. The returned slices are the live
// column arrays (length Len); callers treat them as
// read-only. The executor's residual filters touch
// these directly instead of materializing Offer values.

func (o *Offers) HotelIDs() []uint32   { return o.hotelID }
func (o *Offers) Prices() []float32    { return o.price }
func (o *Offers) AdultCounts() []uint8 { return o.adults }
func (o *Offers) ChildCounts() []uint8 { return o.children }
func (o *Offers) OutDepartures() []int64 {
	return o.outDep
}
func (o *Offers) InDepartures() []int64    { return o.inDep }
func (o *Offers) OutDepAirports() []uint16 { return o.outDepAp }
func (o *Offers) InDepAirports() []uint16  { return o.inDepAp }
func (o *Offers) OutArrAirports() []uint16 { return o.outArrAp }
func (o *Offers) InArrAirports() []uint16  { return o.inArrAp }
func (o *Offers) Meals() []uint16          { return o.meal }
func (o *Offers) Rooms() []uint16          { return o.room }
func (o *Offers) Durations() []uint16      { return o.duration }

// OceanView reports the packed ocean_view bit of row i.
func (o *Offers) OceanView(i int) bool {
	return o.ocean[i/64]&(1<<(uint(i)%64)) != 0
}

// MemSize returns the approximate byte footprint of
// the column arrays (capacity, not length: the arrays
// are preallocated).
func (o *Offers) MemSize() int64 {
	c := int64(o.capacity)
	per := int64(4 + 4 + 1 + 1 + 8*4 + 2*4 + 2 + 2 + 2)
	return c*per + int64(len(o.ocean))*8
}
