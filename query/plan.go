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

package query

import (
	"math"

	"golang.org/x/exp/slices"

	"github.com/offertrove/trove/bitset"
	"github.com/offertrove/trove/index"
)

// plan is the executor's input: the narrowed candidate
// row set plus the residual predicates that must be
// re-checked per row.
type plan struct {
	// candidates is the AND of all applicable index
	// bitsets; nil means every row is a candidate.
	candidates *bitset.Set
	// empty short-circuits execution: some predicate
	// can match nothing (unknown interned value,
	// absent index key).
	empty bool
	// residual predicates, cheapest first. Row i
	// survives iff all of them hold.
	residual []func(i int) bool
	// scalarOnly is set when no index narrowed the
	// candidates; the streaming strategy shrinks its
	// chunk size in that case.
	scalarOnly bool
}

// plan translates criteria into index probes plus
// residual filters. hotelID narrows to one hotel for
// Q2; pass hasHotel=false for Q1.
func (e *Exec) plan(c *Criteria, hotelID uint32, hasHotel bool) *plan {
	p := &plan{}
	var cands []*bitset.Set

	add := func(bs *bitset.Set) {
		if bs == nil || bs.Empty() {
			p.empty = true
			return
		}
		cands = append(cands, bs)
	}

	if hasHotel {
		if bs, ok := e.idx.Lookup(index.HotelID, hotelID); ok {
			add(bs)
		} else if e.idx.Has(index.HotelID) {
			// known column, absent key: no such hotel rows
			p.empty = true
		} else {
			ids := e.offers.HotelIDs()
			p.residual = append(p.residual, func(i int) bool { return ids[i] == hotelID })
		}
	}

	e.planSet(p, c.DepartureAirports, index.OutDepAirport, e.offers.OutDepAirports(), add)
	e.planSet(p, c.MealTypes, index.Meal, e.offers.Meals(), add)
	e.planSet(p, c.RoomTypes, index.Room, e.offers.Rooms(), add)
	e.planPassengers(p, c, add)
	e.planDuration(p, c, add)
	e.planDates(p, c, add)
	e.planScalars(p, c)

	if p.empty {
		return p
	}
	if len(cands) == 0 {
		p.scalarOnly = true
		return p
	}

	// AND cheapest-first so an empty intersection
	// stops before touching the wide bitsets
	slices.SortFunc(cands, func(a, b *bitset.Set) int {
		return a.Popcount() - b.Popcount()
	})
	acc := cands[0].Clone()
	for _, bs := range cands[1:] {
		if acc.Empty() {
			break
		}
		acc.AndWith(bs)
	}
	if acc.Empty() {
		p.empty = true
		return p
	}
	p.candidates = acc
	return p
}

// planSet handles one set-valued categorical predicate
// (airports, meal types, room types): resolve the
// strings through the interner, then union the
// per-value bitsets, falling back to a residual id-set
// probe when the column's index was skipped.
func (e *Exec) planSet(p *plan, vals []string, col index.Column, column []uint16, add func(*bitset.Set)) {
	if p.empty || len(vals) == 0 {
		return
	}
	ids := make([]uint32, 0, len(vals))
	for _, v := range vals {
		if id, ok := e.names.Lookup(v); ok {
			ids = append(ids, uint32(id))
		}
	}
	if len(ids) == 0 {
		// every requested value is unknown to the
		// dataset: nothing can match
		p.empty = true
		return
	}
	if bs, ok := e.idx.UnionOf(col, ids); ok {
		add(bs)
		return
	}
	want := make(map[uint16]struct{}, len(ids))
	for _, id := range ids {
		want[uint16(id)] = struct{}{}
	}
	p.residual = append(p.residual, func(i int) bool {
		_, ok := want[column[i]]
		return ok
	})
}

func (e *Exec) planPassengers(p *plan, c *Criteria, add func(*bitset.Set)) {
	if p.empty || (c.Adults == nil && c.Children == nil) {
		return
	}
	if c.Adults != nil && c.Children != nil {
		key := index.PairKey(*c.Adults, *c.Children)
		if bs, ok := e.idx.Lookup(index.Passengers, key); ok {
			add(bs)
			return
		}
		if e.idx.Has(index.Passengers) {
			p.empty = true
			return
		}
	}
	if c.Adults != nil {
		want := *c.Adults
		col := e.offers.AdultCounts()
		p.residual = append(p.residual, func(i int) bool { return col[i] == want })
	}
	if c.Children != nil {
		want := *c.Children
		col := e.offers.ChildCounts()
		p.residual = append(p.residual, func(i int) bool { return col[i] == want })
	}
}

func (e *Exec) planDuration(p *plan, c *Criteria, add func(*bitset.Set)) {
	if p.empty || c.Duration == nil {
		return
	}
	if bs, ok := e.idx.Lookup(index.Duration, uint32(*c.Duration)); ok {
		add(bs)
		return
	}
	if e.idx.Has(index.Duration) {
		p.empty = true
		return
	}
	want := *c.Duration
	col := e.offers.Durations()
	p.residual = append(p.residual, func(i int) bool { return col[i] == want })
}

// planDates adds the coarse month-bucket probe. The
// month index covers outbound departure; since every
// offer departs before it returns, latest-return also
// upper-bounds the outbound month. The exact bounds
// stay residual either way.
func (e *Exec) planDates(p *plan, c *Criteria, add func(*bitset.Set)) {
	if p.empty || (c.EarliestDeparture == 0 && c.LatestReturn == 0) {
		return
	}
	lo, hi := uint32(0), uint32(math.MaxUint32)
	if c.EarliestDeparture != 0 {
		lo = c.EarliestDeparture.StartOfDay().MonthKey()
	}
	if c.LatestReturn != 0 {
		hi = c.LatestReturn.EndOfDay().MonthKey()
	}
	if bs, ok := e.idx.UnionRange(index.DepartureMonth, lo, hi); ok {
		add(bs)
	}
}

// planScalars attaches the always-residual predicates:
// exact date bounds, price range, ocean view, stars.
func (e *Exec) planScalars(p *plan, c *Criteria) {
	if p.empty {
		return
	}
	if c.EarliestDeparture != 0 {
		bound := int64(c.EarliestDeparture.StartOfDay())
		col := e.offers.OutDepartures()
		p.residual = append(p.residual, func(i int) bool { return col[i] >= bound })
	}
	if c.LatestReturn != 0 {
		bound := int64(c.LatestReturn.EndOfDay())
		col := e.offers.InDepartures()
		p.residual = append(p.residual, func(i int) bool { return col[i] <= bound })
	}
	if c.MinPrice != nil {
		want := *c.MinPrice
		col := e.offers.Prices()
		p.residual = append(p.residual, func(i int) bool { return col[i] >= want })
	}
	if c.MaxPrice != nil {
		want := *c.MaxPrice
		col := e.offers.Prices()
		p.residual = append(p.residual, func(i int) bool { return col[i] <= want })
	}
	if c.OceanView != nil {
		want := *c.OceanView
		o := e.offers
		p.residual = append(p.residual, func(i int) bool { return o.OceanView(i) == want })
	}
	if len(c.HotelStars) > 0 {
		want := make(map[float32]struct{}, len(c.HotelStars))
		for _, s := range c.HotelStars {
			want[s] = struct{}{}
		}
		ids := e.offers.HotelIDs()
		hotels := e.hotels
		p.residual = append(p.residual, func(i int) bool {
			h, ok := hotels.Get(ids[i])
			if !ok {
				return false
			}
			_, in := want[h.Stars]
			return in
		})
	}
}

// matches applies every residual predicate to row i.
func (p *plan) matches(i int) bool {
	for _, pred := range p.residual {
		if !pred(i) {
			return false
		}
	}
	return true
}
