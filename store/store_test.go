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

package store

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/offertrove/trove/date"
)

func TestHotels(t *testing.T) {
	var h Hotels
	for _, ht := range []Hotel{
		{ID: 1, Name: "Alpenhof", Stars: 4},
		{ID: 3, Name: "Seeblick", Stars: 3.5},
		{ID: 4200000, Name: "Overflow Palace", Stars: 5}, // beyond flatLimit
	} {
		if err := h.Insert(ht); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.Insert(Hotel{ID: 1, Name: "dup"}); err == nil {
		t.Fatal("duplicate insert succeeded")
	} else {
		var dup *DuplicateHotel
		if !errors.As(err, &dup) || dup.ID != 1 {
			t.Fatalf("err = %v", err)
		}
	}
	if h.Len() != 3 {
		t.Fatalf("Len = %d", h.Len())
	}
	for _, c := range []struct {
		id   uint32
		want string
	}{{1, "Alpenhof"}, {3, "Seeblick"}, {4200000, "Overflow Palace"}} {
		got, ok := h.Get(c.id)
		if !ok || got.Name != c.want {
			t.Fatalf("Get(%d) = (%+v, %v)", c.id, got, ok)
		}
		if !h.Contains(c.id) {
			t.Fatalf("Contains(%d) = false", c.id)
		}
	}
	for _, id := range []uint32{0, 2, 999, 9999999} {
		if h.Contains(id) {
			t.Fatalf("Contains(%d) = true", id)
		}
		if _, ok := h.Get(id); ok {
			t.Fatalf("Get(%d) succeeded", id)
		}
	}
}

func mkOffer(i int) Offer {
	return Offer{
		HotelID:       uint32(i%7 + 1),
		Price:         float32(i) * 1.5,
		Adults:        uint8(i % 4),
		Children:      uint8(i % 3),
		OutDeparture:  date.Millis(1700000000000 + int64(i)*86400000),
		OutArrival:    date.Millis(1700000000000 + int64(i)*86400000 + 7200000),
		InDeparture:   date.Millis(1700000000000 + int64(i+7)*86400000),
		InArrival:     date.Millis(1700000000000 + int64(i+7)*86400000 + 7200000),
		OutDepAirport: uint16(i % 5),
		OutArrAirport: uint16(i % 6),
		InDepAirport:  uint16(i % 6),
		InArrAirport:  uint16(i % 5),
		Meal:          uint16(i % 3),
		Room:          uint16(i % 4),
		Duration:      7,
		OceanView:     i%2 == 0,
	}
}

func TestOffersRoundTrip(t *testing.T) {
	const n = 130 // crosses a packed-bit word boundary
	o := NewOffers(n)
	for i := 0; i < n; i++ {
		r := mkOffer(i)
		if err := o.Append(&r); err != nil {
			t.Fatal(err)
		}
	}
	if o.Len() != n {
		t.Fatalf("Len = %d", o.Len())
	}
	for i := 0; i < n; i++ {
		got, err := o.Get(i)
		if err != nil {
			t.Fatal(err)
		}
		if got != mkOffer(i) {
			t.Fatalf("row %d: got %+v want %+v", i, got, mkOffer(i))
		}
	}
}

func TestOffersBounds(t *testing.T) {
	o := NewOffers(2)
	r := mkOffer(0)
	o.Append(&r)
	if _, err := o.Get(1); err == nil {
		t.Fatal("Get past Len succeeded")
	} else {
		var oob *ErrOutOfBounds
		if !errors.As(err, &oob) || oob.Row != 1 || oob.Len != 1 {
			t.Fatalf("err = %v", err)
		}
	}
	if _, err := o.Get(-1); err == nil {
		t.Fatal("Get(-1) succeeded")
	}
	o.Append(&r)
	if err := o.Append(&r); err == nil {
		t.Fatal("Append past capacity succeeded")
	} else {
		var full *ErrCapacity
		if !errors.As(err, &full) || full.Cap != 2 {
			t.Fatalf("err = %v", err)
		}
	}
}

func TestScan(t *testing.T) {
	const n = 3000 // multiple scan blocks
	o := NewOffers(n)
	rng := rand.New(rand.NewSource(7))
	expensive := map[int]bool{}
	for i := 0; i < n; i++ {
		r := mkOffer(i)
		r.Price = float32(rng.Intn(500))
		if r.Price > 400 {
			expensive[i] = true
		}
		o.Append(&r)
	}
	prices := o.Prices()
	bs := o.Scan(func(i int) bool { return prices[i] > 400 })
	if bs.Len() != n {
		t.Fatalf("scan result covers %d bits", bs.Len())
	}
	if bs.Popcount() != len(expensive) {
		t.Fatalf("popcount = %d, want %d", bs.Popcount(), len(expensive))
	}
	bs.Each(func(i int) bool {
		if !expensive[i] {
			t.Fatalf("row %d wrongly matched", i)
		}
		return true
	})
}
