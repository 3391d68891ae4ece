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

package index

import (
	"math/rand"
	"testing"

	"github.com/offertrove/trove/date"
	"github.com/offertrove/trove/store"
)

func fill(t *testing.T, n int, seed int64) *store.Offers {
	t.Helper()
	o := store.NewOffers(n)
	rng := rand.New(rand.NewSource(seed))
	base, _ := date.Parse([]byte("2024-01-15"))
	for i := 0; i < n; i++ {
		r := store.Offer{
			HotelID:       uint32(rng.Intn(40) + 1),
			Price:         float32(rng.Intn(2000)),
			Adults:        uint8(rng.Intn(4) + 1),
			Children:      uint8(rng.Intn(3)),
			OutDeparture:  base.AddDays(rng.Intn(400)),
			OutDepAirport: uint16(rng.Intn(6)),
			InDepAirport:  uint16(rng.Intn(6)),
			OutArrAirport: uint16(rng.Intn(6)),
			InArrAirport:  uint16(rng.Intn(6)),
			Meal:          uint16(rng.Intn(3)),
			Room:          uint16(rng.Intn(4)),
			Duration:      uint16(rng.Intn(14) + 1),
		}
		r.InDeparture = r.OutDeparture.AddDays(int(r.Duration))
		if err := o.Append(&r); err != nil {
			t.Fatal(err)
		}
	}
	return o
}

func TestBuildMatchesScan(t *testing.T) {
	o := fill(t, 5000, 1)
	s := Build(o, Options{})
	if s.Rows() != o.Len() {
		t.Fatalf("Rows = %d", s.Rows())
	}
	if len(s.Skipped()) != 0 {
		t.Fatalf("skipped: %v", s.Skipped())
	}

	// every (column, key) bitset must equal the
	// brute-force scan for that predicate
	keyFns := keyFuncs(o)
	for c := Column(0); c < numColumns; c++ {
		seen := map[uint32]bool{}
		for i := 0; i < o.Len(); i++ {
			k := keyFns[c](i)
			if seen[k] {
				continue
			}
			seen[k] = true
			bs, ok := s.Lookup(c, k)
			if !ok {
				t.Fatalf("%s: key %d missing", c, k)
			}
			want := o.Scan(func(i int) bool { return keyFns[c](i) == k })
			if bs.Popcount() != want.Popcount() {
				t.Fatalf("%s key %d: popcount %d, want %d", c, k, bs.Popcount(), want.Popcount())
			}
			bs.Each(func(i int) bool {
				if keyFns[c](i) != k {
					t.Fatalf("%s key %d: row %d has key %d", c, k, i, keyFns[c](i))
				}
				return true
			})
		}
	}
}

func TestLookupAbsent(t *testing.T) {
	o := fill(t, 100, 2)
	s := Build(o, Options{})
	if _, ok := s.Lookup(HotelID, 99999); ok {
		t.Fatal("absent key found")
	}
}

func TestKeyCap(t *testing.T) {
	o := fill(t, 2000, 3)
	// cap below hotel cardinality (40) but above
	// airport cardinality (6)
	s := Build(o, Options{KeyCap: 10, Parallel: -1})
	var gotSkipped bool
	for _, c := range s.Skipped() {
		if c == HotelID {
			gotSkipped = true
		}
		if c == Meal {
			t.Fatal("meal index skipped under generous cap")
		}
	}
	if !gotSkipped {
		t.Fatalf("hotel index survived cap 10; skipped=%v", s.Skipped())
	}
	if s.Has(HotelID) {
		t.Fatal("Has reports skipped column")
	}
	if !s.Has(Meal) {
		t.Fatal("meal index missing")
	}
}

func TestParallelDeterminism(t *testing.T) {
	o := fill(t, 3000, 4)
	seq := Build(o, Options{Parallel: -1})
	par := Build(o, Options{Parallel: 8})
	for c := Column(0); c < numColumns; c++ {
		if seq.Keys(c) != par.Keys(c) {
			t.Fatalf("%s: key count %d vs %d", c, seq.Keys(c), par.Keys(c))
		}
	}
	if seq.MemSize() != par.MemSize() {
		t.Fatalf("mem %d vs %d", seq.MemSize(), par.MemSize())
	}
}
