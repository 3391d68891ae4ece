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
	"golang.org/x/exp/slices"

	"github.com/offertrove/trove/heap"
)

// rowRef orders candidate rows by ascending price,
// row index breaking ties; row indices are stable
// load-order positions, so this ordering is total
// and deterministic.
type rowRef struct {
	price float32
	row   int32
}

func rowRefLess(a, b rowRef) bool {
	if a.price != b.price {
		return a.price < b.price
	}
	return a.row < b.row
}

// ktop keeps the k smallest rowRefs seen so far.
// Internally a max-heap of size <= k: the root is the
// current worst kept row, so a new candidate either
// displaces it in O(log k) or is rejected in O(1).
// The streaming strategy feeds every surviving row
// through one of these, so the materialized working
// set never exceeds k rows per hotel.
type ktop struct {
	h       []rowRef
	k       int
	clamped bool
}

func newKtop(k int) *ktop { return &ktop{k: k} }

// worse is the inverted order that turns the min-heap
// package into a max-heap.
func worse(a, b rowRef) bool { return rowRefLess(b, a) }

func (t *ktop) add(r rowRef) {
	if len(t.h) < t.k {
		heap.Push(&t.h, r, worse)
		return
	}
	t.clamped = true
	if rowRefLess(r, t.h[0]) {
		t.h[0] = r
		heap.Fix(t.h, 0, worse)
	}
}

// merge folds o into t.
func (t *ktop) merge(o *ktop) {
	t.clamped = t.clamped || o.clamped
	for _, r := range o.h {
		t.add(r)
	}
}

// sorted returns the kept rows in ascending
// (price, row) order.
func (t *ktop) sorted() []rowRef {
	out := append([]rowRef(nil), t.h...)
	slices.SortFunc(out, func(a, b rowRef) int {
		if rowRefLess(a, b) {
			return -1
		}
		if rowRefLess(b, a) {
			return 1
		}
		return 0
	})
	return out
}
