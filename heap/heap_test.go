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

package heap

import (
	"math/rand"
	"sort"
	"testing"
)

func TestPushPop(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	rng := rand.New(rand.NewSource(1))
	var h []int
	var ref []int
	for i := 0; i < 1000; i++ {
		v := rng.Intn(500)
		Push(&h, v, less)
		ref = append(ref, v)
	}
	sort.Ints(ref)
	for i, want := range ref {
		if got := Pop(&h, less); got != want {
			t.Fatalf("pop #%d = %d, want %d", i, got, want)
		}
	}
	if len(h) != 0 {
		t.Fatalf("heap not drained: %d left", len(h))
	}
}

func TestFix(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	h := []int{}
	for _, v := range []int{5, 9, 3, 7, 1} {
		Push(&h, v, less)
	}
	// overwrite the min and restore
	h[0] = 100
	Fix(h, 0, less)
	if got := Pop(&h, less); got != 3 {
		t.Fatalf("after Fix, min = %d, want 3", got)
	}
}
