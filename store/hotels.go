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
	"fmt"
)

// Hotel is one row of the hotel table.
type Hotel struct {
	ID    uint32
	Name  string
	Stars float32
}

// DuplicateHotel is returned by Insert when the
// id is already present.
type DuplicateHotel struct {
	ID uint32
}

func (e *DuplicateHotel) Error() string {
	return fmt.Sprintf("store: duplicate hotel id %d", e.ID)
}

// flatLimit bounds the directly-indexed portion of
// the table. Production feeds use densely packed
// low ids, so nearly every lookup hits the flat
// slice; ids beyond the limit go to an overflow map.
const flatLimit = 1 << 22

// Hotels maps hotel ids to hotel records. Offer
// ingest calls Contains once per offer row, so both
// Contains and Get are O(1).
//
// Hotels is written during load and read-only afterwards.
type Hotels struct {
	hotels   []Hotel          // record storage, insert order
	flat     []int32          // id -> index into hotels, -1 absent
	overflow map[uint32]int32 // ids >= flatLimit
}

// Len returns the number of hotels.
func (h *Hotels) Len() int { return len(h.hotels) }

// Insert adds a hotel record. Inserting an id that
// is already present is a DuplicateHotel error.
func (h *Hotels) Insert(ht Hotel) error {
	if h.Contains(ht.ID) {
		return &DuplicateHotel{ID: ht.ID}
	}
	idx := int32(len(h.hotels))
	h.hotels = append(h.hotels, ht)
	if ht.ID < flatLimit {
		for int(ht.ID) >= len(h.flat) {
			grow := len(h.flat)*2 + 1024
			if grow > flatLimit {
				grow = flatLimit
			}
			old := h.flat
			h.flat = make([]int32, grow)
			for i := range h.flat {
				h.flat[i] = -1
			}
			copy(h.flat, old)
		}
		h.flat[ht.ID] = idx
		return nil
	}
	if h.overflow == nil {
		h.overflow = make(map[uint32]int32)
	}
	h.overflow[ht.ID] = idx
	return nil
}

// Get returns the hotel with the given id.
func (h *Hotels) Get(id uint32) (Hotel, bool) {
	if id < flatLimit {
		if int(id) >= len(h.flat) || h.flat[id] < 0 {
			return Hotel{}, false
		}
		return h.hotels[h.flat[id]], true
	}
	idx, ok := h.overflow[id]
	if !ok {
		return Hotel{}, false
	}
	return h.hotels[idx], true
}

// Contains reports whether id is present.
func (h *Hotels) Contains(id uint32) bool {
	if id < flatLimit {
		return int(id) < len(h.flat) && h.flat[id] >= 0
	}
	_, ok := h.overflow[id]
	return ok
}

// All returns the records in insert order.
// The caller must not modify the slice.
func (h *Hotels) All() []Hotel { return h.hotels }

// MemSize returns the approximate byte footprint
// of the table.
func (h *Hotels) MemSize() int {
	n := len(h.flat)*4 + len(h.overflow)*12
	for i := range h.hotels {
		n += 12 + len(h.hotels[i].Name)
	}
	return n
}
