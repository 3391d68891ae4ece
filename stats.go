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

package trove

import (
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/offertrove/trove/delim"
)

// LoadStats summarizes one completed Load.
type LoadStats struct {
	// Hotels is the hotel-table row count.
	Hotels int
	// OffersAppended is the columnar-store row count.
	OffersAppended int
	// OffersDropped counts ingest drops: unknown
	// hotels plus malformed records.
	OffersDropped int
	// UnknownHotels is the subset of OffersDropped
	// referencing hotels absent from the hotel table.
	UnknownHotels int
	// ArrivalsDerived counts offers whose arrival
	// timestamps were absent and derived as
	// departure + 2h.
	ArrivalsDerived int
	// InternerSize is the distinct-string count of
	// the categorical dictionary.
	InternerSize int
	// IndexMemoryBytes is the bitset payload of the
	// built indexes.
	IndexMemoryBytes int64
	// StoreMemoryBytes is the column-array payload.
	StoreMemoryBytes int64

	// HotelsDigest/OffersDigest are xxhash64 digests
	// of the on-disk input bytes, identifying the
	// dataset revision that is resident.
	HotelsDigest uint64
	OffersDigest uint64
	// HotelsBytes/OffersBytes are on-disk input sizes.
	HotelsBytes int64
	OffersBytes int64

	// ErrorLog holds the first malformed records of
	// the hotels file and then of the offers file
	// (capped per file). OffersDropped keeps the full
	// count for the offers file only.
	ErrorLog []delim.RecordError

	// Phase durations.
	HotelsElapsed  time.Duration
	OffersElapsed  time.Duration
	IndexesElapsed time.Duration
}

// MemoryFootprint returns the combined index and
// store payload as a human-readable size.
func (s *LoadStats) MemoryFootprint() string {
	return datasize.ByteSize(s.IndexMemoryBytes + s.StoreMemoryBytes).HumanReadable()
}
