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
	"fmt"

	"github.com/offertrove/trove/date"
)

// BestHotelOffer is one Q1 result row: a hotel's
// cheapest surviving offer plus hotel attributes and
// the count of all its surviving offers. The
// representative fields come from the cheapest offer
// (ties broken by lowest row index).
type BestHotelOffer struct {
	HotelID    uint32
	HotelName  string
	HotelStars float32
	MinPrice   float32
	Departure  date.Millis
	Return     date.Millis
	RoomType   string
	MealType   string
	Adults     uint8
	Children   uint8
	Duration   uint16
	// AvailableOffers is the total number of this
	// hotel's offers matching the criteria, not just
	// the one reported.
	AvailableOffers int
}

// Offer is one Q2 result row with categorical ids
// resolved back to strings.
type Offer struct {
	HotelID       uint32
	Price         float32
	Adults        uint8
	Children      uint8
	OutDeparture  date.Millis
	OutArrival    date.Millis
	InDeparture   date.Millis
	InArrival     date.Millis
	OutDepAirport string
	OutArrAirport string
	InDepAirport  string
	InArrAirport  string
	MealType      string
	RoomType      string
	Duration      uint16
	OceanView     bool
}

// NoteKind tags the advisory notes a query can emit
// alongside its (possibly partial) results.
type NoteKind uint8

const (
	// NoteTimeout marks a deadline hit; the result
	// covers only the rows processed so far.
	NoteTimeout NoteKind = iota
	// NoteClamped marks Q2 trimming at the
	// per-hotel result cap.
	NoteClamped
	// NotePressureAdjusted marks criteria narrowed
	// by the memory governor.
	NotePressureAdjusted
)

func (k NoteKind) String() string {
	switch k {
	case NoteTimeout:
		return "timeout"
	case NoteClamped:
		return "max_results_clamped"
	case NotePressureAdjusted:
		return "memory_pressure_adjusted"
	}
	return "unknown"
}

// Note is one advisory attached to a result. Notes
// never indicate failure; the result remains usable.
type Note struct {
	Kind NoteKind
	// Processed/Total describe timeout progress in
	// candidate rows.
	Processed int
	Total     int
	// Detail is a human-readable elaboration.
	Detail string
}

func (n Note) String() string {
	if n.Kind == NoteTimeout {
		return fmt.Sprintf("%s: processed %d of %d candidates", n.Kind, n.Processed, n.Total)
	}
	if n.Detail != "" {
		return fmt.Sprintf("%s: %s", n.Kind, n.Detail)
	}
	return n.Kind.String()
}

// BestResult is the Q1 response.
type BestResult struct {
	Items []BestHotelOffer
	Notes []Note
}

// OffersResult is the Q2 response.
type OffersResult struct {
	Items []Offer
	Notes []Note
}
