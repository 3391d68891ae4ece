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
	"sort"
	"strings"
	"time"

	"github.com/dchest/siphash"

	"github.com/offertrove/trove/date"
)

// Criteria is the full set of recognized search
// constraints. Every field is optional; nil and
// empty-set fields impose no filter.
type Criteria struct {
	// DepartureAirports restricts the outbound
	// departure airport to the given codes.
	DepartureAirports []string
	// EarliestDeparture keeps offers departing at or
	// after the start of that day (UTC); zero = unset.
	EarliestDeparture date.Millis
	// LatestReturn keeps offers whose inbound departure
	// is at or before the end of that day (inclusive);
	// zero = unset.
	LatestReturn date.Millis
	// Adults/Children match passenger counts exactly.
	Adults   *uint8
	Children *uint8
	// Duration matches trip length exactly, in days.
	Duration *uint16
	// MealTypes/RoomTypes restrict the categorical
	// columns to the given values.
	MealTypes []string
	RoomTypes []string
	// OceanView matches the flag exactly.
	OceanView *bool
	// MinPrice/MaxPrice bound the price, inclusive.
	MinPrice *float32
	MaxPrice *float32
	// HotelStars keeps offers whose hotel has one of
	// the given star ratings.
	HotelStars []float32
	// Timeout bounds query execution; zero means the
	// executor default.
	Timeout time.Duration
}

// InvalidCriteria reports a criteria set that cannot
// match anything by construction.
type InvalidCriteria struct {
	Reason string
}

func (e *InvalidCriteria) Error() string {
	return "query: invalid criteria: " + e.Reason
}

// validate rejects logically impossible bounds.
func (c *Criteria) validate() error {
	if c.EarliestDeparture != 0 && c.LatestReturn != 0 &&
		c.EarliestDeparture.StartOfDay() > c.LatestReturn.EndOfDay() {
		return &InvalidCriteria{Reason: fmt.Sprintf(
			"earliest departure %s after latest return %s",
			c.EarliestDeparture, c.LatestReturn)}
	}
	if c.MinPrice != nil && c.MaxPrice != nil && *c.MinPrice > *c.MaxPrice {
		return &InvalidCriteria{Reason: fmt.Sprintf(
			"min price %.2f above max price %.2f", *c.MinPrice, *c.MaxPrice)}
	}
	if c.MinPrice != nil && *c.MinPrice < 0 {
		return &InvalidCriteria{Reason: "negative min price"}
	}
	if c.Duration != nil && *c.Duration == 0 {
		return &InvalidCriteria{Reason: "zero duration"}
	}
	return nil
}

// clone returns a copy with its own set slices, so
// pressure trimming never mutates the caller's value.
func (c *Criteria) clone() Criteria {
	out := *c
	out.DepartureAirports = append([]string(nil), c.DepartureAirports...)
	out.MealTypes = append([]string(nil), c.MealTypes...)
	out.RoomTypes = append([]string(nil), c.RoomTypes...)
	out.HotelStars = append([]float32(nil), c.HotelStars...)
	return out
}

// cache key hashing; k0/k1 are fixed: the cache is
// per-process and keys never leave it
const (
	cacheK0 = 0x7472_6f76_6531_3233
	cacheK1 = 0x6f66_6665_7273_7631
)

// cacheKey maps c (plus the query shape and target
// hotel) to a stable 64-bit key. Set-valued fields are
// sorted first so logically equal criteria collide.
func (c *Criteria) cacheKey(shape string, hotelID uint32) uint64 {
	var sb strings.Builder
	sb.WriteString(shape)
	fmt.Fprintf(&sb, "|h%d", hotelID)
	writeSet := func(tag string, vals []string) {
		s := append([]string(nil), vals...)
		sort.Strings(s)
		sb.WriteByte('|')
		sb.WriteString(tag)
		for _, v := range s {
			sb.WriteByte(',')
			sb.WriteString(v)
		}
	}
	writeSet("ap", c.DepartureAirports)
	writeSet("ml", c.MealTypes)
	writeSet("rm", c.RoomTypes)
	stars := append([]float32(nil), c.HotelStars...)
	sort.Slice(stars, func(i, j int) bool { return stars[i] < stars[j] })
	sb.WriteString("|st")
	for _, s := range stars {
		fmt.Fprintf(&sb, ",%g", s)
	}
	fmt.Fprintf(&sb, "|d%d:%d", c.EarliestDeparture, c.LatestReturn)
	if c.Adults != nil {
		fmt.Fprintf(&sb, "|a%d", *c.Adults)
	}
	if c.Children != nil {
		fmt.Fprintf(&sb, "|c%d", *c.Children)
	}
	if c.Duration != nil {
		fmt.Fprintf(&sb, "|u%d", *c.Duration)
	}
	if c.OceanView != nil {
		fmt.Fprintf(&sb, "|o%v", *c.OceanView)
	}
	if c.MinPrice != nil {
		fmt.Fprintf(&sb, "|p%g", *c.MinPrice)
	}
	if c.MaxPrice != nil {
		fmt.Fprintf(&sb, "|q%g", *c.MaxPrice)
	}
	return siphash.Hash(cacheK0, cacheK1, []byte(sb.String()))
}
