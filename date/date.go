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

// Package date implements the timestamp representation
// used by the offer store: UTC milliseconds since the
// Unix epoch, packed into an int64.
//
// All offer timestamps are normalized to Millis at ingest
// time; the column arrays never hold time.Time values.
package date

import (
	"time"
)

// Millis is a UTC timestamp in milliseconds
// since the Unix epoch.
type Millis int64

const (
	msPerSecond = 1000
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
)

// Hours returns a duration of n hours in milliseconds.
func Hours(n int) Millis { return Millis(n) * msPerHour }

// Days returns a duration of n days in milliseconds.
func Days(n int) Millis { return Millis(n) * msPerDay }

// FromTime converts a time.Time to Millis.
func FromTime(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time returns m as a time.Time in UTC.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

func floordiv(a, b int64) int64 {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

// StartOfDay truncates m to 00:00:00.000 UTC
// of the same calendar day.
func (m Millis) StartOfDay() Millis {
	return Millis(floordiv(int64(m), msPerDay) * msPerDay)
}

// EndOfDay returns 23:59:59.999 UTC of the
// same calendar day. The result is the largest
// Millis that still falls on m's day, so
// "latest" bounds built from it are inclusive.
func (m Millis) EndOfDay() Millis {
	return m.StartOfDay() + msPerDay - 1
}

// AddDays returns m shifted by n calendar days.
func (m Millis) AddDays(n int) Millis {
	return m + Days(n)
}

// DaysBetween returns the number of whole days
// between a and b (b - a), comparing day boundaries
// rather than raw millisecond deltas so that a
// late-evening outbound and an early-morning inbound
// still count full nights.
func DaysBetween(a, b Millis) int {
	return int(floordiv(int64(b), msPerDay) - floordiv(int64(a), msPerDay))
}

// MonthKey returns year*100+month for m, e.g.
// 202406 for any instant in June 2024. Month keys
// order the same way the underlying instants do,
// which lets a date-range predicate walk a contiguous
// key interval.
func (m Millis) MonthKey() uint32 {
	y, mo, _ := civil(floordiv(int64(m), msPerDay))
	return uint32(y)*100 + uint32(mo)
}

// MonthKeyRange returns all month keys touched by
// the inclusive instant range [lo, hi], in ascending
// order. It returns nil if hi < lo.
func MonthKeyRange(lo, hi Millis) []uint32 {
	if hi < lo {
		return nil
	}
	first, last := lo.MonthKey(), hi.MonthKey()
	keys := make([]uint32, 0, 12)
	for k := first; k <= last; {
		keys = append(keys, k)
		if k%100 == 12 {
			k = (k/100+1)*100 + 1
		} else {
			k++
		}
	}
	return keys
}

// String formats m as an RFC3339 UTC timestamp.
func (m Millis) String() string {
	return m.Time().Format("2006-01-02T15:04:05.000Z")
}

// civil converts days-since-epoch to (year, month, day).
// Algorithm from Howard Hinnant's civil_from_days.
func civil(days int64) (year int, month int, day int) {
	z := days + 719468
	era := floordiv(z, 146097)
	doe := z - era*146097                                  // [0, 146096]
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365 // [0, 399]
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100) // [0, 365]
	mp := (5*doy + 2) / 153                  // [0, 11]
	d := doy - (153*mp+2)/5 + 1              // [1, 31]
	var mo int64
	if mp < 10 {
		mo = mp + 3
	} else {
		mo = mp - 9
	}
	if mo <= 2 {
		y++
	}
	return int(y), int(mo), int(d)
}

// daysFromCivil is the inverse of civil.
func daysFromCivil(year, month, day int) int64 {
	y := int64(year)
	if month <= 2 {
		y--
	}
	era := floordiv(y, 400)
	yoe := y - era*400 // [0, 399]
	var mp int64
	if month > 2 {
		mp = int64(month) - 3
	} else {
		mp = int64(month) + 9
	}
	doy := (153*mp+2)/5 + int64(day) - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}
