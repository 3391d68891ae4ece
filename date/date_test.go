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

package date

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want string // RFC3339Nano reference; "" means reject
	}{
		{"2024-06-01", "2024-06-01T00:00:00Z"},
		{"2024-06-01T12:30:45Z", "2024-06-01T12:30:45Z"},
		{"2024-06-01 12:30:45", "2024-06-01T12:30:45Z"},
		{"2024-06-01T12:30:45.5", "2024-06-01T12:30:45.5Z"},
		{"2024-06-01T12:30:45.123456", "2024-06-01T12:30:45.123Z"},
		{"2024-06-01T12:30:45+02:00", "2024-06-01T10:30:45Z"},
		{"2024-06-01T12:30:45-01:30", "2024-06-01T14:00:45Z"},
		{"  2024-02-29T00:00:00Z\n", "2024-02-29T00:00:00Z"},
		{"1969-12-31T23:59:59Z", "1969-12-31T23:59:59Z"},
		{"2024-6-01", ""},
		{"2024-13-01", ""},
		{"2024-06-32", ""},
		{"20240601", ""},
		{"2024-06-01T12:30", ""},
		{"2024-06-01X12:30:45", ""},
		{"garbage", ""},
		{"", ""},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, ok := Parse([]byte(c.in))
			if c.want == "" {
				if ok {
					t.Fatalf("Parse(%q): expected rejection, got %v", c.in, got)
				}
				return
			}
			if !ok {
				t.Fatalf("Parse(%q): unexpected rejection", c.in)
			}
			ref, err := time.Parse(time.RFC3339Nano, c.want)
			if err != nil {
				t.Fatal(err)
			}
			if int64(got) != ref.UnixMilli() {
				t.Errorf("Parse(%q) = %d, want %d", c.in, got, ref.UnixMilli())
			}
		})
	}
}

func TestParseMatchesStdlib(t *testing.T) {
	// sweep a few years of day-granularity values and
	// make sure the civil-date math agrees with time.Date
	start := time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 40*365; i += 13 {
		ref := start.AddDate(0, 0, i)
		in := ref.Format("2006-01-02")
		got, ok := Parse([]byte(in))
		if !ok {
			t.Fatalf("Parse(%q): rejected", in)
		}
		if int64(got) != ref.UnixMilli() {
			t.Fatalf("Parse(%q) = %d, want %d", in, got, ref.UnixMilli())
		}
	}
}

func TestDayBounds(t *testing.T) {
	m, ok := Parse([]byte("2024-06-01T15:30:00Z"))
	if !ok {
		t.Fatal("parse failed")
	}
	lo, hi := m.StartOfDay(), m.EndOfDay()
	if lo.String() != "2024-06-01T00:00:00.000Z" {
		t.Errorf("StartOfDay = %s", lo)
	}
	if hi.String() != "2024-06-01T23:59:59.999Z" {
		t.Errorf("EndOfDay = %s", hi)
	}
	if hi-lo != Days(1)-1 {
		t.Errorf("day span = %d", hi-lo)
	}
}

func TestMonthKeys(t *testing.T) {
	m, _ := Parse([]byte("2024-06-15T12:00:00Z"))
	if k := m.MonthKey(); k != 202406 {
		t.Fatalf("MonthKey = %d", k)
	}
	lo, _ := Parse([]byte("2023-11-20"))
	hi, _ := Parse([]byte("2024-02-03"))
	got := MonthKeyRange(lo, hi)
	want := []uint32{202311, 202312, 202401, 202402}
	if len(got) != len(want) {
		t.Fatalf("MonthKeyRange = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("MonthKeyRange = %v, want %v", got, want)
		}
	}
	if MonthKeyRange(hi, lo) != nil {
		t.Error("inverted range should yield nil")
	}
}

func TestDaysBetween(t *testing.T) {
	a, _ := Parse([]byte("2024-06-01T23:00:00Z"))
	b, _ := Parse([]byte("2024-06-08T05:00:00Z"))
	if d := DaysBetween(a, b); d != 7 {
		t.Errorf("DaysBetween = %d, want 7", d)
	}
	if d := DaysBetween(b, a); d != -7 {
		t.Errorf("reverse DaysBetween = %d, want -7", d)
	}
}
