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

	"github.com/offertrove/trove/mem"
)

// pressure-driven criteria narrowing; wider airport
// fan-out means more bitset unions resident at once,
// and wider date windows mean more month buckets
const (
	maxAirportsMedium   = 5
	maxAirportsHigh     = 3
	maxAirportsCritical = 1
	maxWindowDays       = 30
)

// trim narrows c in place according to the governor's
// current pressure and returns the advisory notes for
// every adjustment made. It is a no-op unless
// TrimUnderPressure is configured; tests run with
// trimming off so results stay reproducible.
func (e *Exec) trim(c *Criteria) []Note {
	if !e.cfg.TrimUnderPressure {
		return nil
	}
	p := e.gov.Pressure()
	if p == mem.Low {
		return nil
	}
	var notes []Note
	maxAirports := maxAirportsMedium
	switch p {
	case mem.High:
		maxAirports = maxAirportsHigh
	case mem.Critical:
		maxAirports = maxAirportsCritical
	}
	if len(c.DepartureAirports) > maxAirports {
		dropped := len(c.DepartureAirports) - maxAirports
		c.DepartureAirports = c.DepartureAirports[:maxAirports]
		notes = append(notes, Note{
			Kind:   NotePressureAdjusted,
			Detail: fmt.Sprintf("%s pressure: dropped %d departure airports", p, dropped),
		})
	}
	if p == mem.Critical {
		if n := e.clampWindow(c); n != nil {
			notes = append(notes, *n)
		}
	}
	return notes
}

// clampWindow forces the date window to at most
// maxWindowDays at CRITICAL pressure.
func (e *Exec) clampWindow(c *Criteria) *Note {
	switch {
	case c.EarliestDeparture != 0 && c.LatestReturn != 0:
		lo := c.EarliestDeparture.StartOfDay()
		hi := c.LatestReturn.EndOfDay()
		if hi <= lo.AddDays(maxWindowDays) {
			return nil
		}
		c.LatestReturn = lo.AddDays(maxWindowDays)
	case c.EarliestDeparture != 0:
		c.LatestReturn = c.EarliestDeparture.StartOfDay().AddDays(maxWindowDays)
	case c.LatestReturn != 0:
		c.EarliestDeparture = c.LatestReturn.EndOfDay().AddDays(-maxWindowDays)
	default:
		return nil
	}
	return &Note{
		Kind:   NotePressureAdjusted,
		Detail: fmt.Sprintf("critical pressure: date window clamped to %d days", maxWindowDays),
	}
}
