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
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offertrove/trove/date"
)

func forcePressure(f *fixture, pct int64) {
	ceiling := f.gov.Ceiling()
	f.gov.SetUsageFunc(func() int64 { return ceiling / 100 * pct })
}

func TestTrimDisabledByDefault(t *testing.T) {
	f := scenarioFixture(t, Config{})
	forcePressure(f, 95)
	res, err := f.exec.BestByHotel(context.Background(), Criteria{
		DepartureAirports: []string{"FRA", "MUC", "PMI", "AYT", "ZRH", "VIE"},
	})
	require.NoError(t, err)
	for _, n := range res.Notes {
		require.NotEqual(t, NotePressureAdjusted, n.Kind)
	}
}

func TestTrimAirportsUnderPressure(t *testing.T) {
	cases := []struct {
		pct  int64
		keep int
	}{
		{60, 5},
		{80, 3},
		{95, 1},
	}
	for _, c := range cases {
		f := scenarioFixture(t, Config{TrimUnderPressure: true})
		forcePressure(f, c.pct)
		many := []string{"FRA", "MUC", "PMI", "AYT", "ZRH", "VIE"}
		cc := Criteria{DepartureAirports: many}
		res, err := f.exec.BestByHotel(context.Background(), cc)
		require.NoError(t, err)
		require.NotEmpty(t, res.Notes, "pct %d", c.pct)
		require.Equal(t, NotePressureAdjusted, res.Notes[0].Kind)
		require.Contains(t, res.Notes[0].Detail,
			fmt.Sprintf("dropped %d departure airports", len(many)-c.keep))
		// caller's slice stays untouched
		require.Len(t, cc.DepartureAirports, 6)
		// surviving prefix keeps FRA, so FRA results remain
		require.NotEmpty(t, res.Items)
	}
}

func TestTrimClampsWindowAtCritical(t *testing.T) {
	f := scenarioFixture(t, Config{TrimUnderPressure: true})
	forcePressure(f, 95)
	lo, _ := date.Parse([]byte("2024-06-01"))
	hi, _ := date.Parse([]byte("2024-12-31"))
	res, err := f.exec.BestByHotel(context.Background(), Criteria{
		EarliestDeparture: lo,
		LatestReturn:      hi,
	})
	require.NoError(t, err)
	found := false
	for _, n := range res.Notes {
		if n.Kind == NotePressureAdjusted {
			found = true
		}
	}
	require.True(t, found, "expected a window-clamp note")
	// the clamped window (30 days from 2024-06-01) still
	// covers the fixture's June offers
	require.Len(t, res.Items, 3)
}
