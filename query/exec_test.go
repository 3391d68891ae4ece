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
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/offertrove/trove/date"
	"github.com/offertrove/trove/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// randomFixture builds a larger dataset with known
// distributions for the property tests.
func randomFixture(t *testing.T, cfg Config, n int, seed int64) (*fixture, []offerSpec) {
	t.Helper()
	airports := []string{"FRA", "MUC", "PMI", "AYT"}
	meals := []string{"none", "breakfast", "halfboard", "allinclusive"}
	rooms := []string{"single", "double", "suite"}
	rng := rand.New(rand.NewSource(seed))
	specs := make([]offerSpec, n)
	base, _ := date.Parse([]byte("2024-04-01"))
	for i := range specs {
		dep := base.AddDays(rng.Intn(180))
		dur := rng.Intn(13) + 1
		specs[i] = offerSpec{
			hotel:    uint32(rng.Intn(25) + 1),
			price:    float32(rng.Intn(150)) * 10, // coarse prices force ties
			airport:  airports[rng.Intn(len(airports))],
			dep:      dep.Time().Format("2006-01-02"),
			ret:      dep.AddDays(dur).Time().Format("2006-01-02"),
			adults:   uint8(rng.Intn(3) + 1),
			children: uint8(rng.Intn(3)),
			meal:     meals[rng.Intn(len(meals))],
			room:     rooms[rng.Intn(len(rooms))],
			ocean:    rng.Intn(2) == 0,
			duration: uint16(dur),
		}
	}
	hs := make([]store.Hotel, 25)
	for i := range hs {
		hs[i] = store.Hotel{ID: uint32(i + 1), Name: fmt.Sprintf("Hotel %d", i+1),
			Stars: float32(i%9+2) / 2}
	}
	return build(t, cfg, hs, specs), specs
}

func TestStrategyDeterminism(t *testing.T) {
	// identical data; sequential vs forced-streaming vs
	// parallel execution must agree row for row
	seqF, _ := randomFixture(t, Config{Parallel: -1}, 4000, 99)
	strF, _ := randomFixture(t, Config{Parallel: -1, StreamRows: 1, ChunkSize: 128}, 4000, 99)
	parF, _ := randomFixture(t, Config{Parallel: 8, ChunkSize: 64}, 4000, 99)

	two := uint8(2)
	crits := []Criteria{
		{},
		{DepartureAirports: []string{"FRA", "PMI"}},
		{Adults: &two},
		{MealTypes: []string{"halfboard", "breakfast"}, HotelStars: []float32{3, 3.5, 4}},
	}
	for i, c := range crits {
		a, err := seqF.exec.BestByHotel(context.Background(), c)
		require.NoError(t, err)
		b, err := strF.exec.BestByHotel(context.Background(), c)
		require.NoError(t, err)
		p, err := parF.exec.BestByHotel(context.Background(), c)
		require.NoError(t, err)
		require.Equal(t, a.Items, b.Items, "criteria #%d streaming", i)
		require.Equal(t, a.Items, p.Items, "criteria #%d parallel", i)

		ao, err := seqF.exec.OffersForHotel(context.Background(), 7, c)
		require.NoError(t, err)
		bo, err := strF.exec.OffersForHotel(context.Background(), 7, c)
		require.NoError(t, err)
		po, err := parF.exec.OffersForHotel(context.Background(), 7, c)
		require.NoError(t, err)
		require.Equal(t, ao.Items, bo.Items, "criteria #%d streaming", i)
		require.Equal(t, ao.Items, po.Items, "criteria #%d parallel", i)
	}
}

func TestBestMatchesBruteForce(t *testing.T) {
	f, specs := randomFixture(t, Config{}, 3000, 5)
	c := Criteria{
		DepartureAirports: []string{"MUC", "AYT"},
		MealTypes:         []string{"halfboard"},
	}
	res, err := f.exec.BestByHotel(context.Background(), c)
	require.NoError(t, err)

	// brute force over the plain-record fixture input
	type best struct {
		price float32
		count int
	}
	want := map[uint32]*best{}
	for _, s := range specs {
		if s.meal != "halfboard" {
			continue
		}
		if s.airport != "MUC" && s.airport != "AYT" {
			continue
		}
		b, ok := want[s.hotel]
		if !ok {
			want[s.hotel] = &best{price: s.price, count: 1}
			continue
		}
		b.count++
		if s.price < b.price {
			b.price = s.price
		}
	}
	require.Len(t, res.Items, len(want))
	seen := map[uint32]bool{}
	for _, it := range res.Items {
		require.False(t, seen[it.HotelID], "hotel %d appears twice", it.HotelID)
		seen[it.HotelID] = true
		w := want[it.HotelID]
		require.NotNil(t, w, "unexpected hotel %d", it.HotelID)
		require.Equal(t, w.price, it.MinPrice, "hotel %d", it.HotelID)
		require.Equal(t, w.count, it.AvailableOffers, "hotel %d", it.HotelID)
	}
	// order: ascending min price, hotel id on ties
	for i := 1; i < len(res.Items); i++ {
		a, b := res.Items[i-1], res.Items[i]
		require.True(t, a.MinPrice < b.MinPrice ||
			(a.MinPrice == b.MinPrice && a.HotelID < b.HotelID),
			"order violated at %d", i)
	}
}

func TestRepresentativeTieBreak(t *testing.T) {
	// two equal-price offers; the earlier row wins
	f := build(t, Config{},
		[]store.Hotel{{ID: 1, Name: "H", Stars: 4}},
		[]offerSpec{
			{hotel: 1, price: 100, airport: "FRA", dep: "2024-06-01", ret: "2024-06-08", adults: 2},
			{hotel: 1, price: 100, airport: "MUC", dep: "2024-07-01", ret: "2024-07-08", adults: 3},
		})
	res, err := f.exec.BestByHotel(context.Background(), Criteria{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, uint8(2), res.Items[0].Adults)
	require.Equal(t, 2, res.Items[0].AvailableOffers)

	dep, _ := date.Parse([]byte("2024-06-01"))
	require.Equal(t, dep, res.Items[0].Departure)
}

func TestTimeoutPartial(t *testing.T) {
	f, _ := randomFixture(t, Config{
		Parallel:       -1,
		StreamRows:     1, // force streaming
		ChunkSize:      64,
		DefaultTimeout: time.Nanosecond,
	}, 5000, 11)
	res, err := f.exec.BestByHotel(context.Background(), Criteria{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Notes)
	require.Equal(t, NoteTimeout, res.Notes[0].Kind)
	require.Less(t, res.Notes[0].Processed, res.Notes[0].Total)
}

func TestCriteriaTimeoutOverride(t *testing.T) {
	f, _ := randomFixture(t, Config{Parallel: -1, StreamRows: 1, ChunkSize: 64}, 5000, 13)
	res, err := f.exec.BestByHotel(context.Background(), Criteria{
		Timeout: time.Nanosecond,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Notes)
	require.Equal(t, NoteTimeout, res.Notes[0].Kind)
}

func TestContextCancel(t *testing.T) {
	f, _ := randomFixture(t, Config{Parallel: -1, StreamRows: 1, ChunkSize: 64}, 5000, 12)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.exec.BestByHotel(ctx, Criteria{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Notes)
	require.Equal(t, NoteTimeout, res.Notes[0].Kind)
}
