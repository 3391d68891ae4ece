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

// Package query plans and executes the two query
// shapes over a loaded dataset: best-offer-per-hotel
// and all-offers-for-one-hotel.
//
// The planner narrows candidates through the prebuilt
// value indexes; the executor streams the survivors
// out of the columnar store, re-checks the residual
// predicates against the column arrays, and aggregates
// per hotel. Under memory pressure or very large row
// counts it degrades to a chunked strategy whose
// working set stays bounded.
package query

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/offertrove/trove/index"
	"github.com/offertrove/trove/intern"
	"github.com/offertrove/trove/mem"
	"github.com/offertrove/trove/store"
)

// Config is the runtime-tunable executor behavior.
type Config struct {
	// MaxResultsPerHotel caps Q2 result size.
	MaxResultsPerHotel int
	// ChunkSize is the row-window granularity of the
	// streaming strategy; scalar-only plans use a
	// fifth of it.
	ChunkSize int
	// Parallel bounds the chunk-evaluation workers of
	// the sequential strategy; zero means GOMAXPROCS,
	// negative disables fan-out.
	Parallel int
	// StreamRows forces the streaming strategy above
	// this row count.
	StreamRows int
	// StreamHeapBytes forces streaming when live heap
	// exceeds it.
	StreamHeapBytes int64
	// TrimUnderPressure lets the governor narrow
	// criteria (production only; tests keep it off).
	TrimUnderPressure bool
	// CacheEntries sizes the result LRU; zero
	// disables caching.
	CacheEntries int
	// DefaultTimeout applies when the criteria carry
	// no timeout.
	DefaultTimeout time.Duration
}

func (c *Config) init() {
	if c.MaxResultsPerHotel <= 0 {
		c.MaxResultsPerHotel = 1000
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10000
	}
	if c.StreamRows <= 0 {
		c.StreamRows = 50_000_000
	}
	if c.StreamHeapBytes <= 0 {
		c.StreamHeapBytes = 3 << 30
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Second
	}
}

// Exec executes queries over one loaded dataset.
// It holds read-only references into the store and
// indexes; the only mutable state is the optional
// result cache and the plan configuration.
type Exec struct {
	offers *store.Offers
	hotels *store.Hotels
	names  *intern.Table
	idx    *index.Set
	gov    *mem.Governor
	cfg    Config
	log    zerolog.Logger
	cache  *lru
}

// New wires an executor over a frozen dataset.
func New(offers *store.Offers, hotels *store.Hotels, names *intern.Table,
	idx *index.Set, gov *mem.Governor, cfg Config, log zerolog.Logger) *Exec {
	cfg.init()
	return &Exec{
		offers: offers,
		hotels: hotels,
		names:  names,
		idx:    idx,
		gov:    gov,
		cfg:    cfg,
		log:    log,
		cache:  newLRU(cfg.CacheEntries),
	}
}

type strategy uint8

const (
	sequential strategy = iota
	streaming
)

func (s strategy) String() string {
	if s == streaming {
		return "streaming-chunked"
	}
	return "sequential"
}

func (e *Exec) pickStrategy() strategy {
	if e.offers.Len() > e.cfg.StreamRows {
		return streaming
	}
	if e.gov.Pressure() >= mem.High {
		return streaming
	}
	if e.gov.HeapInUse() > e.cfg.StreamHeapBytes {
		return streaming
	}
	return sequential
}

// BestByHotel returns, per hotel with at least one
// surviving offer, its cheapest offer plus the count
// of all survivors, ordered by ascending minimum
// price, hotel id breaking ties.
func (e *Exec) BestByHotel(ctx context.Context, c Criteria) (*BestResult, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	cc := c.clone()
	trimNotes := e.trim(&cc)
	key := cc.cacheKey("best", 0)
	if len(trimNotes) == 0 {
		if v, ok := e.cache.get(key); ok {
			return v.(*BestResult), nil
		}
	}

	qid := uuid.New()
	start := time.Now()
	p := e.plan(&cc, 0, false)
	strat := e.pickStrategy()

	out := &BestResult{Notes: trimNotes}
	if !p.empty {
		agg := make(map[uint32]*bestAgg)
		note := e.run(ctx, p, strat, cc.Timeout, func(i int) {
			updateBest(agg, e.offers, i)
		}, func(partials []any) {
			for _, pa := range partials {
				mergeBest(agg, pa.(map[uint32]*bestAgg))
			}
		}, func() any {
			pa := make(map[uint32]*bestAgg)
			return pa
		}, func(partial any, i int) {
			updateBest(partial.(map[uint32]*bestAgg), e.offers, i)
		})
		if note != nil {
			out.Notes = append(out.Notes, *note)
		}
		out.Items = e.bestItems(agg)
	}

	e.log.Debug().
		Stringer("query", qid).
		Str("shape", "best_by_hotel").
		Stringer("strategy", strat).
		Int("hotels", len(out.Items)).
		Dur("elapsed", time.Since(start)).
		Msg("query done")

	if len(out.Notes) == 0 {
		e.cache.put(key, out)
	}
	return out, nil
}

// OffersForHotel returns every surviving offer of one
// hotel, ascending by price, row index breaking ties,
// clamped at MaxResultsPerHotel.
func (e *Exec) OffersForHotel(ctx context.Context, hotelID uint32, c Criteria) (*OffersResult, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	cc := c.clone()
	trimNotes := e.trim(&cc)
	key := cc.cacheKey("offers", hotelID)
	if len(trimNotes) == 0 {
		if v, ok := e.cache.get(key); ok {
			return v.(*OffersResult), nil
		}
	}

	qid := uuid.New()
	start := time.Now()
	p := e.plan(&cc, hotelID, true)
	strat := e.pickStrategy()

	out := &OffersResult{Notes: trimNotes}
	if !p.empty {
		top := newKtop(e.cfg.MaxResultsPerHotel)
		note := e.run(ctx, p, strat, cc.Timeout, func(i int) {
			top.add(rowRef{price: e.offers.Prices()[i], row: int32(i)})
		}, func(partials []any) {
			for _, pa := range partials {
				top.merge(pa.(*ktop))
			}
		}, func() any {
			return newKtop(e.cfg.MaxResultsPerHotel)
		}, func(partial any, i int) {
			partial.(*ktop).add(rowRef{price: e.offers.Prices()[i], row: int32(i)})
		})
		if note != nil {
			out.Notes = append(out.Notes, *note)
		}
		if top.clamped {
			out.Notes = append(out.Notes, Note{
				Kind:   NoteClamped,
				Detail: fmt.Sprintf("trimmed to %d cheapest offers", e.cfg.MaxResultsPerHotel),
			})
		}
		for _, r := range top.sorted() {
			out.Items = append(out.Items, e.resolveOffer(int(r.row)))
		}
	}

	e.log.Debug().
		Stringer("query", qid).
		Str("shape", "offers_for_hotel").
		Uint32("hotel", hotelID).
		Stringer("strategy", strat).
		Int("offers", len(out.Items)).
		Dur("elapsed", time.Since(start)).
		Msg("query done")

	if len(out.Notes) == 0 {
		e.cache.put(key, out)
	}
	return out, nil
}

// run drives candidate rows through the visitor under
// the chosen strategy. visit mutates shared state and
// is used single-threaded; newPartial/visitPartial/
// mergePartials carry the fan-out path. The returned
// note is non-nil on a deadline hit.
func (e *Exec) run(ctx context.Context, p *plan, strat strategy, timeout time.Duration,
	visit func(i int),
	mergePartials func([]any),
	newPartial func() any,
	visitPartial func(partial any, i int)) *Note {

	rows := e.offers.Len()
	total := rows
	if p.candidates != nil {
		total = p.candidates.Popcount()
	}
	deadline := e.deadline(ctx, timeout)

	chunk := e.cfg.ChunkSize
	if p.scalarOnly && strat == streaming {
		chunk /= 5
		if chunk < 1 {
			chunk = 1
		}
	}

	if strat == sequential {
		workers := e.cfg.Parallel
		if workers == 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		if workers > 1 && rows > chunk {
			return e.runParallel(ctx, p, rows, chunk, total, deadline,
				newPartial, visitPartial, mergePartials)
		}
	}

	processed := 0
	for lo := 0; lo < rows; lo += chunk {
		if expired(ctx, deadline) {
			return &Note{Kind: NoteTimeout, Processed: processed, Total: total}
		}
		hi := lo + chunk
		if hi > rows {
			hi = rows
		}
		processed += e.visitRange(p, lo, hi, visit)
		if strat == streaming {
			// release step between chunks keeps the
			// resident set from ratcheting upward
			if e.gov.Pressure() >= mem.High {
				e.gov.ForceRelease()
			}
		}
	}
	return nil
}

// runParallel fans chunk evaluation out over a bounded
// worker pool. Each chunk fills a private partial
// aggregate; the final merge is a single-threaded
// reduce in chunk order, so the outcome is identical
// to the sequential walk.
func (e *Exec) runParallel(ctx context.Context, p *plan, rows, chunk, total int,
	deadline time.Time,
	newPartial func() any,
	visitPartial func(partial any, i int),
	mergePartials func([]any)) *Note {

	workers := e.cfg.Parallel
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	nchunks := (rows + chunk - 1) / chunk
	partials := make([]any, nchunks)
	counts := make([]int, nchunks)

	var g errgroup.Group
	g.SetLimit(workers)
	launched := 0
	for ci := 0; ci < nchunks; ci++ {
		if expired(ctx, deadline) {
			break
		}
		ci := ci
		launched++
		g.Go(func() error {
			lo := ci * chunk
			hi := lo + chunk
			if hi > rows {
				hi = rows
			}
			pa := newPartial()
			counts[ci] = e.visitRange(p, lo, hi, func(i int) {
				visitPartial(pa, i)
			})
			partials[ci] = pa
			return nil
		})
	}
	g.Wait()

	mergePartials(partials[:launched])
	if launched < nchunks {
		processed := 0
		for _, n := range counts[:launched] {
			processed += n
		}
		return &Note{Kind: NoteTimeout, Processed: processed, Total: total}
	}
	return nil
}

// visitRange feeds surviving rows of [lo, hi) to fn
// and returns the number of candidates touched.
func (e *Exec) visitRange(p *plan, lo, hi int, fn func(i int)) int {
	n := 0
	if p.candidates != nil {
		p.candidates.Range(lo, hi, func(i int) bool {
			n++
			if p.matches(i) {
				fn(i)
			}
			return true
		})
		return n
	}
	for i := lo; i < hi; i++ {
		n++
		if p.matches(i) {
			fn(i)
		}
	}
	return n
}

// deadline combines the per-query timeout (falling
// back to the configured default) with any earlier
// context deadline.
func (e *Exec) deadline(ctx context.Context, timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	return d
}

func expired(ctx context.Context, deadline time.Time) bool {
	if ctx.Err() != nil {
		return true
	}
	return time.Now().After(deadline)
}

// bestAgg is the per-hotel running aggregate of Q1.
type bestAgg struct {
	price float32
	row   int32
	count int32
}

func updateBest(agg map[uint32]*bestAgg, o *store.Offers, i int) {
	h := o.HotelIDs()[i]
	price := o.Prices()[i]
	a, ok := agg[h]
	if !ok {
		agg[h] = &bestAgg{price: price, row: int32(i), count: 1}
		return
	}
	a.count++
	if price < a.price || (price == a.price && int32(i) < a.row) {
		a.price = price
		a.row = int32(i)
	}
}

func mergeBest(into map[uint32]*bestAgg, from map[uint32]*bestAgg) {
	for h, fa := range from {
		a, ok := into[h]
		if !ok {
			cp := *fa
			into[h] = &cp
			continue
		}
		a.count += fa.count
		if fa.price < a.price || (fa.price == a.price && fa.row < a.row) {
			a.price = fa.price
			a.row = fa.row
		}
	}
}

// bestItems resolves the aggregates into the sorted
// public result rows.
func (e *Exec) bestItems(agg map[uint32]*bestAgg) []BestHotelOffer {
	items := make([]BestHotelOffer, 0, len(agg))
	for hid, a := range agg {
		row, err := e.offers.Get(int(a.row))
		if err != nil {
			// rows came out of the candidate set; a miss
			// here is a corrupted index
			panic(err)
		}
		h, _ := e.hotels.Get(hid)
		items = append(items, BestHotelOffer{
			HotelID:         hid,
			HotelName:       h.Name,
			HotelStars:      h.Stars,
			MinPrice:        a.price,
			Departure:       row.OutDeparture,
			Return:          row.InDeparture,
			RoomType:        e.names.MustResolve(row.Room),
			MealType:        e.names.MustResolve(row.Meal),
			Adults:          row.Adults,
			Children:        row.Children,
			Duration:        row.Duration,
			AvailableOffers: int(a.count),
		})
	}
	slices.SortFunc(items, func(a, b BestHotelOffer) int {
		if a.MinPrice != b.MinPrice {
			if a.MinPrice < b.MinPrice {
				return -1
			}
			return 1
		}
		if a.HotelID != b.HotelID {
			if a.HotelID < b.HotelID {
				return -1
			}
			return 1
		}
		return 0
	})
	return items
}

func (e *Exec) resolveOffer(i int) Offer {
	row, err := e.offers.Get(i)
	if err != nil {
		panic(err)
	}
	return Offer{
		HotelID:       row.HotelID,
		Price:         row.Price,
		Adults:        row.Adults,
		Children:      row.Children,
		OutDeparture:  row.OutDeparture,
		OutArrival:    row.OutArrival,
		InDeparture:   row.InDeparture,
		InArrival:     row.InArrival,
		OutDepAirport: e.names.MustResolve(row.OutDepAirport),
		OutArrAirport: e.names.MustResolve(row.OutArrAirport),
		InDepAirport:  e.names.MustResolve(row.InDepAirport),
		InArrAirport:  e.names.MustResolve(row.InArrAirport),
		MealType:      e.names.MustResolve(row.Meal),
		RoomType:      e.names.MustResolve(row.Room),
		Duration:      row.Duration,
		OceanView:     row.OceanView,
	}
}

// PurgeCache drops all cached results. A re-load does
// not call it: the engine builds a new Exec, whose
// cache starts empty.
func (e *Exec) PurgeCache() { e.cache.purge() }
