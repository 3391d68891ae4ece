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

// Package trove is a single-node in-memory analytical
// store for travel offers. It bulk-loads a hotels file
// and an offers file into a columnar representation
// with value indexes, then answers two query shapes:
// the cheapest surviving offer per hotel, and all
// surviving offers of one hotel.
//
// The engine owns the whole lifecycle: create, Load
// (once or more), query concurrently, drop. There is
// no state outside the Engine value.
package trove

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/offertrove/trove/index"
	"github.com/offertrove/trove/intern"
	"github.com/offertrove/trove/mem"
	"github.com/offertrove/trove/query"
	"github.com/offertrove/trove/store"
)

// ErrNoData is returned by queries before the first
// successful Load.
var ErrNoData = errors.New("trove: no dataset loaded")

// EventKind tags coarse load-progress events.
type EventKind uint8

const (
	HotelsStart EventKind = iota
	HotelsDone
	OffersBatch
	OffersDone
	IndexesDone
)

func (k EventKind) String() string {
	switch k {
	case HotelsStart:
		return "hotels-start"
	case HotelsDone:
		return "hotels-done"
	case OffersBatch:
		return "offers-batch"
	case OffersDone:
		return "offers-done"
	case IndexesDone:
		return "indexes-done"
	}
	return "unknown"
}

// Event is one load-progress notification. Count is
// the rows completed so far of the current phase.
type Event struct {
	Kind  EventKind
	Count int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger; the
// default is a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithProgress attaches a load-progress callback.
// It is invoked synchronously on the loading
// goroutine and must be cheap.
func WithProgress(fn func(Event)) Option {
	return func(e *Engine) { e.progress = fn }
}

// state is one fully loaded dataset. It is built
// aside and swapped in whole, so concurrent readers
// always observe a complete, internally consistent
// set of store, interner and indexes.
type state struct {
	hotels *store.Hotels
	offers *store.Offers
	names  *intern.Table
	idx    *index.Set
	exec   *query.Exec
	stats  LoadStats
}

// Engine is the top-level handle.
type Engine struct {
	cfg      Config
	log      zerolog.Logger
	gov      *mem.Governor
	progress func(Event)

	mu sync.RWMutex
	st *state
}

// New creates an engine. The returned engine holds no
// data until Load succeeds.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.init(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg: cfg,
		log: zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.gov = mem.NewGovernor(int64(cfg.MemoryCeiling.Bytes()))
	log := e.log
	e.gov.OnThreshold(func(old, new mem.Pressure) {
		log.Info().
			Stringer("from", old).
			Stringer("to", new).
			Int64("heap", e.gov.HeapInUse()).
			Int64("ceiling", e.gov.Ceiling()).
			Msg("memory pressure changed")
	})
	return e, nil
}

// Governor exposes the engine's memory governor.
func (e *Engine) Governor() *mem.Governor { return e.gov }

// BestByHotel returns, for each hotel with at least
// one offer matching c, the cheapest such offer with
// the hotel's name, stars, and surviving-offer count,
// sorted by ascending minimum price then hotel id.
func (e *Engine) BestByHotel(ctx context.Context, c query.Criteria) (*query.BestResult, error) {
	st, err := e.loaded()
	if err != nil {
		return nil, err
	}
	return st.exec.BestByHotel(ctx, c)
}

// OffersForHotel returns all offers of hotelID
// matching c, ascending by price.
func (e *Engine) OffersForHotel(ctx context.Context, hotelID uint32, c query.Criteria) (*query.OffersResult, error) {
	st, err := e.loaded()
	if err != nil {
		return nil, err
	}
	return st.exec.OffersForHotel(ctx, hotelID, c)
}

// Stats returns the statistics of the resident
// dataset; ErrNoData before the first Load.
func (e *Engine) Stats() (LoadStats, error) {
	st, err := e.loaded()
	if err != nil {
		return LoadStats{}, err
	}
	return st.stats, nil
}

func (e *Engine) loaded() (*state, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.st == nil {
		return nil, ErrNoData
	}
	return e.st, nil
}

func (e *Engine) emit(k EventKind, count int) {
	if e.progress != nil {
		e.progress(Event{Kind: k, Count: count})
	}
}
