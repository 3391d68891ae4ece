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
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/offertrove/trove/date"
	"github.com/offertrove/trove/delim"
	"github.com/offertrove/trove/index"
	"github.com/offertrove/trove/intern"
	"github.com/offertrove/trove/mem"
	"github.com/offertrove/trove/query"
	"github.com/offertrove/trove/store"
)

// offers-file schema positions; the delimited reader
// maps whatever header order the feed uses onto these
const (
	ofHotelID = iota
	ofOutDep
	ofInDep
	ofOutArr
	ofInArr
	ofAdults
	ofChildren
	ofPrice
	ofOutDepAp
	ofInDepAp
	ofOutArrAp
	ofInArrAp
	ofMeal
	ofRoom
	ofDuration
	ofOcean
	ofNumFields
)

func hotelsSchema() delim.Schema {
	return delim.Schema{
		Strict: true,
		Fields: []delim.Field{
			{Name: "hotelid", Required: true},
			{Name: "hotelname", Required: true},
			{Name: "hotelstars", Required: true},
		},
	}
}

func offersSchema() delim.Schema {
	return delim.Schema{
		Fields: []delim.Field{
			ofHotelID:  {Name: "hotelid", Required: true},
			ofOutDep:   {Name: "outbounddeparturedatetime", Alt: []string{"departuredate"}, Required: true},
			ofInDep:    {Name: "inbounddeparturedatetime", Alt: []string{"returndate"}, Required: true},
			ofOutArr:   {Name: "outboundarrivaldatetime"},
			ofInArr:    {Name: "inboundarrivaldatetime"},
			ofAdults:   {Name: "countadults", Required: true},
			ofChildren: {Name: "countchildren", Required: true},
			ofPrice:    {Name: "price", Required: true},
			ofOutDepAp: {Name: "outbounddepartureairport", Required: true},
			ofInDepAp:  {Name: "inbounddepartureairport", Required: true},
			ofOutArrAp: {Name: "outboundarrivalairport", Required: true},
			ofInArrAp:  {Name: "inboundarrivalairport", Required: true},
			ofMeal:     {Name: "mealtype", Required: true},
			ofRoom:     {Name: "roomtype", Required: true},
			ofDuration: {Name: "duration"},
			ofOcean:    {Name: "oceanview"},
		},
	}
}

// Load ingests the two input files and builds the
// query indexes, replacing any previously resident
// dataset in one atomic swap. On fatal problems
// (unreadable file, header mismatch, capacity) the
// previous dataset stays resident.
func (e *Engine) Load(hotelsPath, offersPath string) (LoadStats, error) {
	var stats LoadStats
	names := &intern.Table{}
	hotels := &store.Hotels{}

	e.emit(HotelsStart, 0)
	begin := time.Now()
	hstats, err := e.loadHotels(hotelsPath, hotels)
	if err != nil {
		return stats, err
	}
	stats.Hotels = hotels.Len()
	stats.HotelsDigest = hstats.Digest
	stats.HotelsBytes = hstats.Bytes
	stats.ErrorLog = append(stats.ErrorLog, hstats.Errors...)
	stats.HotelsElapsed = time.Since(begin)
	e.emit(HotelsDone, hotels.Len())
	e.log.Info().
		Int("hotels", hotels.Len()).
		Int("skipped", hstats.Skipped).
		Dur("elapsed", stats.HotelsElapsed).
		Msg("hotels loaded")

	begin = time.Now()
	offers := store.NewOffers(e.cfg.OfferCapacity)
	ostats, err := e.loadOffers(offersPath, offers, hotels, names, &stats)
	if err != nil {
		return stats, err
	}
	stats.OffersAppended = offers.Len()
	stats.OffersDropped = ostats.Skipped + stats.UnknownHotels
	stats.OffersDigest = ostats.Digest
	stats.OffersBytes = ostats.Bytes
	stats.ErrorLog = append(stats.ErrorLog, ostats.Errors...)
	stats.InternerSize = names.Len()
	stats.StoreMemoryBytes = offers.MemSize()
	stats.OffersElapsed = time.Since(begin)
	e.emit(OffersDone, offers.Len())
	e.log.Info().
		Int("offers", offers.Len()).
		Int("dropped", stats.OffersDropped).
		Int("interned", names.Len()).
		Dur("elapsed", stats.OffersElapsed).
		Msg("offers loaded")

	begin = time.Now()
	idx := index.Build(offers, index.Options{
		KeyCap:   e.cfg.IndexKeyCap,
		Parallel: e.cfg.IndexParallel,
	})
	for _, col := range idx.Skipped() {
		e.log.Warn().
			Stringer("column", col).
			Msg("index skipped: distinct-key budget exceeded")
	}
	stats.IndexMemoryBytes = idx.MemSize()
	stats.IndexesElapsed = time.Since(begin)
	e.emit(IndexesDone, 0)
	e.log.Info().
		Int64("bytes", idx.MemSize()).
		Int64("rss", mem.RSS()).
		Dur("elapsed", stats.IndexesElapsed).
		Msg("indexes built")

	st := &state{
		hotels: hotels,
		offers: offers,
		names:  names,
		idx:    idx,
		stats:  stats,
	}
	st.exec = e.newExec(st)
	e.mu.Lock()
	e.st = st
	e.mu.Unlock()
	e.gov.ForceRelease()
	return stats, nil
}

func (e *Engine) newExec(st *state) *query.Exec {
	return query.New(st.offers, st.hotels, st.names, st.idx, e.gov,
		e.cfg.queryConfig(), e.log)
}

func (e *Engine) loadHotels(path string, hotels *store.Hotels) (delim.Stats, error) {
	r := &delim.Reader{
		Path:       path,
		Schema:     hotelsSchema(),
		SkipErrors: e.cfg.SkipErrors,
	}
	return r.Run(func(rec *delim.Record) error {
		id, ok := parseU32(rec.Fields[0])
		if !ok {
			return delim.Errf("bad hotel id %q", rec.Fields[0])
		}
		stars, err := strconv.ParseFloat(string(rec.Fields[2]), 32)
		if err != nil || stars < 0 || stars > 5 {
			return delim.Errf("bad star rating %q", rec.Fields[2])
		}
		err = hotels.Insert(store.Hotel{
			ID:    id,
			Name:  string(rec.Fields[1]),
			Stars: float32(stars),
		})
		if err != nil {
			return delim.Errf("%v", err)
		}
		return nil
	})
}

func (e *Engine) loadOffers(path string, offers *store.Offers, hotels *store.Hotels,
	names *intern.Table, stats *LoadStats) (delim.Stats, error) {
	r := &delim.Reader{
		Path:       path,
		Schema:     offersSchema(),
		SkipErrors: e.cfg.SkipErrors,
	}
	batch := e.cfg.ProgressBatch
	return r.Run(func(rec *delim.Record) error {
		id, ok := parseU32(rec.Fields[ofHotelID])
		if !ok {
			return delim.Errf("bad hotel id %q", rec.Fields[ofHotelID])
		}
		// ingest-time filtering: offers for unknown
		// hotels never reach the store
		if !hotels.Contains(id) {
			stats.UnknownHotels++
			return nil
		}
		row, err := e.parseOffer(rec, id, names, stats)
		if err != nil {
			return err
		}
		if err := offers.Append(row); err != nil {
			return err
		}
		if batch > 0 && offers.Len()%batch == 0 {
			e.emit(OffersBatch, offers.Len())
		}
		return nil
	})
}

// parseOffer materializes one validated offer row.
// Validation errors come back as record errors so the
// reader can count-and-skip them.
func (e *Engine) parseOffer(rec *delim.Record, id uint32, names *intern.Table,
	stats *LoadStats) (*store.Offer, error) {
	outDep, ok := date.Parse(rec.Fields[ofOutDep])
	if !ok {
		return nil, delim.Errf("bad outbound departure %q", rec.Fields[ofOutDep])
	}
	inDep, ok := date.Parse(rec.Fields[ofInDep])
	if !ok {
		return nil, delim.Errf("bad inbound departure %q", rec.Fields[ofInDep])
	}
	if outDep > inDep {
		return nil, delim.Errf("outbound %s after inbound %s", outDep, inDep)
	}
	outArr, derived1, err := arrival(rec.Fields[ofOutArr], outDep)
	if err != nil {
		return nil, err
	}
	inArr, derived2, err := arrival(rec.Fields[ofInArr], inDep)
	if err != nil {
		return nil, err
	}
	if derived1 || derived2 {
		stats.ArrivalsDerived++
	}
	adults, ok := parseU8(rec.Fields[ofAdults])
	if !ok {
		return nil, delim.Errf("bad adult count %q", rec.Fields[ofAdults])
	}
	children, ok := parseU8(rec.Fields[ofChildren])
	if !ok {
		return nil, delim.Errf("bad child count %q", rec.Fields[ofChildren])
	}
	price, err := strconv.ParseFloat(string(rec.Fields[ofPrice]), 32)
	if err != nil || price < 0 {
		return nil, delim.Errf("bad price %q", rec.Fields[ofPrice])
	}
	row := &store.Offer{
		HotelID:      id,
		Price:        float32(price),
		Adults:       adults,
		Children:     children,
		OutDeparture: outDep,
		OutArrival:   outArr,
		InDeparture:  inDep,
		InArrival:    inArr,
	}
	for _, f := range []struct {
		dst  *uint16
		text []byte
	}{
		{&row.OutDepAirport, rec.Fields[ofOutDepAp]},
		{&row.InDepAirport, rec.Fields[ofInDepAp]},
		{&row.OutArrAirport, rec.Fields[ofOutArrAp]},
		{&row.InArrAirport, rec.Fields[ofInArrAp]},
		{&row.Meal, rec.Fields[ofMeal]},
		{&row.Room, rec.Fields[ofRoom]},
	} {
		sid, err := names.InternBytes(bytes.TrimSpace(f.text))
		if err != nil {
			// InternerFull is not recoverable by
			// skipping records
			return nil, fmt.Errorf("offers: %w", err)
		}
		*f.dst = sid
	}
	row.Duration = duration(rec.Fields[ofDuration], outDep, inDep)
	row.OceanView, ok = parseBool(rec.Fields[ofOcean])
	if !ok {
		return nil, delim.Errf("bad ocean_view %q", rec.Fields[ofOcean])
	}
	return row, nil
}

// arrival parses an optional arrival timestamp,
// deriving departure + 2h when the field is absent.
func arrival(text []byte, departure date.Millis) (date.Millis, bool, error) {
	if len(text) == 0 {
		return departure + date.Hours(2), true, nil
	}
	ts, ok := date.Parse(text)
	if !ok {
		return 0, false, delim.Errf("bad arrival %q", text)
	}
	return ts, false, nil
}

// duration prefers the feed's explicit value and
// otherwise derives trip length from the departure
// timestamps, defaulting to a week when those are on
// the same day.
func duration(text []byte, outDep, inDep date.Millis) uint16 {
	if len(text) > 0 {
		if d, ok := parseU16(text); ok && d > 0 {
			return d
		}
	}
	if d := date.DaysBetween(outDep, inDep); d > 0 && d <= 0xffff {
		return uint16(d)
	}
	return 7
}

func parseU32(b []byte) (uint32, bool) {
	v, ok := parseUint(b, 1<<32-1)
	return uint32(v), ok
}

func parseU16(b []byte) (uint16, bool) {
	v, ok := parseUint(b, 1<<16-1)
	return uint16(v), ok
}

func parseU8(b []byte) (uint8, bool) {
	v, ok := parseUint(b, 255)
	return uint8(v), ok
}

func parseUint(b []byte, max uint64) (uint64, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0, false
	}
	var v uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
		if v > max {
			return 0, false
		}
	}
	return v, true
}

// parseBool recognizes the feed's boolean spellings;
// absent means false.
func parseBool(b []byte) (bool, bool) {
	if len(b) == 0 {
		return false, true
	}
	switch string(bytes.ToLower(bytes.TrimSpace(b))) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}
