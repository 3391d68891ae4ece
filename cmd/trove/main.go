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

// Command trove loads a hotels file and an offers file
// into the in-memory store, runs one query, and prints
// the result as a table.
//
// Usage:
//
//	trove -hotels hotels.csv -offers offers.csv [-hotel 17] [-airports FRA,MUC] ...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/offertrove/trove"
	"github.com/offertrove/trove/date"
	"github.com/offertrove/trove/query"
)

var (
	hotelsPath string
	offersPath string
	configPath string
	capacity   int
	verbose    bool

	hotelID   uint
	airports  string
	earliest  string
	latest    string
	adults    uint
	children  uint
	duration  uint
	mealTypes string
	roomTypes string
	oceanView string
	minPrice  float64
	maxPrice  float64
	limit     int
)

func init() {
	flag.StringVar(&hotelsPath, "hotels", "", "hotels input file (required)")
	flag.StringVar(&offersPath, "offers", "", "offers input file (required)")
	flag.StringVar(&configPath, "config", "", "optional YAML config file")
	flag.IntVar(&capacity, "capacity", 0, "offer store capacity (overrides config)")
	flag.BoolVar(&verbose, "v", false, "verbose logging")

	flag.UintVar(&hotelID, "hotel", 0, "list offers for this hotel instead of best-by-hotel")
	flag.StringVar(&airports, "airports", "", "comma-separated departure airports")
	flag.StringVar(&earliest, "earliest", "", "earliest departure date (YYYY-MM-DD)")
	flag.StringVar(&latest, "latest", "", "latest return date (YYYY-MM-DD)")
	flag.UintVar(&adults, "adults", 0, "exact adult count")
	flag.UintVar(&children, "children", 0, "exact child count")
	flag.UintVar(&duration, "duration", 0, "exact trip duration in days")
	flag.StringVar(&mealTypes, "meals", "", "comma-separated meal types")
	flag.StringVar(&roomTypes, "rooms", "", "comma-separated room types")
	flag.StringVar(&oceanView, "oceanview", "", "ocean view: true or false")
	flag.Float64Var(&minPrice, "minprice", 0, "minimum price")
	flag.Float64Var(&maxPrice, "maxprice", 0, "maximum price")
	flag.IntVar(&limit, "limit", 25, "result rows to print")
}

func exitf(f string, args ...any) {
	fmt.Fprintf(os.Stderr, "trove: "+f+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Parse()
	if hotelsPath == "" || offersPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	var cfg trove.Config
	if configPath != "" {
		var err error
		cfg, err = trove.LoadConfig(configPath)
		if err != nil {
			exitf("%v", err)
		}
	}
	if capacity > 0 {
		cfg.OfferCapacity = capacity
	}
	cfg.SkipErrors = true

	eng, err := trove.New(cfg, trove.WithLogger(log))
	if err != nil {
		exitf("%v", err)
	}
	start := time.Now()
	stats, err := eng.Load(hotelsPath, offersPath)
	if err != nil {
		exitf("load: %v", err)
	}
	log.Info().
		Int("hotels", stats.Hotels).
		Int("offers", stats.OffersAppended).
		Int("dropped", stats.OffersDropped).
		Str("resident", stats.MemoryFootprint()).
		Dur("elapsed", time.Since(start)).
		Msg("dataset loaded")

	crit, err := criteria()
	if err != nil {
		exitf("%v", err)
	}
	ctx := context.Background()
	if hotelID != 0 {
		res, err := eng.OffersForHotel(ctx, uint32(hotelID), *crit)
		if err != nil {
			exitf("query: %v", err)
		}
		printOffers(res)
		return
	}
	res, err := eng.BestByHotel(ctx, *crit)
	if err != nil {
		exitf("query: %v", err)
	}
	printBest(res)
}

func criteria() (*query.Criteria, error) {
	c := &query.Criteria{
		DepartureAirports: splitList(airports),
		MealTypes:         splitList(mealTypes),
		RoomTypes:         splitList(roomTypes),
	}
	var err error
	if c.EarliestDeparture, err = parseDate(earliest); err != nil {
		return nil, err
	}
	if c.LatestReturn, err = parseDate(latest); err != nil {
		return nil, err
	}
	if flagSet("adults") {
		v := uint8(adults)
		c.Adults = &v
	}
	if flagSet("children") {
		v := uint8(children)
		c.Children = &v
	}
	if flagSet("duration") {
		v := uint16(duration)
		c.Duration = &v
	}
	if oceanView != "" {
		v, err := strconv.ParseBool(oceanView)
		if err != nil {
			return nil, fmt.Errorf("bad -oceanview %q", oceanView)
		}
		c.OceanView = &v
	}
	if flagSet("minprice") {
		v := float32(minPrice)
		c.MinPrice = &v
	}
	if flagSet("maxprice") {
		v := float32(maxPrice)
		c.MaxPrice = &v
	}
	return c, nil
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func parseDate(s string) (date.Millis, error) {
	if s == "" {
		return 0, nil
	}
	m, ok := date.Parse([]byte(s))
	if !ok {
		return 0, fmt.Errorf("bad date %q", s)
	}
	return m, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func printBest(res *query.BestResult) {
	for _, n := range res.Notes {
		fmt.Printf("# note: %s\n", n)
	}
	fmt.Printf("%-8s %-32s %-5s %-9s %-7s %-12s %-12s\n",
		"HOTEL", "NAME", "STARS", "MIN", "OFFERS", "DEPARTURE", "RETURN")
	for i, it := range res.Items {
		if i == limit {
			fmt.Printf("... %d more\n", len(res.Items)-limit)
			break
		}
		fmt.Printf("%-8d %-32s %-5.1f %-9.2f %-7d %-12s %-12s\n",
			it.HotelID, clip(it.HotelName, 32), it.HotelStars, it.MinPrice,
			it.AvailableOffers,
			it.Departure.Time().Format("2006-01-02"),
			it.Return.Time().Format("2006-01-02"))
	}
}

func printOffers(res *query.OffersResult) {
	for _, n := range res.Notes {
		fmt.Printf("# note: %s\n", n)
	}
	fmt.Printf("%-9s %-12s %-12s %-5s %-5s %-12s %-14s %-5s\n",
		"PRICE", "DEPARTURE", "RETURN", "FROM", "TO", "MEAL", "ROOM", "DAYS")
	for i, it := range res.Items {
		if i == limit {
			fmt.Printf("... %d more\n", len(res.Items)-limit)
			break
		}
		fmt.Printf("%-9.2f %-12s %-12s %-5s %-5s %-12s %-14s %-5d\n",
			it.Price,
			it.OutDeparture.Time().Format("2006-01-02"),
			it.InDeparture.Time().Format("2006-01-02"),
			it.OutDepAirport, it.OutArrAirport,
			clip(it.MealType, 12), clip(it.RoomType, 14), it.Duration)
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
