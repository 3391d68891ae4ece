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
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"sigs.k8s.io/yaml"

	"github.com/offertrove/trove/query"
)

// Config tunes the engine. The zero value works;
// every field has a sensible default.
type Config struct {
	// OfferCapacity is the fixed row capacity of the
	// columnar store. All column arrays are allocated
	// up front from this, so size it to the expected
	// feed (production runs use ~100M).
	OfferCapacity int `json:"offer_capacity"`
	// MemoryCeiling bounds the heap the governor
	// classifies pressure against; e.g. "12GiB".
	// Zero autodetects from the cgroup/host.
	MemoryCeiling datasize.ByteSize `json:"memory_ceiling"`
	// SkipErrors makes malformed input records
	// count-and-skip instead of failing the load.
	SkipErrors bool `json:"skip_errors"`
	// IndexKeyCap is the per-column distinct-key
	// budget of the index builder.
	IndexKeyCap int `json:"index_key_cap"`
	// IndexParallel bounds index-build fan-out.
	IndexParallel int `json:"index_parallel"`
	// ProgressBatch is the offer-row granularity of
	// progress events.
	ProgressBatch int `json:"progress_batch"`

	// MaxResultsPerHotel caps offers-for-hotel results.
	MaxResultsPerHotel int `json:"max_results_per_hotel"`
	// ChunkSize is the streaming-execution window.
	ChunkSize int `json:"chunk_size"`
	// QueryParallel bounds executor chunk workers.
	QueryParallel int `json:"query_parallel"`
	// StreamRows forces streaming execution above
	// this row count.
	StreamRows int `json:"stream_rows"`
	// StreamHeap forces streaming execution above
	// this live heap size; e.g. "3GiB".
	StreamHeap datasize.ByteSize `json:"stream_heap"`
	// TrimUnderPressure lets the governor narrow
	// query criteria in production.
	TrimUnderPressure bool `json:"trim_under_pressure"`
	// CacheEntries sizes the query result cache;
	// zero disables it.
	CacheEntries int `json:"cache_entries"`
	// QueryTimeout is the default per-query deadline,
	// in time.ParseDuration syntax ("5s").
	QueryTimeout string `json:"query_timeout"`
}

// DefaultOfferCapacity fits the usual full feed with
// some headroom while staying well under the memory
// of the boxes this runs on.
const DefaultOfferCapacity = 110_000_000

func (c *Config) init() error {
	if c.OfferCapacity <= 0 {
		c.OfferCapacity = DefaultOfferCapacity
	}
	if c.ProgressBatch <= 0 {
		c.ProgressBatch = 1_000_000
	}
	if c.QueryTimeout != "" {
		if _, err := time.ParseDuration(c.QueryTimeout); err != nil {
			return fmt.Errorf("trove: bad query_timeout: %w", err)
		}
	}
	return nil
}

// queryConfig projects the flat file-facing fields
// into the executor's configuration.
func (c *Config) queryConfig() query.Config {
	qc := query.Config{
		MaxResultsPerHotel: c.MaxResultsPerHotel,
		ChunkSize:          c.ChunkSize,
		Parallel:           c.QueryParallel,
		StreamRows:         c.StreamRows,
		StreamHeapBytes:    int64(c.StreamHeap.Bytes()),
		TrimUnderPressure:  c.TrimUnderPressure,
		CacheEntries:       c.CacheEntries,
	}
	if c.QueryTimeout != "" {
		qc.DefaultTimeout, _ = time.ParseDuration(c.QueryTimeout)
	}
	return qc
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	var c Config
	buf, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.UnmarshalStrict(buf, &c); err != nil {
		return c, fmt.Errorf("trove: %s: %w", path, err)
	}
	return c, nil
}
